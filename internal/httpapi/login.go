package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/auth"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
	"github.com/litlabs-admin/daddyjohn/internal/policy"
	"github.com/litlabs-admin/daddyjohn/internal/protocol"
)

const (
	msgCredentialsRequired = "Email and password are required"
	msgLoginUnavailable    = "Login service temporarily unavailable"
	msgBadCredentials      = "Invalid email or password"
	msgInactive            = "Account is not active"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.loginResult("invalid_body")
		respondError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	email := strings.ToLower(policy.Sanitize(req.Email))
	if email == "" || req.Password == "" {
		s.loginResult("missing_fields")
		respondError(w, http.StatusBadRequest, msgCredentialsRequired)
		return
	}

	user, err := s.users.FindInvitedUser(r.Context(), email)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		s.loginResult("unknown_user")
		respondError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	case err != nil:
		s.logger.Error("login lookup failed", zap.String("email", policy.MaskEmail(email)), zap.Error(err))
		s.loginResult("store_error")
		respondError(w, http.StatusServiceUnavailable, msgLoginUnavailable)
		return
	}

	if !user.IsActive {
		s.loginResult("inactive")
		respondError(w, http.StatusUnauthorized, msgInactive)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.loginResult("bad_password")
		respondError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.logger.Error("issue token failed", zap.String("user_id", user.ID), zap.Error(err))
		s.loginResult("token_error")
		respondError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("email", policy.MaskEmail(user.Email)))
	s.loginResult("ok")
	respondJSON(w, http.StatusOK, protocol.LoginResponse{
		Token: token,
		User:  protocol.LoginUser{ID: user.ID, Email: user.Email},
	})
}

func (s *Server) loginResult(result string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}
