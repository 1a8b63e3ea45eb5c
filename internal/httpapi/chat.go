package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/auth"
	"github.com/litlabs-admin/daddyjohn/internal/chat"
	"github.com/litlabs-admin/daddyjohn/internal/completion"
	"github.com/litlabs-admin/daddyjohn/internal/protocol"
)

const (
	wsReadLimit    = 64 << 10
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, err := s.tokens.VerifyHeader(r.Header.Get("Authorization"))
	if err != nil {
		respondAuthError(w, err)
		return
	}

	req, err := decodeChatRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	reply, err := s.chat.Handle(r.Context(), id, req.Message)
	if err != nil {
		status, message := chatErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("chat request failed", zap.String("user_id", id.UserID), zap.Error(err))
		}
		respondError(w, status, message)
		return
	}
	respondJSON(w, http.StatusOK, protocol.ChatResponse{Reply: reply})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	var (
		id  auth.Identity
		err error
	)
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		id, err = s.tokens.Verify(token)
	} else {
		id, err = s.tokens.VerifyHeader(r.Header.Get("Authorization"))
	}
	if err != nil {
		respondAuthError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ActiveSockets.Inc()
		defer s.metrics.ActiveSockets.Dec()
	}
	s.logger.Info("chat socket connected", zap.String("user_id", id.UserID))

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("chat socket read failed", zap.String("user_id", id.UserID), zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		if err := s.writeFrame(conn, s.answerFrame(ctx, id, data)); err != nil {
			s.logger.Debug("chat socket write failed", zap.String("user_id", id.UserID), zap.Error(err))
			break
		}
	}
	s.logger.Info("chat socket closed", zap.String("user_id", id.UserID))
}

// answerFrame turns one client frame into the reply frame. Frames on a
// connection are answered in order.
func (s *Server) answerFrame(ctx context.Context, id auth.Identity, data []byte) (frame any) {
	parsed, err := protocol.ParseClientMessage(data)
	if err != nil {
		return protocol.ErrorEvent{
			Type:  protocol.TypeErrorEvent,
			Code:  "invalid_client_message",
			Error: msgInvalidJSON,
		}
	}
	msg := parsed.(protocol.ChatMessage)

	// The connection is hijacked, so a panic cannot become a 500 here.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("chat frame panicked",
				zap.String("user_id", id.UserID),
				zap.String("request_id", msg.RequestID),
				zap.Any("panic", rec),
			)
			frame = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				RequestID: msg.RequestID,
				Code:      "internal",
				Error:     msgInternal,
			}
		}
	}()

	reply, err := s.chat.Handle(ctx, id, msg.Message)
	if err != nil {
		_, message := chatErrorStatus(err)
		kind := completion.KindOf(err)
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			RequestID: msg.RequestID,
			Code:      chatErrorCode(err),
			Error:     message,
			Retryable: kind == completion.Timeout || kind == completion.TransportFailure,
		}
	}
	return protocol.ChatReply{
		Type:      protocol.TypeChatReply,
		RequestID: msg.RequestID,
		Reply:     reply,
	}
}

// decodeChatRequest rejects bodies that carry no fields at all, such as
// null or {}. An object without a message key decodes to an empty message.
func decodeChatRequest(r *http.Request) (protocol.ChatRequest, error) {
	var fields map[string]json.RawMessage
	if err := decodeJSON(r, &fields); err != nil {
		return protocol.ChatRequest{}, err
	}
	if len(fields) == 0 {
		return protocol.ChatRequest{}, errEmptyBody
	}
	var req protocol.ChatRequest
	if raw, ok := fields["message"]; ok {
		if err := json.Unmarshal(raw, &req.Message); err != nil {
			return protocol.ChatRequest{}, err
		}
	}
	return req, nil
}

func (s *Server) writeFrame(conn *websocket.Conn, frame any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}

func chatErrorStatus(err error) (int, string) {
	var ve *chat.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Error()
	}
	if completion.KindOf(err) != "" {
		return http.StatusServiceUnavailable, msgUpstreamDown
	}
	return http.StatusInternalServerError, msgInternal
}

func chatErrorCode(err error) string {
	var ve *chat.ValidationError
	if errors.As(err, &ve) {
		return string(ve.Kind)
	}
	if kind := completion.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

func respondAuthError(w http.ResponseWriter, err error) {
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		respondError(w, http.StatusUnauthorized, ae.Message)
		return
	}
	respondError(w, http.StatusUnauthorized, "Invalid or expired token")
}
