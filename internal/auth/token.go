package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long an issued session token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// Identity is the caller embedded in a verified session token.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// ErrorKind classifies authentication failures.
type ErrorKind string

const (
	MissingHeader    ErrorKind = "missing_header"
	MalformedHeader  ErrorKind = "malformed_header"
	InvalidOrExpired ErrorKind = "invalid_or_expired"
)

// AuthError is returned by header parsing and token verification.
// Message is safe to show to the caller.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsKind reports whether err is an AuthError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

type claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Authority issues and verifies HS256 session tokens with a shared secret.
// It keeps no state beyond the secret.
type Authority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthority(secret []byte, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authority{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the time source used for issuing and verifying.
func (a *Authority) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.now = now
}

func (a *Authority) Issue(userID, email string) (string, error) {
	issuedAt := a.now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(a.ttl)),
		},
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Authority) Verify(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Identity{}, &AuthError{Kind: InvalidOrExpired, Message: "Invalid or expired token", Err: err}
	}
	if strings.TrimSpace(c.UserID) == "" {
		return Identity{}, &AuthError{Kind: InvalidOrExpired, Message: "Invalid or expired token"}
	}
	return Identity{UserID: c.UserID, Email: c.Email}, nil
}

// VerifyHeader validates an Authorization header of the form "Bearer <token>".
func (a *Authority) VerifyHeader(header string) (Identity, error) {
	if header == "" {
		return Identity{}, &AuthError{Kind: MissingHeader, Message: "Missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, &AuthError{Kind: MalformedHeader, Message: "Invalid Authorization header format"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return Identity{}, &AuthError{Kind: MalformedHeader, Message: "Missing token"}
	}
	return a.Verify(token)
}
