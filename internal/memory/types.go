package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUserExists  = errors.New("user already exists")
	ErrUnavailable = errors.New("persistence unavailable")
)

// Turn stores a single user or assistant conversational turn.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is a compacted description of older turns.
type Summary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"summary_text"`
	CreatedAt time.Time `json:"created_at"`
}

// InvitedUser is an account allowed to log in.
type InvitedUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists conversation history, summaries and invited accounts.
type Store interface {
	AppendTurn(ctx context.Context, userID, role, content string) (Turn, error)
	// RecentTurns returns up to limit of the newest turns in chronological order.
	RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
	AppendSummary(ctx context.Context, userID, text string) error
	// LatestSummary reports false when the user has no summary yet.
	LatestSummary(ctx context.Context, userID string) (string, bool, error)

	FindInvitedUser(ctx context.Context, email string) (InvitedUser, error)
	CreateInvitedUser(ctx context.Context, email, passwordHash string, active bool) (InvitedUser, error)
	ListInvitedUsers(ctx context.Context) ([]InvitedUser, error)
	SetUserActive(ctx context.Context, email string, active bool) error

	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
