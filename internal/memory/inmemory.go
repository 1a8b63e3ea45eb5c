package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	turns     map[string][]Turn
	summaries map[string][]Summary
	users     map[string]InvitedUser
	now       func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:     make(map[string][]Turn),
		summaries: make(map[string][]Summary),
		users:     make(map[string]InvitedUser),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) AppendTurn(_ context.Context, userID, role, content string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.turns[userID] = append(s.turns[userID], t)
	return t, nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) AppendSummary(_ context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[userID] = append(s.summaries[userID], Summary{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *InMemoryStore) LatestSummary(_ context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.summaries[userID]
	if len(arr) == 0 {
		return "", false, nil
	}
	return arr[len(arr)-1].Text, true, nil
}

func (s *InMemoryStore) FindInvitedUser(_ context.Context, email string) (InvitedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[normalizeEmail(email)]
	if !ok {
		return InvitedUser{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) CreateInvitedUser(_ context.Context, email, passwordHash string, active bool) (InvitedUser, error) {
	email = normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return InvitedUser{}, ErrUserExists
	}
	u := InvitedUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     active,
		CreatedAt:    s.now(),
	}
	s.users[email] = u
	return u, nil
}

func (s *InMemoryStore) ListInvitedUsers(_ context.Context) ([]InvitedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InvitedUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) SetUserActive(_ context.Context, email string, active bool) error {
	email = normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	s.users[email] = u
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
