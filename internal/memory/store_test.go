package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"in-memory": NewInMemoryStore(),
		"sqlite":    sqlite,
	}
}

func TestRecentTurnsReturnsNewestInChronologicalOrder(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 25; i++ {
				_, err := s.AppendTurn(ctx, "u1", RoleUser, fmt.Sprintf("m%02d", i))
				require.NoError(t, err)
			}
			_, err := s.AppendTurn(ctx, "u2", RoleUser, "other user")
			require.NoError(t, err)

			turns, err := s.RecentTurns(ctx, "u1", 20)
			require.NoError(t, err)
			require.Len(t, turns, 20)
			assert.Equal(t, "m05", turns[0].Content)
			assert.Equal(t, "m24", turns[19].Content)
			for _, turn := range turns {
				assert.Equal(t, "u1", turn.UserID)
				assert.NotEmpty(t, turn.ID)
			}

			none, err := s.RecentTurns(ctx, "nobody", 20)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestLatestSummaryPicksNewest(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := s.LatestSummary(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.AppendSummary(ctx, "u1", "first"))
			require.NoError(t, s.AppendSummary(ctx, "u1", "second"))

			text, ok, err := s.LatestSummary(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "second", text)
		})
	}
}

func TestInvitedUserLifecycle(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateInvitedUser(ctx, " Kid@Example.COM ", "hash", true)
			require.NoError(t, err)
			assert.Equal(t, "kid@example.com", created.Email)

			_, err = s.CreateInvitedUser(ctx, "kid@example.com", "other", true)
			assert.ErrorIs(t, err, ErrUserExists)

			found, err := s.FindInvitedUser(ctx, "KID@example.com")
			require.NoError(t, err)
			assert.Equal(t, created.ID, found.ID)
			assert.Equal(t, "hash", found.PasswordHash)
			assert.True(t, found.IsActive)

			require.NoError(t, s.SetUserActive(ctx, "kid@example.com", false))
			found, err = s.FindInvitedUser(ctx, "kid@example.com")
			require.NoError(t, err)
			assert.False(t, found.IsActive)

			assert.ErrorIs(t, s.SetUserActive(ctx, "ghost@example.com", true), ErrNotFound)
			_, err = s.FindInvitedUser(ctx, "ghost@example.com")
			assert.ErrorIs(t, err, ErrNotFound)

			users, err := s.ListInvitedUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, "kid@example.com", users[0].Email)
		})
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "in-memory", Mode(s))

	s, err = NewStore(ctx, "", filepath.Join(t.TempDir(), "nested", "chat.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sqlite", Mode(s))
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := unavailable("append turn", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append turn")
}
