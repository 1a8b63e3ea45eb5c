package memory

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when a database URL is configured,
// a sqlite store when only a file path is set, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(ctx, sqlitePath)
	}
	return NewInMemoryStore(), nil
}

// Mode names the backend a store was built with.
func Mode(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *SQLiteStore:
		return "sqlite"
	case *InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}
