package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation history and accounts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_user_created ON summaries (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS invited_users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, userID, role, content string) (Turn, error) {
	t := Turn{UserID: userID, Role: role, Content: content}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (user_id, role, content) VALUES ($1, $2, $3) RETURNING id, created_at`,
		userID, role, content,
	).Scan(&id, &t.CreatedAt)
	if err != nil {
		return Turn{}, unavailable("append turn", err)
	}
	t.ID = strconv.FormatInt(id, 10)
	return t, nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, content, created_at
		 FROM messages WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, unavailable("query recent turns", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t  Turn
			id int64
		)
		if err := rows.Scan(&id, &t.UserID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, unavailable("scan turn row", err)
		}
		t.ID = strconv.FormatInt(id, 10)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate turn rows", err)
	}

	reverseTurns(items)
	return items, nil
}

func (s *PostgresStore) AppendSummary(ctx context.Context, userID, text string) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO summaries (user_id, summary_text) VALUES ($1, $2)`,
		userID, text,
	); err != nil {
		return unavailable("append summary", err)
	}
	return nil
}

func (s *PostgresStore) LatestSummary(ctx context.Context, userID string) (string, bool, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT summary_text FROM summaries WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("latest summary", err)
	}
	return text, true, nil
}

func (s *PostgresStore) FindInvitedUser(ctx context.Context, email string) (InvitedUser, error) {
	var u InvitedUser
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at FROM invited_users WHERE email=$1`,
		normalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvitedUser{}, ErrNotFound
	}
	if err != nil {
		return InvitedUser{}, unavailable("find invited user", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateInvitedUser(ctx context.Context, email, passwordHash string, active bool) (InvitedUser, error) {
	u := InvitedUser{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		IsActive:     active,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO invited_users (id, email, password_hash, is_active) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash, u.IsActive,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return InvitedUser{}, ErrUserExists
		}
		return InvitedUser{}, unavailable("create invited user", err)
	}
	return u, nil
}

func (s *PostgresStore) ListInvitedUsers(ctx context.Context) ([]InvitedUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, password_hash, is_active, created_at FROM invited_users ORDER BY created_at, email`)
	if err != nil {
		return nil, unavailable("list invited users", err)
	}
	defer rows.Close()

	var out []InvitedUser
	for rows.Next() {
		var u InvitedUser
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, unavailable("scan invited user", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate invited users", err)
	}
	return out, nil
}

func (s *PostgresStore) SetUserActive(ctx context.Context, email string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invited_users SET is_active=$1 WHERE email=$2`,
		active, normalizeEmail(email),
	)
	if err != nil {
		return unavailable("set user active", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// reverseTurns flips newest-first rows into chronological order.
func reverseTurns(items []Turn) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
