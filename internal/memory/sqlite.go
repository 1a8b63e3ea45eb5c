package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps history in a local SQLite file for single-node deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path, ensuring the
// parent directory exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite at %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);

		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_summaries_user_created ON summaries(user_id, created_at);

		CREATE TABLE IF NOT EXISTS invited_users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, userID, role, content string) (Turn, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, role, content, now.UnixNano(),
	)
	if err != nil {
		return Turn{}, unavailable("append turn", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Turn{}, unavailable("append turn id", err)
	}
	return Turn{
		ID:        strconv.FormatInt(id, 10),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, created_at
		 FROM messages WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, unavailable("query recent turns", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t       Turn
			id      int64
			created int64
		)
		if err := rows.Scan(&id, &t.UserID, &t.Role, &t.Content, &created); err != nil {
			return nil, unavailable("scan turn row", err)
		}
		t.ID = strconv.FormatInt(id, 10)
		t.CreatedAt = time.Unix(0, created).UTC()
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate turn rows", err)
	}

	reverseTurns(items)
	return items, nil
}

func (s *SQLiteStore) AppendSummary(ctx context.Context, userID, text string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (user_id, summary_text, created_at) VALUES (?, ?, ?)`,
		userID, text, s.now().UnixNano(),
	); err != nil {
		return unavailable("append summary", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSummary(ctx context.Context, userID string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_text FROM summaries WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("latest summary", err)
	}
	return text, true, nil
}

func (s *SQLiteStore) FindInvitedUser(ctx context.Context, email string) (InvitedUser, error) {
	var (
		u       InvitedUser
		active  int
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, is_active, created_at FROM invited_users WHERE email = ?`,
		normalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return InvitedUser{}, ErrNotFound
	}
	if err != nil {
		return InvitedUser{}, unavailable("find invited user", err)
	}
	u.IsActive = active != 0
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

func (s *SQLiteStore) CreateInvitedUser(ctx context.Context, email, passwordHash string, active bool) (InvitedUser, error) {
	u := InvitedUser{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		IsActive:     active,
		CreatedAt:    s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invited_users (id, email, password_hash, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, boolToInt(u.IsActive), u.CreatedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return InvitedUser{}, ErrUserExists
		}
		return InvitedUser{}, unavailable("create invited user", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListInvitedUsers(ctx context.Context) ([]InvitedUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, password_hash, is_active, created_at FROM invited_users ORDER BY created_at, email`)
	if err != nil {
		return nil, unavailable("list invited users", err)
	}
	defer rows.Close()

	var out []InvitedUser
	for rows.Next() {
		var (
			u       InvitedUser
			active  int
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &active, &created); err != nil {
			return nil, unavailable("scan invited user", err)
		}
		u.IsActive = active != 0
		u.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate invited users", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetUserActive(ctx context.Context, email string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invited_users SET is_active = ? WHERE email = ?`,
		boolToInt(active), normalizeEmail(email),
	)
	if err != nil {
		return unavailable("set user active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("set user active", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
