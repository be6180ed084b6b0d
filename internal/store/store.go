package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no live row.
var ErrNotFound = errors.New("store: not found")

// Pending is a verification the user has started but not yet confirmed.
type Pending struct {
	UserID         string
	RobloxUserID   int64
	RobloxUsername string
	Code           string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the pending row is no longer usable at now.
func (p Pending) Expired(now time.Time) bool { return !now.Before(p.ExpiresAt) }

// Verified links a Discord user to a Roblox account.
type Verified struct {
	UserID         string
	RobloxUserID   int64
	RobloxUsername string
	VerifiedAt     time.Time
}

// BlacklistedGroup is a Roblox group whose members may not verify.
type BlacklistedGroup struct {
	GroupID int64
	AddedAt time.Time
}

// DB is the verification store. It speaks SQLite (modernc.org/sqlite) or
// Postgres (pgx stdlib) depending on the DSN passed to Open.
type DB struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
	now     func() time.Time
}

// Open selects the driver from the DSN, verifies the connection and
// returns the handle. Supported:
//   - postgres: "postgres://..." or "postgresql://..."
//   - sqlite:   "sqlite:///<path>", "sqlite://:memory:" or a bare path
func Open(ctx context.Context, dsn string) (*DB, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN")
	}
	ld := strings.ToLower(d)
	drv, dialect, path := "sqlite", "sqlite", d
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		drv, dialect = "pgx", "postgres"
	case strings.HasPrefix(ld, "sqlite://"):
		path = d[len("sqlite://"):]
	case strings.Contains(d, "://"):
		return nil, fmt.Errorf("unsupported DSN scheme: %s", d[:strings.Index(d, "://")])
	}
	db, err := sql.Open(drv, path)
	if err != nil {
		return nil, err
	}
	if dialect == "sqlite" {
		// one connection keeps :memory: coherent and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=3000;")
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	s := &DB{db: db, dialect: dialect, now: time.Now}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return s, nil
}

// Dialect returns "sqlite" or "postgres".
func (s *DB) Dialect() string { return s.dialect }

func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) Close() error { return s.db.Close() }

// EnsureSchema creates the tables if they are missing.
func (s *DB) EnsureSchema(ctx context.Context) error {
	ts, big := "TIMESTAMP", "INTEGER"
	if s.dialect == "postgres" {
		ts, big = "TIMESTAMPTZ", "BIGINT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_verifications(
			user_id TEXT PRIMARY KEY,
			roblox_user_id ` + big + ` NOT NULL,
			roblox_username TEXT NOT NULL,
			code TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			expires_at ` + ts + ` NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pending_expires ON pending_verifications(expires_at);`,
		`CREATE TABLE IF NOT EXISTS verified_users(
			user_id TEXT PRIMARY KEY,
			roblox_user_id ` + big + ` NOT NULL,
			roblox_username TEXT NOT NULL,
			verified_at ` + ts + ` NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blacklisted_groups(
			group_id ` + big + ` PRIMARY KEY,
			added_at ` + ts + ` NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *DB) rebind(q string) string {
	if s.dialect != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}
