// Package identity implements the Identity & Directory component (C1):
// bearer token verification, connect-code issuance, and friendship
// bookkeeping, backed by an embedded SQLite database.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1; to add a
// migration, append a new string — never edit or reorder existing ones.
var migrations = []string{
	// v1 — connect codes, one per user, unique across all users.
	`CREATE TABLE IF NOT EXISTS connect_codes (
		user_id TEXT PRIMARY KEY,
		code    TEXT NOT NULL UNIQUE
	)`,
	// v2 — friendship edges, stored as two directed rows per pair.
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id   TEXT NOT NULL,
		friend_id TEXT NOT NULL,
		PRIMARY KEY (user_id, friend_id)
	)`,
	// v3 — enable WAL so connect-code/friendship reads don't serialize
	// behind a writer.
	`PRAGMA journal_mode=WAL`,
}

// ErrAlreadyFriends is returned when a friendship edge already exists.
var ErrAlreadyFriends = errors.New("already friends")

// ErrSelfFriend is returned when a and b are the same user id.
var ErrSelfFriend = errors.New("cannot add yourself")

// ErrCodeNotFound is returned when no user owns the given connect code.
var ErrCodeNotFound = errors.New("connect code not found")

// Store persists connect codes and friendship edges in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) a SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral storage (tests).
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open identity database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("identity store busy_timeout", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("identity store opened", "path", path)
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("count applied migrations: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration v%d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	slog.Debug("identity store migrations applied", "version", len(migrations))
	return nil
}

// ConnectCode returns the code already assigned to userID, if any.
func (s *Store) ConnectCode(ctx context.Context, userID string) (string, bool, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT code FROM connect_codes WHERE user_id = ?`, userID).Scan(&code)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("query connect code: %w", err)
	}
	return code, true, nil
}

// tryAssignCode attempts to atomically claim code for userID. If the user
// already has a code assigned, that existing code is returned with
// ok=true. It reports ok=false (no error) if code is already taken by
// someone else — a non-fatal collision the caller should retry past.
func (s *Store) tryAssignCode(ctx context.Context, userID, code string) (assigned string, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin assign connect code: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT code FROM connect_codes WHERE user_id = ?`, userID).Scan(&existing)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("query existing connect code: %w", err)
	}

	var taken string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM connect_codes WHERE code = ?`, code).Scan(&taken)
	switch {
	case err == nil:
		return "", false, nil // code collision — caller retries with a new candidate
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("query code uniqueness: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO connect_codes (user_id, code) VALUES (?, ?)`, userID, code); err != nil {
		return "", false, fmt.Errorf("insert connect code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit connect code: %w", err)
	}
	return code, true, nil
}

// ResolveCode returns the user id owning code (case already normalized
// by the caller).
func (s *Store) ResolveCode(ctx context.Context, code string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM connect_codes WHERE code = ?`, code).Scan(&userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrCodeNotFound
	case err != nil:
		return "", fmt.Errorf("resolve connect code: %w", err)
	}
	return userID, nil
}

// AreFriends reports whether a and b have a friendship edge.
func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?`, a, b).Scan(&x)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return true, nil
}

// AddFriendship inserts both directed edges (a,b) and (b,a) atomically.
// Fails with ErrSelfFriend if a == b, ErrAlreadyFriends if the edge
// already exists.
func (s *Store) AddFriendship(ctx context.Context, a, b string) error {
	if a == b {
		return ErrSelfFriend
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add friendship: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var x int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?`, a, b).Scan(&x)
	switch {
	case err == nil:
		return ErrAlreadyFriends
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check friendship: %w", err)
	}

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO friendships (user_id, friend_id) VALUES (?, ?)`, pair[0], pair[1]); err != nil {
			return fmt.Errorf("insert friendship edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit friendship: %w", err)
	}
	return nil
}

// ListFriendIDs returns every user id with a directed edge from userID.
func (s *Store) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY friend_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// NormalizeCode upper-cases a user-supplied code for case-insensitive
// lookup, trimming incidental whitespace.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
