package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode lets history reads proceed while a turn is being saved.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		entities_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession retrieves a session and its turns.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, entities_json, created_at, last_activity_at
		FROM sessions WHERE session_id = ?`, sessionID)

	var sess domain.Session
	var entitiesJSON string
	var createdAt, lastActivity int64
	err := row.Scan(&sess.ID, &entitiesJSON, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(entitiesJSON), &sess.Entities); err != nil {
		return nil, fmt.Errorf("decode entities for %s: %w", sessionID, err)
	}
	if sess.Entities == nil {
		sess.Entities = make(map[string]string)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.LastActivity = time.UnixMilli(lastActivity)

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload_json FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		var turn domain.Turn
		if err := json.Unmarshal([]byte(payload), &turn); err != nil {
			return nil, fmt.Errorf("decode turn for %s: %w", sessionID, err)
		}
		sess.Turns = append(sess.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return &sess, nil
}

// UpsertSession creates or overwrites a session. Turns are append-only, so
// only turns not yet stored are inserted.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	entitiesJSON, err := json.Marshal(sess.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}

	payloads := make([][]byte, len(sess.Turns))
	for i, turn := range sess.Turns {
		if payloads[i], err = json.Marshal(turn); err != nil {
			return fmt.Errorf("encode turn %d: %w", turn.Seq, err)
		}
	}

	return s.withWriteRetry(ctx, sess.ID, func() error {
		return s.upsertTx(ctx, sess, entitiesJSON, payloads)
	})
}

func (s *SQLiteStore) upsertTx(ctx context.Context, sess *domain.Session, entitiesJSON []byte, payloads [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
	INSERT INTO sessions (session_id, entities_json, created_at, last_activity_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		entities_json = excluded.entities_json,
		created_at = excluded.created_at,
		last_activity_at = excluded.last_activity_at,
		updated_at = excluded.updated_at`,
		sess.ID, string(entitiesJSON), sess.CreatedAt.UnixMilli(), sess.LastActivity.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	// Drop stored turns the caller no longer has, so Save is a true overwrite.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND seq > ?`, sess.ID, len(sess.Turns)); err != nil {
		return fmt.Errorf("trim turns: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("read turn count: %w", err)
	}

	for i := stored; i < len(sess.Turns); i++ {
		turn := sess.Turns[i]
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, payload_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET payload_json = excluded.payload_json`,
			sess.ID, i+1, string(payloads[i]), turn.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert turn %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its turns.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.withWriteRetry(ctx, sessionID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return tx.Commit()
	})
}

// ListIdleSessions returns sessions whose last activity is before cutoff.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE last_activity_at < ? ORDER BY last_activity_at ASC`,
		cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// withWriteRetry runs op under the write mutex, retrying SQLITE_BUSY and
// "database is locked" failures with exponential backoff.
func (s *SQLiteStore) withWriteRetry(ctx context.Context, sessionID string, op func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for i := 0; i < writeRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Session write hit SQLITE_BUSY, retrying",
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
