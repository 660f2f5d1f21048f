package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wiremesh/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	action     TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_room ON audit_log(room_id, id DESC);
`

// SQLiteStore implements store.AuditStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordAction appends a moderation decision.
func (s *SQLiteStore) RecordAction(ctx context.Context, entry *store.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_log (room_id, actor_id, target_id, action, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		entry.RoomID, entry.ActorID, entry.TargetID, entry.Action, string(entry.Outcome), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListActions returns the newest entries for roomID, newest first.
func (s *SQLiteStore) ListActions(ctx context.Context, roomID string, limit int) ([]*store.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, room_id, actor_id, target_id, action, outcome, created_at
		FROM audit_log
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*store.AuditEntry
	for rows.Next() {
		var (
			e       store.AuditEntry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.RoomID, &e.ActorID, &e.TargetID, &e.Action, &outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Outcome = store.Outcome(outcome)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

var _ store.AuditStore = (*SQLiteStore)(nil)
