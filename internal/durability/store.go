// Package durability implements the debounced durable-storage layer
// (spec component C5): a Postgres-backed document table plus a
// quiescence-window writer that coalesces bursts of edits into a single
// write per document.
package durability

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/shiv248/kolabrooms/internal/room"
)

// Store wraps a Postgres connection holding the document_state table
// described in spec.md section 6.3.
type Store struct {
	db *sql.DB
}

// Config assembles a Postgres DSN from the discrete fields spec.md
// section 6.4 names (DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c Config) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslmode)
}

// Open connects to Postgres and runs pending migrations.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitDocuments seeds an empty row for each document id that does not
// already have one, so a fresh room has something to load on restart
// even before its first edit.
func (s *Store) InitDocuments(code string, ids []int) error {
	for _, id := range ids {
		_, err := s.db.Exec(`
			INSERT INTO document_state (room_code, editor_id, content, revision)
			VALUES ($1, $2, '', 0)
			ON CONFLICT (room_code, editor_id) DO NOTHING
		`, code, id)
		if err != nil {
			return fmt.Errorf("init document %s/%d: %w", code, id, err)
		}
	}
	return nil
}

// LoadDocuments returns every persisted document for a room, as used to
// revive a room after a process restart (spec.md section 4.5).
func (s *Store) LoadDocuments(code string) ([]room.PersistedDocument, error) {
	rows, err := s.db.Query(`
		SELECT editor_id, content, revision FROM document_state WHERE room_code = $1 ORDER BY editor_id
	`, code)
	if err != nil {
		return nil, fmt.Errorf("load documents for %s: %w", code, err)
	}
	defer rows.Close()

	var out []room.PersistedDocument
	for rows.Next() {
		var pd room.PersistedDocument
		if err := rows.Scan(&pd.ID, &pd.Content, &pd.Revision); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

// saveDocument writes one document's current state, overwriting any
// prior row. Called only from the debounced Writer, never directly from
// the hot edit path.
func (s *Store) saveDocument(code string, id int, content string, revision int) error {
	_, err := s.db.Exec(`
		INSERT INTO document_state (room_code, editor_id, content, revision, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (room_code, editor_id) DO UPDATE SET
			content = excluded.content,
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`, code, id, content, revision)
	if err != nil {
		return fmt.Errorf("save document %s/%d: %w", code, id, err)
	}
	return nil
}

// CleanupRoom deletes every persisted row for a room, called when a room
// closes or expires.
func (s *Store) CleanupRoom(code string) error {
	_, err := s.db.Exec(`DELETE FROM document_state WHERE room_code = $1`, code)
	if err != nil {
		return fmt.Errorf("cleanup room %s: %w", code, err)
	}
	return nil
}
