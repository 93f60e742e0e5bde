// Package registry provides a SQLite-backed index of sessions and their
// derived phases, maintained incrementally from store notifications so
// listing sessions never rescans every session directory.
package registry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	phase           TEXT NOT NULL DEFAULT 'created',
	current_version INTEGER NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_phase ON sessions(phase);
`

// Row is one indexed session.
type Row struct {
	ID             string       `json:"id"`
	Phase          models.Phase `json:"phase"`
	CurrentVersion int          `json:"currentVersion"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Registry wraps the sessions index. It implements store.Observer so phase
// changes land here as they happen.
type Registry struct {
	conn *sql.DB
	log  *slog.Logger
}

// Verify Registry satisfies store.Observer at compile time.
var _ store.Observer = (*Registry)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string, log *slog.Logger) (*Registry, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("registry: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registry: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registry: apply schema: %w", err)
	}
	return &Registry{conn: conn, log: log}, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.conn.Close()
}

// ArtifactWritten upserts the session's phase and version.
func (r *Registry) ArtifactWritten(sessionID string, phase models.Phase, version int) {
	_, err := r.conn.Exec(`
		INSERT INTO sessions (id, phase, current_version, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			current_version = excluded.current_version,
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, string(phase), version)
	if err != nil {
		r.log.Error("registry upsert failed", "session", sessionID, "error", err)
	}
}

// SessionDeleted removes the session from the index.
func (r *Registry) SessionDeleted(sessionID string) {
	if _, err := r.conn.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		r.log.Error("registry delete failed", "session", sessionID, "error", err)
	}
}

// Get returns one session's row, or nil when it is not indexed.
func (r *Registry) Get(sessionID string) (*Row, error) {
	row := r.conn.QueryRow(`SELECT id, phase, current_version, updated_at FROM sessions WHERE id = ?`, sessionID)
	var out Row
	var phase string
	if err := row.Scan(&out.ID, &phase, &out.CurrentVersion, &out.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: get %s: %w", sessionID, err)
	}
	out.Phase = models.Phase(phase)
	return &out, nil
}

// List returns indexed sessions newest first, optionally filtered by phase.
func (r *Registry) List(phase models.Phase) ([]Row, error) {
	query := `SELECT id, phase, current_version, updated_at FROM sessions`
	args := []any{}
	if phase != "" {
		query += ` WHERE phase = ?`
		args = append(args, string(phase))
	}
	query += ` ORDER BY id DESC`

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var row Row
		var p string
		if err := rows.Scan(&row.ID, &p, &row.CurrentVersion, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan row: %w", err)
		}
		row.Phase = models.Phase(p)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Rescan rebuilds the index from the store. Used at startup to recover from
// missed notifications or out-of-band edits to the data directory.
func (r *Registry) Rescan(st *store.Store) error {
	ids, err := st.ListSessions()
	if err != nil {
		return fmt.Errorf("registry: rescan: %w", err)
	}

	if _, err := r.conn.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("registry: rescan clear: %w", err)
	}
	for _, id := range ids {
		state, err := st.State(id)
		if err != nil {
			r.log.Warn("rescan skipping session", "session", id, "error", err)
			continue
		}
		version, _ := st.CurrentVersion(id)
		r.ArtifactWritten(id, state.Phase, version)
	}
	r.log.Info("registry rescan complete", "sessions", len(ids))
	return nil
}
