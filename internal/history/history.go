// Package history keeps an optional append-only journal of completed scan
// sessions in SQLite. It is write-only from the scanner's point of view:
// a new session never reads it back, so the in-session registry stays
// authoritative and non-persistent.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bluescan/internal/observation"
)

// Journal records finished sessions and their sightings.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return j, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scan_sessions (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		elapsed_seconds REAL NOT NULL,
		devices_found INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sightings (
		session_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		address TEXT,
		name TEXT NOT NULL,
		rssi INTEGER,
		manufacturer_data JSON,
		first_seen_at DATETIME NOT NULL,
		last_updated_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, identity),
		FOREIGN KEY (session_id) REFERENCES scan_sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sightings_identity ON sightings(identity);
	`

	_, err := j.db.Exec(schema)
	return err
}

// SessionEntry describes one recorded session.
type SessionEntry struct {
	ID           string
	Channel      string
	StartedAt    time.Time
	Elapsed      time.Duration
	DevicesFound int
}

// Record appends one finished session with its device records and returns
// the generated session id.
func (j *Journal) Record(ctx context.Context, channel string, startedAt time.Time, elapsed time.Duration, recs []*observation.Record) (string, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scan_sessions (id, channel, started_at, elapsed_seconds, devices_found)
		VALUES (?, ?, ?, ?, ?)
	`, id, channel, startedAt.UTC(), elapsed.Seconds(), len(recs)); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	for _, rec := range recs {
		mdata, err := marshalVendor(rec.Vendor)
		if err != nil {
			return "", fmt.Errorf("encode manufacturer data for %s: %w", rec.Identity, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sightings (session_id, identity, address, name, rssi, manufacturer_data, first_seen_at, last_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, rec.Identity, stringToNull(rec.Address), rec.Name, rssiToNull(rec.RSSI),
			mdata, rec.FirstSeenAt.UTC(), rec.LastUpdatedAt.UTC()); err != nil {
			return "", fmt.Errorf("insert sighting %s: %w", rec.Identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit journal tx: %w", err)
	}
	return id, nil
}

// Sessions lists recorded sessions, most recent first.
func (j *Journal) Sessions(ctx context.Context) ([]SessionEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, channel, started_at, elapsed_seconds, devices_found
		FROM scan_sessions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var entries []SessionEntry
	for rows.Next() {
		var (
			e       SessionEntry
			elapsed float64
		)
		if err := rows.Scan(&e.ID, &e.Channel, &e.StartedAt, &elapsed, &e.DevicesFound); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.Elapsed = time.Duration(elapsed * float64(time.Second))
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SightingCount returns how many sightings a session recorded.
func (j *Journal) SightingCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sightings WHERE session_id = ?
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sightings: %w", err)
	}
	return n, nil
}

// marshalVendor encodes a vendor map the same way the export codec does:
// hex payloads keyed by the fixed-width vendor tag.
func marshalVendor(m observation.VendorMap) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	out := make(map[string]string, len(m))
	for _, code := range m.Codes() {
		out[observation.VendorTag(code)] = m[code].Hex()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// stringToNull converts an empty string to SQL NULL.
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// rssiToNull converts an absent signal strength to SQL NULL.
func rssiToNull(v *int16) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
