// Package journal keeps a history of catalog loads and refreshes in a
// local sqlite database so failures can be inspected after the fact.
package journal

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

const schema = `
CREATE TABLE IF NOT EXISTS refresh_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source_key  TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	records     INTEGER NOT NULL,
	warnings    INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	error       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS refresh_log_started ON refresh_log(started_at);
`

// Entry is one recorded load or refresh.
type Entry struct {
	ID        int64
	SourceKey string
	StartedAt time.Time
	Duration  time.Duration
	Records   int
	Warnings  int
	Status    string // "ok" or "error"
	Error     string
}

// Journal writes and queries the refresh log.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &source.PersistenceError{Path: path, Err: err}
	}
	// The journal is written from one process; a single connection avoids
	// SQLITE_BUSY on concurrent refreshes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &source.PersistenceError{Path: path, Err: err}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Record appends one entry. e.ID is ignored.
func (j *Journal) Record(e Entry) error {
	_, err := j.db.Exec(
		`INSERT INTO refresh_log (source_key, started_at, duration_ms, records, warnings, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SourceKey, e.StartedAt.UTC().Unix(), e.Duration.Milliseconds(),
		e.Records, e.Warnings, e.Status, e.Error,
	)
	return err
}

// Ok records a successful load.
func (j *Journal) Ok(sourceKey string, startedAt time.Time, d time.Duration, records, warnings int) error {
	return j.Record(Entry{SourceKey: sourceKey, StartedAt: startedAt, Duration: d,
		Records: records, Warnings: warnings, Status: "ok"})
}

// Fail records a failed load.
func (j *Journal) Fail(sourceKey string, startedAt time.Time, d time.Duration, loadErr error) error {
	msg := ""
	if loadErr != nil {
		msg = loadErr.Error()
	}
	return j.Record(Entry{SourceKey: sourceKey, StartedAt: startedAt, Duration: d,
		Status: "error", Error: msg})
}

// Recent returns the latest n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, source_key, started_at, duration_ms, records, warnings, status, error
		 FROM refresh_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, durMS int64
		if err := rows.Scan(&e.ID, &e.SourceKey, &started, &durMS,
			&e.Records, &e.Warnings, &e.Status, &e.Error); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(started, 0).UTC()
		e.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
