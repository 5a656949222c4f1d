// Package statsdb is an optional SQLite-backed ledger of cache hit/miss/
// spawn counters, rolled up per command label per day.
package statsdb

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS stats (
	day       TEXT NOT NULL,
	label     TEXT NOT NULL,
	hits      INTEGER NOT NULL DEFAULT 0,
	misses    INTEGER NOT NULL DEFAULT 0,
	spawns    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, label)
);
`

// DB is a handle to the stats ledger. It is safe for concurrent use by
// multiple goroutines (database/sql pools connections internally).
type DB struct {
	sql *sql.DB
}

// Open opens (creating if absent) the SQLite stats database at path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, bkterrors.IOFailure("failed to open stats database "+path, err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, bkterrors.IOFailure("failed to initialize stats schema", err)
	}
	return &DB{sql: sqlDB}, nil
}

// Close releases the underlying database handle.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return db.sql.Close()
}

func (db *DB) bump(label, column string) {
	if db == nil {
		return
	}
	day := time.Now().UTC().Format("2006-01-02")
	query := `INSERT INTO stats (day, label, ` + column + `) VALUES (?, ?, 1)
		ON CONFLICT(day, label) DO UPDATE SET ` + column + ` = ` + column + ` + 1`
	if _, err := db.sql.Exec(query, day, label); err != nil {
		log.Debug().Err(err).Str("label", label).Str("column", column).Msg("failed to record stat")
	}
}

// RecordHit increments today's hit counter for label.
func (db *DB) RecordHit(label string) { db.bump(label, "hits") }

// RecordMiss increments today's miss counter for label.
func (db *DB) RecordMiss(label string) { db.bump(label, "misses") }

// RecordSpawn increments today's spawn counter for label.
func (db *DB) RecordSpawn(label string) { db.bump(label, "spawns") }

// Row is one day/label rollup.
type Row struct {
	Day    string
	Label  string
	Hits   int64
	Misses int64
	Spawns int64
}

// All returns every rollup row, most recent day first.
func (db *DB) All() ([]Row, error) {
	rows, err := db.sql.Query(`SELECT day, label, hits, misses, spawns FROM stats ORDER BY day DESC, label ASC`)
	if err != nil {
		return nil, bkterrors.IOFailure("failed to query stats", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Day, &r.Label, &r.Hits, &r.Misses, &r.Spawns); err != nil {
			return nil, bkterrors.CorruptCache("failed to scan stats row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
