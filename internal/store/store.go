// Package store persists the datastore service's key/value pairs and
// leaderboards in SQLite. One database serves every game instance;
// rows are namespaced by store name (game key + script-chosen name).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"scriptworld/internal/services"
)

type Store struct {
	db *sql.DB
}

// New opens/creates a SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(store, key)
		);`,

		// score holds the exact decimal string; sort_key a float
		// approximation for ordering, ties broken in Go.
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			store TEXT NOT NULL,
			member TEXT NOT NULL,
			score TEXT NOT NULL,
			sort_key REAL NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(store, member)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_sort ON leaderboard_entries(store, sort_key DESC);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

// GetValue reads one key; found=false when the key has never been set.
func (s *Store) GetValue(store, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM kv_entries WHERE store = ? AND key = ?`, store, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetValue writes one key durably.
func (s *Store) SetValue(store, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv_entries (store, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		store, key, value, time.Now().UTC(),
	)
	return err
}

// Increment adds delta to a numeric key and returns the new value. A
// missing or non-numeric current value counts as zero. The stored text
// stays an exact decimal, not a float.
func (s *Store) Increment(store, key string, delta float64) (float64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(
		`SELECT value FROM kv_entries WHERE store = ? AND key = ?`, store, key,
	).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	current, parseErr := decimal.NewFromString(raw)
	if parseErr != nil {
		current = decimal.Zero
	}
	next := current.Add(decimal.NewFromFloat(delta))

	_, err = tx.Exec(
		`INSERT INTO kv_entries (store, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		store, key, next.String(), time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next.InexactFloat64(), nil
}

// SubmitScore records a leaderboard entry, keeping each member's best
// score. Scores are decimal strings so ordering is exact.
func (s *Store) SubmitScore(store, member string, score string) error {
	submitted, err := decimal.NewFromString(score)
	if err != nil {
		return fmt.Errorf("invalid score %q: %w", score, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(
		`SELECT score FROM leaderboard_entries WHERE store = ? AND member = ?`, store, member,
	).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil {
		if prev, perr := decimal.NewFromString(existing); perr == nil && prev.GreaterThanOrEqual(submitted) {
			return tx.Commit()
		}
	}

	_, err = tx.Exec(
		`INSERT INTO leaderboard_entries (store, member, score, sort_key, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(store, member) DO UPDATE SET
			score = excluded.score, sort_key = excluded.sort_key, updated_at = excluded.updated_at`,
		store, member, submitted.String(), submitted.InexactFloat64(), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// TopScores returns up to limit entries, best first. The float sort key
// narrows the scan; exact decimal comparison settles the final order.
func (s *Store) TopScores(store string, limit int) ([]services.ScoreEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT member, score FROM leaderboard_entries
		 WHERE store = ? ORDER BY sort_key DESC, member ASC LIMIT ?`,
		store, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []services.ScoreEntry
	for rows.Next() {
		var e services.ScoreEntry
		if err := rows.Scan(&e.Member, &e.Score); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Settle float ties exactly: re-sort the fetched page by the decimal
	// score, stable so the member-name tie-break from SQL survives.
	sort.SliceStable(entries, func(i, j int) bool {
		a, errA := decimal.NewFromString(entries[i].Score)
		b, errB := decimal.NewFromString(entries[j].Score)
		if errA != nil || errB != nil {
			return false
		}
		return a.GreaterThan(b)
	})
	return entries, nil
}
