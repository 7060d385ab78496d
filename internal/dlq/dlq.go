// Package dlq is the durable dead-letter store for outbound events whose
// delivery was abandoned. Entries survive restarts and are consumed only by
// an explicit replay (Drain then Acknowledge).
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	target        TEXT    NOT NULL,
	payload       BLOB    NOT NULL,
	first_attempt TIMESTAMP NOT NULL,
	attempts      INTEGER NOT NULL,
	last_error    TEXT    NOT NULL,
	in_flight     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_target ON dead_letters(target, in_flight);
`

// Entry is one abandoned delivery.
type Entry struct {
	ID           int64     `db:"id"`
	Target       string    `db:"target"`
	Payload      []byte    `db:"payload"`
	FirstAttempt time.Time `db:"first_attempt"`
	Attempts     int       `db:"attempts"`
	LastError    string    `db:"last_error"`
	InFlight     bool      `db:"in_flight"`
}

// Store is a SQLite-backed dead-letter queue.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (or creates) the store at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open dead letter store %s: %w", path, err)
	}
	// One writer at a time keeps SQLite happy under concurrent forwarders.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init dead letter schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Enqueue appends an abandoned delivery for target.
func (s *Store) Enqueue(ctx context.Context, target string, payload []byte, attempts int, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (target, payload, first_attempt, attempts, last_error)
		 VALUES (?, ?, ?, ?, ?)`,
		target, payload, time.Now().UTC(), attempts, lastErr)
	if err != nil {
		return fmt.Errorf("enqueue dead letter for %s: %w", target, err)
	}
	s.logger.Warn("Event routed to dead letter queue",
		zap.String("target", target),
		zap.Int("attempts", attempts),
		zap.String("last_error", lastErr),
	)
	return nil
}

// Drain marks up to batchSize entries for target as in-flight and returns
// them for replay. Entries stay in the store until Acknowledge removes them,
// so replay is idempotent at the queue level.
func (s *Store) Drain(ctx context.Context, target string, batchSize int) ([]Entry, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var entries []Entry
	err = tx.SelectContext(ctx, &entries,
		`SELECT id, target, payload, first_attempt, attempts, last_error, in_flight
		 FROM dead_letters WHERE target = ? AND in_flight = 0 ORDER BY id LIMIT ?`,
		target, batchSize)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
		entries[i].InFlight = true
	}
	query, args, err := sqlx.In(`UPDATE dead_letters SET in_flight = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Acknowledge removes replayed entries from the store.
func (s *Store) Acknowledge(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM dead_letters WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// Requeue clears the in-flight mark so a failed replay becomes drainable
// again.
func (s *Store) Requeue(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE dead_letters SET in_flight = 0 WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// Depth returns the number of entries held for target, or across all targets
// when target is empty. Exposed as a gauge so operators can spot sustained
// delivery failure.
func (s *Store) Depth(ctx context.Context, target string) (int64, error) {
	var n int64
	var err error
	if target == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM dead_letters`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM dead_letters WHERE target = ?`, target)
	}
	return n, err
}
