// Package txstore persists the lifecycle of a refill transaction to
// SQLite (spec §3 "Transaction", §4 invariants I4/I5), grounded on the
// teacher's internal/execution.Journal: one mutex-guarded *sql.DB, a
// bootstrapped schema, and prepared single-row writes.
package txstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fleetops/refilld/internal/model"
)

// Store implements model.TransactionStore against a single SQLite file.
// The supervisor issues at most one write at a time (spec §5), so a
// single *sql.DB with SetMaxOpenConns(1) plus a mutex is sufficient —
// there is never lock contention to tune away.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	tag              TEXT NOT NULL,
	fleet_number     TEXT NOT NULL,
	start_meter      INTEGER NOT NULL,
	dispensed_liters INTEGER NOT NULL DEFAULT 0,
	machine_hours    REAL NOT NULL,
	created_at       DATETIME NOT NULL,
	status           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

// Open opens (or creates) the transaction store database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("txstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("txstore: migrate schema: %w", err)
	}

	slog.Info("txstore: opened transaction store", "path", path)
	return &Store{db: db}, nil
}

// CreateTransaction inserts a new row with status "initiated" (spec §3:
// created when RFID is first confirmed in contact).
func (s *Store) CreateTransaction(ctx context.Context, tag model.Tag, fleetNumber string, startMeter model.Liters, machineHours float64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (tag, fleet_number, start_meter, dispensed_liters, machine_hours, created_at, status)
		 VALUES (?, ?, ?, 0, ?, ?, ?)`,
		string(tag), fleetNumber, int64(startMeter), machineHours, now.Format(time.RFC3339Nano), string(model.StatusInitiated),
	)
	if err != nil {
		return nil, fmt.Errorf("txstore: create transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("txstore: create transaction: %w", err)
	}

	return &model.Transaction{
		ID:              id,
		Tag:             tag,
		FleetNumber:     fleetNumber,
		StartMeter:      startMeter,
		DispensedLiters: 0,
		MachineHours:    machineHours,
		CreatedAt:       now,
		Status:          model.StatusInitiated,
	}, nil
}

// UpdateLiters persists the running dispensed-liters figure and sets the
// status to in_progress — the Dispensing-state PERSIST_STEP checkpoint write.
func (s *Store) UpdateLiters(ctx context.Context, id int64, liters model.Liters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET dispensed_liters = ?, status = ? WHERE id = ?`,
		int64(liters), string(model.StatusInProgress), id,
	)
	if err != nil {
		return fmt.Errorf("txstore: update liters: %w", err)
	}
	return nil
}

// AddDispensed sets the final dispensed-liters figure and marks the
// transaction completed (spec Finalize procedure).
func (s *Store) AddDispensed(ctx context.Context, id int64, liters model.Liters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET dispensed_liters = ?, status = ? WHERE id = ?`,
		int64(liters), string(model.StatusCompleted), id,
	)
	if err != nil {
		return fmt.Errorf("txstore: add dispensed: %w", err)
	}
	return nil
}

// ClearIncomplete removes the "in_progress" marker once a refill has
// reached a terminal outcome, completed or deleted.
func (s *Store) ClearIncomplete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
		string(model.StatusCompleted), id, string(model.StatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("txstore: clear incomplete: %w", err)
	}
	return nil
}

// DeleteTransaction removes a row outright — spec I5's "0-liter dispenses
// delete the transaction (not leave it at 0)."
func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("txstore: delete transaction: %w", err)
	}
	return nil
}

// FlagNeedsReview marks a transaction for manual reconciliation — the
// path taken when store writes fail mid-refill (spec §7.5 "Database
// Error").
func (s *Store) FlagNeedsReview(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ?`,
		string(model.StatusNeedsReview), id,
	)
	if err != nil {
		return fmt.Errorf("txstore: flag needs review (%s): %w", reason, err)
	}
	return nil
}

// Get returns one transaction row by id, for operator-surface rendering.
func (s *Store) Get(ctx context.Context, id int64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, tag, fleet_number, start_meter, dispensed_liters, machine_hours, created_at, status
		 FROM transactions WHERE id = ?`, id)

	var (
		tx        model.Transaction
		tag       string
		status    string
		createdAt string
	)
	if err := row.Scan(&tx.ID, &tag, &tx.FleetNumber, &tx.StartMeter, &tx.DispensedLiters, &tx.MachineHours, &createdAt, &status); err != nil {
		return nil, fmt.Errorf("txstore: get transaction %d: %w", id, err)
	}
	tx.Tag = model.Tag(tag)
	tx.Status = model.Status(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		tx.CreatedAt = t
	}
	return &tx, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
