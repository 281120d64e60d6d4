/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements policy.Store, commission.Store, commission.Directory,
  payout.RequestStore, and payout.TxStore over a single database. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  settings:           Policy singleton (one row, id = 1)
  settings_changes:   Append-only modification history
  commission_entries: The commission ledger
  payout_requests:    Withdrawal requests
  agents, orders:     Minimal directory tables behind the Directory seam

INVARIANT-BACKING INDEXES:
  idx_entries_active_unique: one active (pending/paid) commission entry per
    (order, agent, type). Split remainders are exempt - a split legitimately
    leaves two active entries for the triple, linked by split_from_id.
  idx_requests_outstanding: at most one pending/approved/on_hold payout
    request per agent.
  Both make the corresponding invariants constraint-backed rather than
  check-then-act, so they hold under concurrent writers.

CONCURRENCY:
  A sync.RWMutex serializes writers on top of SQLite's own locking; WAL
  mode keeps readers unblocked. Transactional helpers never re-acquire the
  mutex: WithTx takes the write lock once, and all reads inside the
  transaction go through lock-free query helpers bound to the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  ledger := commission.NewLedger(store, store, store)

SEE ALSO:
  - commission/store.go, payout/store.go, policy/store.go: Interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx so query helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Policy singleton (exactly one row, id = 1)
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		min_withdrawal TEXT NOT NULL,
		max_withdrawal TEXT NOT NULL,
		delivery_amount TEXT NOT NULL,
		agent_order_rate TEXT NOT NULL,
		schedule_enabled INTEGER NOT NULL DEFAULT 0,
		schedule_day INTEGER NOT NULL DEFAULT 5,
		schedule_start TEXT NOT NULL DEFAULT '07:00',
		schedule_end TEXT NOT NULL DEFAULT '23:59',
		global_hold INTEGER NOT NULL DEFAULT 0,
		hold_reason TEXT NOT NULL DEFAULT '',
		processing_fee TEXT NOT NULL,
		auto_approval_threshold TEXT NOT NULL,
		require_manager_approval INTEGER NOT NULL DEFAULT 0,
		daily_request_limit INTEGER NOT NULL,
		daily_amount_limit TEXT NOT NULL,
		weekly_request_limit INTEGER NOT NULL,
		weekly_amount_limit TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only settings history
	CREATE TABLE IF NOT EXISTS settings_changes (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		changes_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Commission ledger
	CREATE TABLE IF NOT EXISTS commission_entries (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		commission_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		order_total TEXT NOT NULL,
		rate TEXT NOT NULL,
		is_fixed_amount INTEGER NOT NULL,
		delivery_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		payout_request_id TEXT NOT NULL DEFAULT '',
		split_from_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		settings_version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		paid_at TEXT,
		cancelled_at TEXT
	);

	-- CRITICAL: one active entry per (order, agent, type). Split remainders
	-- carry split_from_id and are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_active_unique
		ON commission_entries(order_id, agent_id, commission_type)
		WHERE status IN ('pending','paid') AND split_from_id = '';

	CREATE INDEX IF NOT EXISTS idx_entries_agent_status
		ON commission_entries(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_entries_order
		ON commission_entries(order_id, status);
	CREATE INDEX IF NOT EXISTS idx_entries_agent_created
		ON commission_entries(agent_id, created_at);

	-- Payout requests
	CREATE TABLE IF NOT EXISTS payout_requests (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		account_details TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_at TEXT NOT NULL,
		processed_at TEXT,
		processed_by TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		commission_ids_json TEXT NOT NULL DEFAULT '[]',
		auto_approved INTEGER NOT NULL DEFAULT 0,
		auto_paid INTEGER NOT NULL DEFAULT 0,
		auto_approval_threshold TEXT NOT NULL DEFAULT '0',
		validation_warnings_json TEXT NOT NULL DEFAULT '[]',
		settings_version INTEGER NOT NULL DEFAULT 0,
		processing_fee TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one outstanding request per agent.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_outstanding
		ON payout_requests(agent_id)
		WHERE status IN ('pending','approved','on_hold');

	CREATE INDEX IF NOT EXISTS idx_requests_agent
		ON payout_requests(agent_id, requested_at);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON payout_requests(status);

	-- Directory tables (seam to the excluded user/order subsystems)
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		payout_hold INTEGER NOT NULL DEFAULT 0,
		hold_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		total TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout keeps trailing zeros so stored timestamps compare correctly as
// strings (RFC3339Nano trims them, which breaks lexicographic ordering).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
