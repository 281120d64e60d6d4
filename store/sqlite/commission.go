/*
commission.go - commission_entries persistence (commission.Store)

The active-uniqueness rule lives in idx_entries_active_unique; Insert maps
the constraint violation to commission.ErrDuplicateEntry so the ledger's
idempotent Record can absorb it.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
)

const entryColumns = `id, order_id, agent_id, commission_type, amount, order_total, rate,
	is_fixed_amount, delivery_count, status, payout_request_id, split_from_id, note,
	settings_version, created_at, paid_at, cancelled_at`

// Insert persists a new commission entry.
func (s *Store) Insert(ctx context.Context, e commission.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, q querier, e commission.Entry) error {
	query := `
		INSERT INTO commission_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.OrderID, e.AgentID, string(e.Type),
		e.Amount.String(), e.OrderTotal.String(), e.Rate.String(),
		e.IsFixedAmount, e.DeliveryCount, string(e.Status),
		e.PayoutRequestID, e.SplitFromID, e.Note,
		e.SettingsVersion, formatTime(e.CreatedAt),
		nullTime(e.PaidAt), nullTime(e.CancelledAt),
	)
	if isUniqueConstraintError(err) {
		return commission.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to insert commission entry: %w", err)
	}
	return nil
}

// FindActive returns the active entry for (orderID, agentID, typ), nil if none.
func (s *Store) FindActive(ctx context.Context, orderID, agentID string, typ commission.Type) (*commission.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + entryColumns + `
		FROM commission_entries
		WHERE order_id = ? AND agent_id = ? AND commission_type = ?
		  AND status IN ('pending','paid') AND split_from_id = ''
	`
	row := s.db.QueryRowContext(ctx, query, orderID, agentID, string(typ))
	e, err := scanEntryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntry returns an entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (*commission.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM commission_entries WHERE id = ?`
	e, err := scanEntryRow(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CancelPendingForOrder cancels every pending entry for the order. Paid
// entries are never touched.
func (s *Store) CancelPendingForOrder(ctx context.Context, orderID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE commission_entries
		SET status = 'cancelled', cancelled_at = ?
		WHERE order_id = ? AND status = 'pending'
	`, formatTime(at), orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PendingBalance sums pending amounts for the agent.
func (s *Store) PendingBalance(ctx context.Context, agentID string) (money.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumEntries(ctx, s.db, agentID, commission.StatusPending)
}

// PaidTotal sums paid amounts for the agent.
func (s *Store) PaidTotal(ctx context.Context, agentID string) (money.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumEntries(ctx, s.db, agentID, commission.StatusPaid)
}

// Amounts are stored as decimal TEXT, so the sum is computed in Go rather
// than with SQL SUM, which would coerce to float.
func sumEntries(ctx context.Context, q querier, agentID string, status commission.Status) (money.Money, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT amount FROM commission_entries WHERE agent_id = ? AND status = ?`,
		agentID, string(status))
	if err != nil {
		return money.Zero(), fmt.Errorf("failed to sum entries: %w", err)
	}
	defer rows.Close()

	total := money.Zero()
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return money.Zero(), err
		}
		total = total.Add(money.FromString(amount))
	}
	return total, rows.Err()
}

// EntriesForAgent returns the agent's entries, oldest first.
func (s *Store) EntriesForAgent(ctx context.Context, agentID string, f commission.EntryFilter) ([]commission.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM commission_entries WHERE agent_id = ?`
	args := []any{agentID}

	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Type != nil {
		query += ` AND commission_type = ?`
		args = append(args, string(*f.Type))
	}
	if f.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		query += ` AND created_at <= ?`
		args = append(args, formatTime(*f.To))
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	return queryEntries(ctx, s.db, query, args...)
}

// =============================================================================
// REPORTING
// =============================================================================

// TypeStat aggregates commission entries by type for the reporting surface.
type TypeStat struct {
	Type  commission.Type
	Count int
	Total money.Money
}

// CommissionStatsByType aggregates non-cancelled entries per type.
func (s *Store) CommissionStatsByType(ctx context.Context) ([]TypeStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT commission_type, amount FROM commission_entries
		WHERE status != 'cancelled'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission stats: %w", err)
	}
	defer rows.Close()

	byType := map[commission.Type]*TypeStat{}
	var order []commission.Type
	for rows.Next() {
		var typ, amount string
		if err := rows.Scan(&typ, &amount); err != nil {
			return nil, err
		}
		t := commission.Type(typ)
		stat, ok := byType[t]
		if !ok {
			stat = &TypeStat{Type: t}
			byType[t] = stat
			order = append(order, t)
		}
		stat.Count++
		stat.Total = stat.Total.Add(money.FromString(amount))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]TypeStat, 0, len(order))
	for _, t := range order {
		stats = append(stats, *byType[t])
	}
	return stats, nil
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]commission.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission entries: %w", err)
	}
	defer rows.Close()

	var entries []commission.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntryRow(row *sql.Row) (*commission.Entry, error) {
	return scanEntry(row)
}

func scanEntry(r rowScanner) (*commission.Entry, error) {
	var (
		e                       commission.Entry
		typ, status             string
		amount, orderTotal, rate string
		createdAt               string
		paidAt, cancelledAt     sql.NullString
	)

	err := r.Scan(
		&e.ID, &e.OrderID, &e.AgentID, &typ, &amount, &orderTotal, &rate,
		&e.IsFixedAmount, &e.DeliveryCount, &status, &e.PayoutRequestID,
		&e.SplitFromID, &e.Note, &e.SettingsVersion, &createdAt, &paidAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = commission.Type(typ)
	e.Status = commission.Status(status)
	e.Amount = money.FromString(amount)
	e.OrderTotal = money.FromString(orderTotal)
	if d, derr := decimal.NewFromString(rate); derr == nil {
		e.Rate = d
	}
	e.CreatedAt = parseTime(createdAt)
	e.PaidAt = scanNullTime(paidAt)
	e.CancelledAt = scanNullTime(cancelledAt)

	return &e, nil
}
