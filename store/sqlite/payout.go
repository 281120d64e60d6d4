/*
payout.go - payout_requests persistence (payout.RequestStore, payout.TxStore)

The one-outstanding-request rule lives in idx_requests_outstanding; Insert
maps the constraint violation to payout.ErrOutstandingRequest. WithTx gives
the settlement engine its atomic boundary: entry reads, the sufficiency
check, entry mutations, and the request's paid transition commit or roll
back together.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/payout"
)

const requestColumns = `id, agent_id, amount, method, account_details, status, requested_at,
	processed_at, processed_by, notes, rejection_reason, commission_ids_json,
	auto_approved, auto_paid, auto_approval_threshold, validation_warnings_json,
	settings_version, processing_fee, updated_at`

// =============================================================================
// REQUEST STORE (payout.RequestStore)
// =============================================================================

// InsertRequest persists a new payout request.
func (s *Store) InsertRequest(ctx context.Context, r payout.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	commissionIDs, _ := json.Marshal(r.CommissionIDs)
	warnings, _ := json.Marshal(r.Metadata.ValidationWarnings)
	if r.CommissionIDs == nil {
		commissionIDs = []byte("[]")
	}
	if r.Metadata.ValidationWarnings == nil {
		warnings = []byte("[]")
	}

	query := `
		INSERT INTO payout_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.AgentID, r.Amount.String(), string(r.Method), r.AccountDetails,
		string(r.Status), formatTime(r.RequestedAt), nullTime(r.ProcessedAt),
		r.ProcessedBy, r.Notes, r.RejectionReason, string(commissionIDs),
		r.Metadata.AutoApproved, r.Metadata.AutoPaid,
		r.Metadata.AutoApprovalThreshold.String(), string(warnings),
		r.Metadata.SettingsVersion, r.Metadata.ProcessingFee.String(),
		formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return payout.ErrOutstandingRequest
	}
	if err != nil {
		return fmt.Errorf("failed to insert payout request: %w", err)
	}
	return nil
}

// GetRequest returns a request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*payout.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q querier, id string) (*payout.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM payout_requests WHERE id = ?`
	r, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payout.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRequest persists status, processing, and metadata changes.
func (s *Store) UpdateRequest(ctx context.Context, r payout.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	commissionIDs, _ := json.Marshal(r.CommissionIDs)
	warnings, _ := json.Marshal(r.Metadata.ValidationWarnings)
	if r.CommissionIDs == nil {
		commissionIDs = []byte("[]")
	}
	if r.Metadata.ValidationWarnings == nil {
		warnings = []byte("[]")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payout_requests
		SET status = ?, processed_at = ?, processed_by = ?, notes = ?,
		    rejection_reason = ?, commission_ids_json = ?, auto_approved = ?,
		    auto_paid = ?, validation_warnings_json = ?, updated_at = ?
		WHERE id = ?
	`,
		string(r.Status), nullTime(r.ProcessedAt), r.ProcessedBy, r.Notes,
		r.RejectionReason, string(commissionIDs), r.Metadata.AutoApproved,
		r.Metadata.AutoPaid, string(warnings), formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payout request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payout.ErrRequestNotFound
	}
	return nil
}

// HasOutstandingRequest reports whether the agent has a pending, approved,
// or on-hold request.
func (s *Store) HasOutstandingRequest(ctx context.Context, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM payout_requests
		WHERE agent_id = ? AND status IN ('pending','approved','on_hold')
		LIMIT 1
	`, agentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query outstanding requests: %w", err)
	}
	return true, nil
}

// UsageSince returns the agent's request count and summed amounts since a
// point in time. Every created request counts, whatever its status.
func (s *Store) UsageSince(ctx context.Context, agentID string, since time.Time) (payout.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM payout_requests
		WHERE agent_id = ? AND requested_at >= ?
	`, agentID, formatTime(since))
	if err != nil {
		return payout.Usage{}, fmt.Errorf("failed to query request usage: %w", err)
	}
	defer rows.Close()

	usage := payout.Usage{Total: money.Zero()}
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return payout.Usage{}, err
		}
		usage.Count++
		usage.Total = usage.Total.Add(money.FromString(amount))
	}
	return usage, rows.Err()
}

// =============================================================================
// REPORTING
// =============================================================================

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	Status  payout.Status
	AgentID string
	From    *time.Time
	To      *time.Time
}

// ListRequests returns payout requests newest first.
func (s *Store) ListRequests(ctx context.Context, f RequestFilter) ([]payout.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + requestColumns + ` FROM payout_requests WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.From != nil {
		query += ` AND requested_at >= ?`
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		query += ` AND requested_at <= ?`
		args = append(args, formatTime(*f.To))
	}
	query += ` ORDER BY requested_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout requests: %w", err)
	}
	defer rows.Close()

	var requests []payout.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// StatBucket is one row of an aggregate breakdown.
type StatBucket struct {
	Key   string
	Count int
	Total money.Money
}

// RequestStatsByStatus aggregates requests per status.
func (s *Store) RequestStatsByStatus(ctx context.Context) ([]StatBucket, error) {
	return s.requestStats(ctx, "status")
}

// RequestStatsByAgent aggregates requests per agent.
func (s *Store) RequestStatsByAgent(ctx context.Context) ([]StatBucket, error) {
	return s.requestStats(ctx, "agent_id")
}

func (s *Store) requestStats(ctx context.Context, column string) ([]StatBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// column is one of two fixed identifiers, never user input.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, amount FROM payout_requests ORDER BY `+column)
	if err != nil {
		return nil, fmt.Errorf("failed to query request stats: %w", err)
	}
	defer rows.Close()

	byKey := map[string]*StatBucket{}
	var order []string
	for rows.Next() {
		var key, amount string
		if err := rows.Scan(&key, &amount); err != nil {
			return nil, err
		}
		bucket, ok := byKey[key]
		if !ok {
			bucket = &StatBucket{Key: key}
			byKey[key] = bucket
			order = append(order, key)
		}
		bucket.Count++
		bucket.Total = bucket.Total.Add(money.FromString(amount))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]StatBucket, 0, len(order))
	for _, key := range order {
		stats = append(stats, *byKey[key])
	}
	return stats, nil
}

// =============================================================================
// SETTLEMENT STORE (payout.SettlementStore, payout.TxStore)
// =============================================================================

// PendingEntriesForAgent returns pending entries oldest first. Split
// remainders keep their origin's created_at, so they hold their FIFO slot.
func (s *Store) PendingEntriesForAgent(ctx context.Context, agentID string) ([]commission.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return pendingEntriesForAgent(ctx, s.db, agentID)
}

func pendingEntriesForAgent(ctx context.Context, q querier, agentID string) ([]commission.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM commission_entries
		WHERE agent_id = ? AND status = 'pending'
		ORDER BY created_at ASC, rowid ASC
	`
	return queryEntries(ctx, q, query, agentID)
}

// MarkEntryPaid transitions an entry to paid.
func (s *Store) MarkEntryPaid(ctx context.Context, entryID string, amount money.Money, payoutRequestID string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return markEntryPaid(ctx, s.db, entryID, amount, payoutRequestID, paidAt)
}

func markEntryPaid(ctx context.Context, q querier, entryID string, amount money.Money, payoutRequestID string, paidAt time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE commission_entries
		SET status = 'paid', amount = ?, payout_request_id = ?, paid_at = ?
		WHERE id = ? AND status = 'pending'
	`, amount.String(), payoutRequestID, formatTime(paidAt), entryID)
	if err != nil {
		return fmt.Errorf("failed to mark entry paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, commission.ErrEntryNotFound)
	}
	return nil
}

// InsertRemainder persists the new pending entry produced by a split.
func (s *Store) InsertRemainder(ctx context.Context, e commission.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertEntry(ctx, s.db, e)
}

// MarkRequestPaid flips the request to paid with its consumed entry ids.
func (s *Store) MarkRequestPaid(ctx context.Context, requestID string, commissionIDs []string, processedBy string, at time.Time, autoPaid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return markRequestPaid(ctx, s.db, requestID, commissionIDs, processedBy, at, autoPaid)
}

func markRequestPaid(ctx context.Context, q querier, requestID string, commissionIDs []string, processedBy string, at time.Time, autoPaid bool) error {
	if commissionIDs == nil {
		commissionIDs = []string{}
	}
	idsJSON, _ := json.Marshal(commissionIDs)

	res, err := q.ExecContext(ctx, `
		UPDATE payout_requests
		SET status = 'paid', commission_ids_json = ?, processed_by = ?,
		    processed_at = ?, auto_paid = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending','approved')
	`, string(idsJSON), processedBy, formatTime(at), autoPaid, formatTime(at), requestID)
	if err != nil {
		return fmt.Errorf("failed to mark request paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows means the request is missing or past the guarded
		// statuses. Re-read to tell the two apart: the loser of a
		// concurrent double-pay gets a state conflict, not a not-found.
		existing, gerr := getRequest(ctx, q, requestID)
		if gerr != nil {
			return gerr
		}
		return &payout.StateConflictError{
			RequestID: requestID,
			Current:   existing.Status,
			Attempted: payout.StatusPaid,
		}
	}
	return nil
}

// WithTx executes fn inside a database transaction. The write lock is held
// for the duration; the txStore's operations are lock-free against it.
func (s *Store) WithTx(ctx context.Context, fn func(payout.SettlementStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the in-transaction view handed to settlement.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) PendingEntriesForAgent(ctx context.Context, agentID string) ([]commission.Entry, error) {
	return pendingEntriesForAgent(ctx, ts.tx, agentID)
}

func (ts *txStore) MarkEntryPaid(ctx context.Context, entryID string, amount money.Money, payoutRequestID string, paidAt time.Time) error {
	return markEntryPaid(ctx, ts.tx, entryID, amount, payoutRequestID, paidAt)
}

func (ts *txStore) InsertRemainder(ctx context.Context, e commission.Entry) error {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) MarkRequestPaid(ctx context.Context, requestID string, commissionIDs []string, processedBy string, at time.Time, autoPaid bool) error {
	return markRequestPaid(ctx, ts.tx, requestID, commissionIDs, processedBy, at, autoPaid)
}

// =============================================================================
// SCANNING
// =============================================================================

func scanRequest(r rowScanner) (*payout.Request, error) {
	var (
		req                     payout.Request
		method, status          string
		amount, threshold, fee  string
		requestedAt, updatedAt  string
		processedAt             sql.NullString
		commissionIDsJSON       string
		warningsJSON            string
	)

	err := r.Scan(
		&req.ID, &req.AgentID, &amount, &method, &req.AccountDetails, &status,
		&requestedAt, &processedAt, &req.ProcessedBy, &req.Notes,
		&req.RejectionReason, &commissionIDsJSON, &req.Metadata.AutoApproved,
		&req.Metadata.AutoPaid, &threshold, &warningsJSON,
		&req.Metadata.SettingsVersion, &fee, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Amount = money.FromString(amount)
	req.Method = payout.Method(method)
	req.Status = payout.Status(status)
	req.RequestedAt = parseTime(requestedAt)
	req.ProcessedAt = scanNullTime(processedAt)
	req.Metadata.AutoApprovalThreshold = money.FromString(threshold)
	req.Metadata.ProcessingFee = money.FromString(fee)
	req.UpdatedAt = parseTime(updatedAt)

	json.Unmarshal([]byte(commissionIDsJSON), &req.CommissionIDs)
	json.Unmarshal([]byte(warningsJSON), &req.Metadata.ValidationWarnings)

	return &req, nil
}
