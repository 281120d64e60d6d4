/*
directory.go - minimal agents/orders tables (commission.Directory)

These tables stand in for the platform's user and order subsystems so the
engine runs and tests on its own. ResolveAgent only sees active agents;
inactive accounts look absent to the commission core.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
)

// ResolveAgent returns the active agent for id.
func (s *Store) ResolveAgent(ctx context.Context, agentID string) (*commission.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agent commission.Agent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active, payout_hold, hold_reason
		FROM agents WHERE id = ? AND active = 1
	`, agentID).Scan(&agent.ID, &agent.Name, &agent.Active, &agent.PayoutHold, &agent.HoldReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent: %w", err)
	}
	return &agent, nil
}

// OrderExists reports whether an order id resolves.
func (s *Store) OrderExists(ctx context.Context, orderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	return true, nil
}

// SaveAgent upserts an agent record.
func (s *Store) SaveAgent(ctx context.Context, agent commission.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, active, payout_hold, hold_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, active = excluded.active,
			payout_hold = excluded.payout_hold, hold_reason = excluded.hold_reason
	`, agent.ID, agent.Name, agent.Active, agent.PayoutHold, agent.HoldReason,
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// SetAgentHold sets or clears the per-agent payout hold.
func (s *Store) SetAgentHold(ctx context.Context, agentID string, hold bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !hold {
		reason = ""
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET payout_hold = ?, hold_reason = ? WHERE id = ?
	`, hold, reason, agentID)
	if err != nil {
		return fmt.Errorf("failed to set agent hold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.ErrAgentNotFound
	}
	return nil
}

// SaveOrder upserts an order record.
func (s *Store) SaveOrder(ctx context.Context, orderID string, total money.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, total, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total = excluded.total
	`, orderID, total.String(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}
