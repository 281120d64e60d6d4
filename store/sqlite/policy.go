/*
policy.go - settings singleton persistence (policy.Store)

The settings row is lazily created from policy.Defaults() on first read.
Update runs the row replacement and the history append in one transaction
so the modification log can never drift from the live row.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/policy"
)

const settingsColumns = `min_withdrawal, max_withdrawal, delivery_amount, agent_order_rate,
	schedule_enabled, schedule_day, schedule_start, schedule_end,
	global_hold, hold_reason, processing_fee, auto_approval_threshold,
	require_manager_approval, daily_request_limit, daily_amount_limit,
	weekly_request_limit, weekly_amount_limit, version, created_at, updated_at`

// Current returns the live settings, creating the row from Defaults() if
// this is the first read.
func (s *Store) Current(ctx context.Context) (*policy.Settings, error) {
	s.mu.RLock()
	settings, err := s.loadSettings(ctx, s.db)
	s.mu.RUnlock()
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// First read: create the singleton. A concurrent creator losing the
	// race on id=1 is fine - re-read whatever won.
	s.mu.Lock()
	defer s.mu.Unlock()

	defaults := policy.Defaults()
	now := time.Now().UTC()
	defaults.CreatedAt = now
	defaults.UpdatedAt = now
	if err := s.insertSettings(ctx, defaults); err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("failed to create default settings: %w", err)
	}
	settings, err = s.loadSettings(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// Update replaces the live settings and appends a history record in the
// same transaction. Version and the field diff are computed here against
// the persisted row, not trusted from the caller.
func (s *Store) Update(ctx context.Context, next policy.Settings, actor, reason string) (*policy.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.loadSettings(ctx, tx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("settings not initialized")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	now := time.Now().UTC()
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE settings
		SET min_withdrawal = ?, max_withdrawal = ?, delivery_amount = ?,
		    agent_order_rate = ?, schedule_enabled = ?, schedule_day = ?,
		    schedule_start = ?, schedule_end = ?, global_hold = ?,
		    hold_reason = ?, processing_fee = ?, auto_approval_threshold = ?,
		    require_manager_approval = ?, daily_request_limit = ?,
		    daily_amount_limit = ?, weekly_request_limit = ?,
		    weekly_amount_limit = ?, version = ?, updated_at = ?
		WHERE id = 1
	`,
		next.MinWithdrawal.String(), next.MaxWithdrawal.String(),
		next.CommissionRates.DeliveryAmount.String(), next.CommissionRates.AgentOrderRate.String(),
		next.Schedule.Enabled, int(next.Schedule.DayOfWeek),
		next.Schedule.StartTime, next.Schedule.EndTime,
		next.GlobalHold, next.HoldReason,
		next.ProcessingFee.String(), next.AutoApprovalThreshold.String(),
		next.RequireManagerApproval, next.DailyRequestLimit,
		next.DailyAmountLimit.String(), next.WeeklyRequestLimit,
		next.WeeklyAmountLimit.String(), next.Version, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	changes := policy.Diff(*current, next)
	if len(changes) > 0 {
		changesJSON, _ := json.Marshal(changes)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO settings_changes (id, actor, reason, changes_json, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), actor, reason, string(changesJSON), next.Version, formatTime(now))
		if err != nil {
			return nil, fmt.Errorf("failed to append settings history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settings update: %w", err)
	}
	return &next, nil
}

// History returns modification records, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]policy.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, actor, reason, changes_json, version, created_at
		FROM settings_changes
		ORDER BY version DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings history: %w", err)
	}
	defer rows.Close()

	var records []policy.ChangeRecord
	for rows.Next() {
		var (
			rec         policy.ChangeRecord
			changesJSON string
			createdAt   string
		)
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Reason, &changesJSON, &rec.Version, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(changesJSON), &rec.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode settings history record %s: %w", rec.ID, err)
		}
		rec.Timestamp = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) insertSettings(ctx context.Context, settings policy.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, `+settingsColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		settings.MinWithdrawal.String(), settings.MaxWithdrawal.String(),
		settings.CommissionRates.DeliveryAmount.String(), settings.CommissionRates.AgentOrderRate.String(),
		settings.Schedule.Enabled, int(settings.Schedule.DayOfWeek),
		settings.Schedule.StartTime, settings.Schedule.EndTime,
		settings.GlobalHold, settings.HoldReason,
		settings.ProcessingFee.String(), settings.AutoApprovalThreshold.String(),
		settings.RequireManagerApproval, settings.DailyRequestLimit,
		settings.DailyAmountLimit.String(), settings.WeeklyRequestLimit,
		settings.WeeklyAmountLimit.String(), settings.Version,
		formatTime(settings.CreatedAt), formatTime(settings.UpdatedAt),
	)
	return err
}

func (s *Store) loadSettings(ctx context.Context, q querier) (*policy.Settings, error) {
	var (
		settings                                   policy.Settings
		minW, maxW, deliveryAmount, rate           string
		scheduleDay                                int
		fee, threshold, dailyAmount, weeklyAmount  string
		createdAt, updatedAt                       string
	)

	err := q.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`).Scan(
		&minW, &maxW, &deliveryAmount, &rate,
		&settings.Schedule.Enabled, &scheduleDay,
		&settings.Schedule.StartTime, &settings.Schedule.EndTime,
		&settings.GlobalHold, &settings.HoldReason, &fee, &threshold,
		&settings.RequireManagerApproval, &settings.DailyRequestLimit,
		&dailyAmount, &settings.WeeklyRequestLimit, &weeklyAmount,
		&settings.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	settings.MinWithdrawal = money.FromString(minW)
	settings.MaxWithdrawal = money.FromString(maxW)
	settings.CommissionRates.DeliveryAmount = money.FromString(deliveryAmount)
	settings.CommissionRates.AgentOrderRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("malformed agent order rate %q: %w", rate, err)
	}
	settings.Schedule.DayOfWeek = time.Weekday(scheduleDay)
	settings.ProcessingFee = money.FromString(fee)
	settings.AutoApprovalThreshold = money.FromString(threshold)
	settings.DailyAmountLimit = money.FromString(dailyAmount)
	settings.WeeklyAmountLimit = money.FromString(weeklyAmount)
	settings.CreatedAt = parseTime(createdAt)
	settings.UpdatedAt = parseTime(updatedAt)

	return &settings, nil
}
