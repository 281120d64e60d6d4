/*
workflow.go - Payout request state machine

PURPOSE:
  Owns every transition a withdrawal request can make. Creation runs the
  collect-all guard battery against policy and ledger balance, decides
  auto-approval, and best-effort attempts auto-payment. Admin actions
  (approve/pay/reject/hold/release) move requests through the machine with
  explicit state-conflict errors from anywhere illegal.

TRANSITIONS:
  create  -> pending (or approved, when auto-approval fires)
  approve    pending  -> approved
  pay        pending/approved -> paid    (invokes the settlement engine)
  reject     pending/approved -> rejected (reason 3-500 chars required)
  hold       pending/approved -> on_hold
  release    on_hold  -> pending
  paid and rejected are terminal.

CREATE GUARDS (all collected, never fail-fast):
  amount within policy min/max, method and account details present, global
  hold, per-agent hold, schedule window, available pending balance, no
  outstanding request, daily/weekly request-count and amount limits.

AUTO-PAYMENT:
  Best-effort. If the balance moved between validation and settlement the
  request stays approved-but-unpaid with a note; the failure is recorded,
  never retried automatically.

SEE ALSO:
  - settlement.go: The pay transition's allocation
  - window.go: Schedule/hold predicate
  - errors.go: The error taxonomy these guards produce
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/policy"
)

// =============================================================================
// WORKFLOW SERVICE
// =============================================================================

// Workflow orchestrates the payout request lifecycle.
type Workflow struct {
	Requests  RequestStore
	Entries   commission.Store
	Policies  policy.Store
	Directory commission.Directory
	Settler   *Settlement
	Logger    *zap.Logger

	// Now is the clock. Overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// NewWorkflow wires a workflow over its collaborators.
func NewWorkflow(requests RequestStore, entries commission.Store, policies policy.Store, directory commission.Directory, settler *Settlement, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		Requests:  requests,
		Entries:   entries,
		Policies:  policies,
		Directory: directory,
		Settler:   settler,
		Logger:    logger,
		Now:       time.Now,
	}
}

// CreateInput is the agent-supplied part of a new request.
type CreateInput struct {
	AgentID        string
	Amount         money.Money
	Method         Method
	AccountDetails string
	Notes          string
}

// Create validates and persists a new payout request, auto-approving and
// auto-paying when policy allows. Guard failures are collected into a
// single ValidationError listing every violated constraint.
func (w *Workflow) Create(ctx context.Context, in CreateInput) (*Request, error) {
	now := w.Now()

	agent, err := w.Directory.ResolveAgent(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}

	settings, err := w.Policies.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy settings unavailable: %w", err)
	}

	available, err := w.Entries.PendingBalance(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending balance: %w", err)
	}

	violations, warnings := w.validateCreate(ctx, in, agent, *settings, available, now)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	req := Request{
		ID:             uuid.NewString(),
		AgentID:        in.AgentID,
		Amount:         in.Amount,
		Method:         in.Method,
		AccountDetails: in.AccountDetails,
		Status:         StatusPending,
		RequestedAt:    now.UTC(),
		Notes:          in.Notes,
		Metadata: Metadata{
			AutoApprovalThreshold: settings.AutoApprovalThreshold,
			ValidationWarnings:    warnings,
			SettingsVersion:       settings.Version,
			ProcessingFee:         settings.ProcessingFee,
		},
		UpdatedAt: now.UTC(),
	}

	autoApprove := !settings.RequireManagerApproval &&
		in.Amount.LessThanOrEqual(settings.AutoApprovalThreshold)
	if autoApprove {
		at := now.UTC()
		req.Status = StatusApproved
		req.ProcessedBy = SystemActor
		req.ProcessedAt = &at
		req.Metadata.AutoApproved = true
	}

	if err := w.Requests.InsertRequest(ctx, req); err != nil {
		return nil, err
	}

	if autoApprove {
		w.autoPay(ctx, &req)
	}

	return &req, nil
}

// validateCreate runs every create guard and returns the full violation and
// warning lists. Balance shortfalls and policy gates are reported alongside
// plain input problems so the caller sees everything at once.
func (w *Workflow) validateCreate(ctx context.Context, in CreateInput, agent *commission.Agent, settings policy.Settings, available money.Money, now time.Time) (violations, warnings []string) {
	if !in.Amount.IsPositive() {
		violations = append(violations, "amount must be positive")
	}
	if in.Amount.LessThan(settings.MinWithdrawal) {
		violations = append(violations,
			fmt.Sprintf("amount %s is below the minimum withdrawal %s", in.Amount, settings.MinWithdrawal))
	}
	if in.Amount.GreaterThan(settings.MaxWithdrawal) {
		violations = append(violations,
			fmt.Sprintf("amount %s exceeds the maximum withdrawal %s", in.Amount, settings.MaxWithdrawal))
	}
	if !in.Method.Valid() {
		violations = append(violations, "payout method must be mobile_money or bank")
	}
	if strings.TrimSpace(in.AccountDetails) == "" {
		violations = append(violations, "account details are required")
	}

	if agent.PayoutHold {
		reason := "payouts are on hold for this agent"
		if agent.HoldReason != "" {
			reason += ": " + agent.HoldReason
		}
		violations = append(violations, reason)
	}

	if decision := EvaluateWindow(settings, now); !decision.Allowed {
		v := decision.Reason
		if decision.NextWindowStart != nil {
			v += ", next window opens " + decision.NextWindowStart.Format(time.RFC3339)
		}
		violations = append(violations, v)
	}

	if available.LessThan(in.Amount) {
		violations = append(violations,
			fmt.Sprintf("insufficient balance: requested %s, available %s", in.Amount, available))
	} else if in.Amount.GreaterThan(available.Mul(decimal.NewFromFloat(0.9))) {
		warnings = append(warnings, "request consumes over 90% of pending balance")
	}

	// The unique index still enforces this at insert time under races;
	// checking here folds it into the collected violations.
	outstanding, err := w.Requests.HasOutstandingRequest(ctx, in.AgentID)
	switch {
	case err != nil:
		violations = append(violations, "could not verify outstanding requests")
	case outstanding:
		violations = append(violations, "an outstanding payout request already exists")
	}

	violations = append(violations, w.rateLimitViolations(ctx, in, settings, now)...)

	return violations, warnings
}

// rateLimitViolations checks the daily and weekly request/amount limits.
// Daily means since midnight UTC; weekly is a rolling seven days.
func (w *Workflow) rateLimitViolations(ctx context.Context, in CreateInput, settings policy.Settings, now time.Time) []string {
	var violations []string

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day, err := w.Requests.UsageSince(ctx, in.AgentID, dayStart)
	if err != nil {
		violations = append(violations, "could not verify daily rate limits")
		return violations
	}
	if settings.DailyRequestLimit > 0 && day.Count >= settings.DailyRequestLimit {
		violations = append(violations,
			fmt.Sprintf("daily request limit of %d reached", settings.DailyRequestLimit))
	}
	if settings.DailyAmountLimit.IsPositive() && day.Total.Add(in.Amount).GreaterThan(settings.DailyAmountLimit) {
		violations = append(violations,
			fmt.Sprintf("daily amount limit of %s exceeded", settings.DailyAmountLimit))
	}

	week, err := w.Requests.UsageSince(ctx, in.AgentID, now.UTC().AddDate(0, 0, -7))
	if err != nil {
		violations = append(violations, "could not verify weekly rate limits")
		return violations
	}
	if settings.WeeklyRequestLimit > 0 && week.Count >= settings.WeeklyRequestLimit {
		violations = append(violations,
			fmt.Sprintf("weekly request limit of %d reached", settings.WeeklyRequestLimit))
	}
	if settings.WeeklyAmountLimit.IsPositive() && week.Total.Add(in.Amount).GreaterThan(settings.WeeklyAmountLimit) {
		violations = append(violations,
			fmt.Sprintf("weekly amount limit of %s exceeded", settings.WeeklyAmountLimit))
	}

	return violations
}

// autoPay attempts best-effort settlement after auto-approval. Failures
// leave the request approved with a note; they are recorded, not retried.
func (w *Workflow) autoPay(ctx context.Context, req *Request) {
	req.Metadata.AutoPaid = true
	if _, err := w.Settler.Settle(ctx, req); err != nil {
		req.Metadata.AutoPaid = false
		req.Status = StatusApproved

		note := "auto-payment failed: " + err.Error()
		if req.Notes != "" {
			note = req.Notes + "; " + note
		}
		req.Notes = note
		req.UpdatedAt = w.Now().UTC()

		if uerr := w.Requests.UpdateRequest(ctx, *req); uerr != nil {
			w.Logger.Error("failed to record auto-payment failure",
				zap.String("request_id", req.ID), zap.Error(uerr))
		}
		w.Logger.Warn("auto-payment failed, request remains approved",
			zap.String("request_id", req.ID),
			zap.String("agent_id", req.AgentID),
			zap.Error(err))
		return
	}

	w.Logger.Info("payout auto-paid",
		zap.String("request_id", req.ID),
		zap.String("agent_id", req.AgentID),
		zap.String("amount", req.Amount.String()))
}

// =============================================================================
// ADMIN TRANSITIONS
// =============================================================================

// Approve transitions pending -> approved.
func (w *Workflow) Approve(ctx context.Context, requestID, actor string) (*Request, error) {
	req, err := w.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canTransition(req.Status, StatusApproved) {
		return nil, &StateConflictError{RequestID: requestID, Current: req.Status, Attempted: StatusApproved}
	}

	w.stamp(req, StatusApproved, actor)
	if err := w.Requests.UpdateRequest(ctx, *req); err != nil {
		return nil, err
	}
	return req, nil
}

// Pay transitions pending/approved -> paid by running the settlement
// engine. Global and per-agent holds gate the disbursement; on insufficient
// balance the request is left untouched and the error reports requested vs
// available.
func (w *Workflow) Pay(ctx context.Context, requestID, actor string) (*Request, *Result, error) {
	req, err := w.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if !canTransition(req.Status, StatusPaid) {
		return nil, nil, &StateConflictError{RequestID: requestID, Current: req.Status, Attempted: StatusPaid}
	}

	// Holds block disbursement even for already-approved requests.
	settings, err := w.Policies.Current(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("policy settings unavailable: %w", err)
	}
	if settings.GlobalHold {
		reason := "global hold"
		if settings.HoldReason != "" {
			reason = "global hold: " + settings.HoldReason
		}
		return nil, nil, &PolicyGateError{Reason: reason}
	}
	agent, err := w.Directory.ResolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if agent.PayoutHold {
		reason := "payouts are on hold for this agent"
		if agent.HoldReason != "" {
			reason += ": " + agent.HoldReason
		}
		return nil, nil, &PolicyGateError{Reason: reason}
	}

	req.ProcessedBy = actor
	result, err := w.Settler.Settle(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return req, result, nil
}

// Reject transitions pending/approved -> rejected. A reason of 3-500
// characters is required; nothing in the ledger was ever consumed, so there
// is no ledger interaction.
func (w *Workflow) Reject(ctx context.Context, requestID, actor, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < 3 || len(reason) > 500 {
		return nil, &ValidationError{Violations: []string{"rejection reason must be 3-500 characters"}}
	}

	req, err := w.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canTransition(req.Status, StatusRejected) {
		return nil, &StateConflictError{RequestID: requestID, Current: req.Status, Attempted: StatusRejected}
	}

	w.stamp(req, StatusRejected, actor)
	req.RejectionReason = reason
	if err := w.Requests.UpdateRequest(ctx, *req); err != nil {
		return nil, err
	}
	return req, nil
}

// Hold transitions pending/approved -> on_hold. Administrative pause, no
// ledger interaction.
func (w *Workflow) Hold(ctx context.Context, requestID, actor string) (*Request, error) {
	req, err := w.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canTransition(req.Status, StatusOnHold) {
		return nil, &StateConflictError{RequestID: requestID, Current: req.Status, Attempted: StatusOnHold}
	}

	w.stamp(req, StatusOnHold, actor)
	if err := w.Requests.UpdateRequest(ctx, *req); err != nil {
		return nil, err
	}
	return req, nil
}

// Release transitions on_hold -> pending for re-evaluation.
func (w *Workflow) Release(ctx context.Context, requestID, actor string) (*Request, error) {
	req, err := w.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canTransition(req.Status, StatusPending) {
		return nil, &StateConflictError{RequestID: requestID, Current: req.Status, Attempted: StatusPending}
	}

	w.stamp(req, StatusPending, actor)
	if err := w.Requests.UpdateRequest(ctx, *req); err != nil {
		return nil, err
	}
	return req, nil
}

// Window evaluates the payout window against the current policy. The
// standalone status-check operation behind GET /api/payouts/window.
func (w *Workflow) Window(ctx context.Context) (*Decision, error) {
	settings, err := w.Policies.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy settings unavailable: %w", err)
	}
	d := EvaluateWindow(*settings, w.Now())
	return &d, nil
}

func (w *Workflow) stamp(req *Request, to Status, actor string) {
	at := w.Now().UTC()
	req.Status = to
	req.ProcessedBy = actor
	req.ProcessedAt = &at
	req.UpdatedAt = at
}

// IsNotFound reports whether err indicates a missing request or agent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) || errors.Is(err, commission.ErrAgentNotFound)
}
