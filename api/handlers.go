/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the commission ledger and payout workflow via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Order events (fired by the order pipeline):
    POST /api/events/order-delivered   Record delivery commission
    POST /api/events/order-created     Record agent-order commission
    POST /api/events/order-cancelled   Cancel pending commissions

  Agents:
    POST /api/agents                   Seed agent record
    GET  /api/agents/{id}/balance      Pending + paid totals
    GET  /api/agents/{id}/commissions  Ledger entries with filters
    POST /api/agents/{id}/payouts      Create payout request

  Payouts:
    GET  /api/payouts                  List with filters
    GET  /api/payouts/stats            Aggregates
    GET  /api/payouts/window           Schedule window check
    GET  /api/payouts/{id}             Single request
    POST /api/payouts/{id}/approve     Admin transitions
    POST /api/payouts/{id}/pay         (+ reject, hold, release)

  Settings:
    GET  /api/settings                 Current policy
    PUT  /api/settings                 Replace + history append
    GET  /api/settings/history         Modification history

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinels:
  - 400: Validation errors (all violations listed), invalid input
  - 403: Policy gates (holds, closed window)
  - 404: Unknown agent, order, entry, or request
  - 409: State conflicts, outstanding request, insufficient balance
  - 500: Internal errors

  Order event recording failures are the exception: they are logged and
  swallowed with a 202, because a commission problem must never fail the
  order pipeline that emitted the event.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/payout"
	"github.com/settleware/commission-engine/policy"
	"github.com/settleware/commission-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ledger   *commission.Ledger
	Workflow *payout.Workflow
	Policies policy.Store
	Logger   *zap.Logger
}

// NewHandler wires a handler over a store.
func NewHandler(store *sqlite.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger := commission.NewLedger(store, store, store)
	settler := payout.NewSettlement(store)
	workflow := payout.NewWorkflow(store, store, store, store, settler, logger)
	return &Handler{
		Store:    store,
		Ledger:   ledger,
		Workflow: workflow,
		Policies: store,
		Logger:   logger,
	}
}

// =============================================================================
// ORDER EVENT HANDLERS
// =============================================================================

// OrderDelivered records a delivery commission for the event's agent.
func (h *Handler) OrderDelivered(w http.ResponseWriter, r *http.Request) {
	h.recordCommission(w, r, commission.TypeDelivery)
}

// OrderCreated records an agent-order commission.
func (h *Handler) OrderCreated(w http.ResponseWriter, r *http.Request) {
	h.recordCommission(w, r, commission.TypeAgentOrder)
}

func (h *Handler) recordCommission(w http.ResponseWriter, r *http.Request, typ commission.Type) {
	var req OrderEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	deliveryCount := req.DeliveryCount
	if typ == commission.TypeDelivery && deliveryCount == 0 {
		deliveryCount = 1
	}

	entry, err := h.Ledger.Record(r.Context(), req.OrderID, req.AgentID, typ,
		money.FromFloat(req.OrderTotal), deliveryCount)
	if err != nil {
		// Recording failures never propagate to the order pipeline.
		h.Logger.Warn("commission recording failed",
			zap.String("order_id", req.OrderID),
			zap.String("agent_id", req.AgentID),
			zap.String("type", string(typ)),
			zap.Error(err))
		writeJSON(w, http.StatusAccepted, OrderEventDTO{Recorded: false, Error: err.Error()})
		return
	}

	dto := entryDTO(*entry)
	writeJSON(w, http.StatusAccepted, OrderEventDTO{Recorded: true, Entry: &dto})
}

// OrderCancelled cancels every pending commission for the order. Paid
// entries are never touched.
func (h *Handler) OrderCancelled(w http.ResponseWriter, r *http.Request) {
	var req OrderCancelledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cancelled, err := h.Ledger.CancelPendingForOrder(r.Context(), req.OrderID)
	if err != nil {
		h.Logger.Warn("commission cancellation failed",
			zap.String("order_id", req.OrderID), zap.Error(err))
		writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": 0, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": cancelled})
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

// CreateAgent seeds an agent record in the directory tables.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	agent := commission.Agent{
		ID:         req.ID,
		Name:       req.Name,
		Active:     active,
		PayoutHold: req.PayoutHold,
		HoldReason: req.HoldReason,
	}
	if err := h.Store.SaveAgent(r.Context(), agent); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// GetBalance returns the agent's pending and paid totals.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	if _, err := h.Store.ResolveAgent(r.Context(), agentID); err != nil {
		writeDomainError(w, err)
		return
	}

	pending, err := h.Ledger.PendingBalance(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read pending balance", err)
		return
	}
	paid, err := h.Ledger.PaidTotal(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read paid total", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AgentID: agentID,
		Pending: pending.Float64(),
		Paid:    paid.Float64(),
	})
}

// GetCommissions returns the agent's ledger entries, oldest first.
// Optional query filters: status, type, from, to (RFC3339).
func (h *Handler) GetCommissions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	filter, err := parseEntryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	entries, err := h.Ledger.EntriesForAgent(r.Context(), agentID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = entryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func parseEntryFilter(r *http.Request) (commission.EntryFilter, error) {
	var f commission.EntryFilter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := commission.Status(v)
		f.Status = &status
	}
	if v := q.Get("type"); v != "" {
		typ := commission.Type(v)
		f.Type = &typ
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, nil
}

// CreateOrder seeds an order record in the directory tables.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	if err := h.Store.SaveOrder(r.Context(), req.ID, money.FromFloat(req.Total)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// CreatePayout creates a withdrawal request for the agent. Validation
// failures come back as 400 with every violated constraint listed.
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req CreatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.Workflow.Create(r.Context(), payout.CreateInput{
		AgentID:        agentID,
		Amount:         money.FromFloat(req.Amount),
		Method:         payout.Method(req.Method),
		AccountDetails: req.AccountDetails,
		Notes:          req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, payoutDTO(*created))
}

// ListPayouts returns payout requests, newest first. Optional query
// filters: status, agent, from, to (RFC3339).
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sqlite.RequestFilter{
		Status:  payout.Status(q.Get("status")),
		AgentID: q.Get("agent"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp", err)
			return
		}
		filter.To = &t
	}

	requests, err := h.Store.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payouts", err)
		return
	}

	dtos := make([]PayoutDTO, len(requests))
	for i, req := range requests {
		dtos[i] = payoutDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayout returns a single payout request.
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutDTO(*req))
}

// GetPayoutStats returns request aggregates by status and agent plus
// ledger aggregates by commission type.
func (h *Handler) GetPayoutStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := h.Store.RequestStatsByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate by status", err)
		return
	}
	byAgent, err := h.Store.RequestStatsByAgent(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate by agent", err)
		return
	}
	byType, err := h.Store.CommissionStatsByType(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate by type", err)
		return
	}

	stats := PayoutStatsDTO{
		ByStatus: statBuckets(byStatus),
		ByAgent:  statBuckets(byAgent),
	}
	for _, t := range byType {
		stats.ByType = append(stats.ByType, StatBucketDTO{
			Key:   string(t.Type),
			Count: t.Count,
			Total: t.Total.Float64(),
		})
	}
	writeJSON(w, http.StatusOK, stats)
}

func statBuckets(buckets []sqlite.StatBucket) []StatBucketDTO {
	dtos := make([]StatBucketDTO, len(buckets))
	for i, b := range buckets {
		dtos[i] = StatBucketDTO{Key: b.Key, Count: b.Count, Total: b.Total.Float64()}
	}
	return dtos
}

// GetWindow reports whether payout request creation is currently open.
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	decision, err := h.Workflow.Window(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to evaluate window", err)
		return
	}

	dto := WindowDTO{Allowed: decision.Allowed, Reason: decision.Reason}
	if decision.NextWindowStart != nil {
		dto.NextWindowStart = decision.NextWindowStart.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN TRANSITION HANDLERS
// =============================================================================

// ApprovePayout transitions pending -> approved.
func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body TransitionRequest) (*payout.Request, error) {
		return h.Workflow.Approve(r.Context(), id, body.Actor)
	})
}

// PayPayout runs the settlement engine against the request.
func (h *Handler) PayPayout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body TransitionRequest) (*payout.Request, error) {
		req, _, err := h.Workflow.Pay(r.Context(), id, body.Actor)
		return req, err
	})
}

// RejectPayout transitions pending/approved -> rejected. The reason is
// mandatory.
func (h *Handler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body TransitionRequest) (*payout.Request, error) {
		return h.Workflow.Reject(r.Context(), id, body.Actor, body.Reason)
	})
}

// HoldPayout transitions pending/approved -> on_hold.
func (h *Handler) HoldPayout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body TransitionRequest) (*payout.Request, error) {
		return h.Workflow.Hold(r.Context(), id, body.Actor)
	})
}

// ReleasePayout transitions on_hold -> pending.
func (h *Handler) ReleasePayout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body TransitionRequest) (*payout.Request, error) {
		return h.Workflow.Release(r.Context(), id, body.Actor)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(string, TransitionRequest) (*payout.Request, error)) {
	id := chi.URLParam(r, "id")

	var body TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	req, err := fn(id, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutDTO(*req))
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the current policy, creating defaults on first read.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Policies.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO(*settings))
}

// UpdateSettings replaces the policy and appends a history record.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	next, err := settingsFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}
	if violations := next.Validate(); len(violations) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorDTO{
			Error:      "Settings validation failed",
			Violations: violations,
		})
		return
	}

	updated, err := h.Policies.Update(r.Context(), next, req.Actor, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO(*updated))
}

func settingsFromRequest(req UpdateSettingsRequest) (policy.Settings, error) {
	rate, err := decimal.NewFromString(req.AgentOrderRate)
	if err != nil {
		return policy.Settings{}, err
	}
	return policy.Settings{
		MinWithdrawal: money.FromFloat(req.MinWithdrawal),
		MaxWithdrawal: money.FromFloat(req.MaxWithdrawal),
		CommissionRates: policy.CommissionRates{
			DeliveryAmount: money.FromFloat(req.DeliveryAmount),
			AgentOrderRate: rate,
		},
		Schedule: policy.Schedule{
			Enabled:   req.Schedule.Enabled,
			DayOfWeek: time.Weekday(req.Schedule.DayOfWeek),
			StartTime: req.Schedule.StartTime,
			EndTime:   req.Schedule.EndTime,
		},
		GlobalHold:             req.GlobalHold,
		HoldReason:             req.HoldReason,
		ProcessingFee:          money.FromFloat(req.ProcessingFee),
		AutoApprovalThreshold:  money.FromFloat(req.AutoApprovalThreshold),
		RequireManagerApproval: req.RequireManagerApproval,
		DailyRequestLimit:      req.DailyRequestLimit,
		DailyAmountLimit:       money.FromFloat(req.DailyAmountLimit),
		WeeklyRequestLimit:     req.WeeklyRequestLimit,
		WeeklyAmountLimit:      money.FromFloat(req.WeeklyAmountLimit),
	}, nil
}

// GetSettingsHistory returns modification records, newest first.
func (h *Handler) GetSettingsHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.Policies.History(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]ChangeRecordDTO, len(records))
	for i, rec := range records {
		changes := make([]FieldChangeDTO, len(rec.Changes))
		for j, c := range rec.Changes {
			changes[j] = FieldChangeDTO{Field: c.Field, From: c.From, To: c.To}
		}
		dtos[i] = ChangeRecordDTO{
			ID:        rec.ID,
			Actor:     rec.Actor,
			Reason:    rec.Reason,
			Changes:   changes,
			Version:   rec.Version,
			Timestamp: rec.Timestamp.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Detail = err.Error()
	}
	writeJSON(w, status, dto)
}

// writeDomainError maps domain errors to HTTP status by sentinel.
func writeDomainError(w http.ResponseWriter, err error) {
	var validation *payout.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, ErrorDTO{
			Error:      "Validation failed",
			Violations: validation.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, payout.ErrPolicyGate):
		writeError(w, http.StatusForbidden, "Blocked by policy", err)
	case errors.Is(err, commission.ErrAgentNotFound),
		errors.Is(err, commission.ErrOrderNotFound),
		errors.Is(err, commission.ErrEntryNotFound),
		errors.Is(err, payout.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, payout.ErrOutstandingRequest),
		errors.Is(err, payout.ErrStateConflict),
		errors.Is(err, payout.ErrInsufficientBalance),
		errors.Is(err, commission.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
