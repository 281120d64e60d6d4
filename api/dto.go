/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Amounts cross the wire as JSON numbers. They are display values only;
  everything stored or compared internally stays decimal-backed Money.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/payout"
	"github.com/settleware/commission-engine/policy"
)

// =============================================================================
// ORDER EVENTS
// =============================================================================

// OrderEventRequest is the payload of the order-delivered and order-created
// event endpoints.
type OrderEventRequest struct {
	OrderID       string  `json:"orderId"`
	AgentID       string  `json:"agentId"`
	OrderTotal    float64 `json:"orderTotal"`
	DeliveryCount int     `json:"deliveryCount,omitempty"`
}

// OrderCancelledRequest is the payload of the order-cancelled event.
type OrderCancelledRequest struct {
	OrderID string `json:"orderId"`
}

// OrderEventDTO reports the outcome of an order event. Recording failures
// are swallowed so the order pipeline never stalls on commission problems.
type OrderEventDTO struct {
	Recorded bool      `json:"recorded"`
	Entry    *EntryDTO `json:"entry,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// =============================================================================
// COMMISSION LEDGER
// =============================================================================

// EntryDTO represents a commission ledger entry in API responses.
type EntryDTO struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"orderId"`
	AgentID         string  `json:"agentId"`
	Type            string  `json:"type"`
	Amount          float64 `json:"amount"`
	OrderTotal      float64 `json:"orderTotal"`
	Rate            string  `json:"rate"`
	IsFixedAmount   bool    `json:"isFixedAmount"`
	DeliveryCount   int     `json:"deliveryCount,omitempty"`
	Status          string  `json:"status"`
	PayoutRequestID string  `json:"payoutRequestId,omitempty"`
	SplitFromID     string  `json:"splitFromId,omitempty"`
	Note            string  `json:"note,omitempty"`
	SettingsVersion int     `json:"settingsVersion"`
	CreatedAt       string  `json:"createdAt"`
	PaidAt          string  `json:"paidAt,omitempty"`
	CancelledAt     string  `json:"cancelledAt,omitempty"`
}

func entryDTO(e commission.Entry) EntryDTO {
	return EntryDTO{
		ID:              e.ID,
		OrderID:         e.OrderID,
		AgentID:         e.AgentID,
		Type:            string(e.Type),
		Amount:          e.Amount.Float64(),
		OrderTotal:      e.OrderTotal.Float64(),
		Rate:            e.Rate.String(),
		IsFixedAmount:   e.IsFixedAmount,
		DeliveryCount:   e.DeliveryCount,
		Status:          string(e.Status),
		PayoutRequestID: e.PayoutRequestID,
		SplitFromID:     e.SplitFromID,
		Note:            e.Note,
		SettingsVersion: e.SettingsVersion,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
		PaidAt:          formatOptional(e.PaidAt),
		CancelledAt:     formatOptional(e.CancelledAt),
	}
}

// BalanceDTO summarizes an agent's ledger position.
type BalanceDTO struct {
	AgentID string  `json:"agentId"`
	Pending float64 `json:"pending"`
	Paid    float64 `json:"paid"`
}

// =============================================================================
// PAYOUT REQUESTS
// =============================================================================

// CreatePayoutRequest is the agent-facing withdrawal request body.
type CreatePayoutRequest struct {
	Amount         float64 `json:"amount"`
	Method         string  `json:"method"`
	AccountDetails string  `json:"accountDetails"`
	Notes          string  `json:"notes,omitempty"`
}

// TransitionRequest is the body of the admin transition endpoints.
type TransitionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// PayoutDTO represents a payout request in API responses.
type PayoutDTO struct {
	ID              string             `json:"id"`
	AgentID         string             `json:"agentId"`
	Amount          float64            `json:"amount"`
	NetAmount       float64            `json:"netAmount"`
	Method          string             `json:"method"`
	AccountDetails  string             `json:"accountDetails"`
	Status          string             `json:"status"`
	RequestedAt     string             `json:"requestedAt"`
	ProcessedAt     string             `json:"processedAt,omitempty"`
	ProcessedBy     string             `json:"processedBy,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
	CommissionIDs   []string           `json:"commissionIds,omitempty"`
	Metadata        PayoutMetadataDTO  `json:"metadata"`
}

// PayoutMetadataDTO is the policy context snapshot of a request.
type PayoutMetadataDTO struct {
	AutoApproved          bool     `json:"autoApproved"`
	AutoPaid              bool     `json:"autoPaid"`
	AutoApprovalThreshold float64  `json:"autoApprovalThreshold"`
	ValidationWarnings    []string `json:"validationWarnings,omitempty"`
	SettingsVersion       int      `json:"settingsVersion"`
	ProcessingFee         float64  `json:"processingFee"`
}

func payoutDTO(r payout.Request) PayoutDTO {
	return PayoutDTO{
		ID:              r.ID,
		AgentID:         r.AgentID,
		Amount:          r.Amount.Float64(),
		NetAmount:       r.NetAmount().Float64(),
		Method:          string(r.Method),
		AccountDetails:  r.AccountDetails,
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt.Format(time.RFC3339),
		ProcessedAt:     formatOptional(r.ProcessedAt),
		ProcessedBy:     r.ProcessedBy,
		Notes:           r.Notes,
		RejectionReason: r.RejectionReason,
		CommissionIDs:   r.CommissionIDs,
		Metadata: PayoutMetadataDTO{
			AutoApproved:          r.Metadata.AutoApproved,
			AutoPaid:              r.Metadata.AutoPaid,
			AutoApprovalThreshold: r.Metadata.AutoApprovalThreshold.Float64(),
			ValidationWarnings:    r.Metadata.ValidationWarnings,
			SettingsVersion:       r.Metadata.SettingsVersion,
			ProcessingFee:         r.Metadata.ProcessingFee.Float64(),
		},
	}
}

// WindowDTO reports whether payout request creation is currently open.
type WindowDTO struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	NextWindowStart string `json:"nextWindowStart,omitempty"`
}

// StatBucketDTO is one aggregate row in the stats response.
type StatBucketDTO struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// PayoutStatsDTO groups request and ledger aggregates.
type PayoutStatsDTO struct {
	ByStatus []StatBucketDTO `json:"byStatus"`
	ByAgent  []StatBucketDTO `json:"byAgent"`
	ByType   []StatBucketDTO `json:"byType"`
}

// =============================================================================
// POLICY SETTINGS
// =============================================================================

// SettingsDTO represents the current policy in API responses.
type SettingsDTO struct {
	MinWithdrawal          float64     `json:"minWithdrawal"`
	MaxWithdrawal          float64     `json:"maxWithdrawal"`
	DeliveryAmount         float64     `json:"deliveryAmount"`
	AgentOrderRate         string      `json:"agentOrderRate"`
	Schedule               ScheduleDTO `json:"schedule"`
	GlobalHold             bool        `json:"globalHold"`
	HoldReason             string      `json:"holdReason,omitempty"`
	ProcessingFee          float64     `json:"processingFee"`
	AutoApprovalThreshold  float64     `json:"autoApprovalThreshold"`
	RequireManagerApproval bool        `json:"requireManagerApproval"`
	DailyRequestLimit      int         `json:"dailyRequestLimit"`
	DailyAmountLimit       float64     `json:"dailyAmountLimit"`
	WeeklyRequestLimit     int         `json:"weeklyRequestLimit"`
	WeeklyAmountLimit      float64     `json:"weeklyAmountLimit"`
	Version                int         `json:"version"`
	UpdatedAt              string      `json:"updatedAt"`
}

// ScheduleDTO is the weekly payout window.
type ScheduleDTO struct {
	Enabled   bool   `json:"enabled"`
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func settingsDTO(s policy.Settings) SettingsDTO {
	return SettingsDTO{
		MinWithdrawal:  s.MinWithdrawal.Float64(),
		MaxWithdrawal:  s.MaxWithdrawal.Float64(),
		DeliveryAmount: s.CommissionRates.DeliveryAmount.Float64(),
		AgentOrderRate: s.CommissionRates.AgentOrderRate.String(),
		Schedule: ScheduleDTO{
			Enabled:   s.Schedule.Enabled,
			DayOfWeek: int(s.Schedule.DayOfWeek),
			StartTime: s.Schedule.StartTime,
			EndTime:   s.Schedule.EndTime,
		},
		GlobalHold:             s.GlobalHold,
		HoldReason:             s.HoldReason,
		ProcessingFee:          s.ProcessingFee.Float64(),
		AutoApprovalThreshold:  s.AutoApprovalThreshold.Float64(),
		RequireManagerApproval: s.RequireManagerApproval,
		DailyRequestLimit:      s.DailyRequestLimit,
		DailyAmountLimit:       s.DailyAmountLimit.Float64(),
		WeeklyRequestLimit:     s.WeeklyRequestLimit,
		WeeklyAmountLimit:      s.WeeklyAmountLimit.Float64(),
		Version:                s.Version,
		UpdatedAt:              s.UpdatedAt.Format(time.RFC3339),
	}
}

// UpdateSettingsRequest carries a full settings replacement plus audit
// fields. All policy fields are required; this is a PUT, not a PATCH.
type UpdateSettingsRequest struct {
	MinWithdrawal          float64     `json:"minWithdrawal"`
	MaxWithdrawal          float64     `json:"maxWithdrawal"`
	DeliveryAmount         float64     `json:"deliveryAmount"`
	AgentOrderRate         string      `json:"agentOrderRate"`
	Schedule               ScheduleDTO `json:"schedule"`
	GlobalHold             bool        `json:"globalHold"`
	HoldReason             string      `json:"holdReason"`
	ProcessingFee          float64     `json:"processingFee"`
	AutoApprovalThreshold  float64     `json:"autoApprovalThreshold"`
	RequireManagerApproval bool        `json:"requireManagerApproval"`
	DailyRequestLimit      int         `json:"dailyRequestLimit"`
	DailyAmountLimit       float64     `json:"dailyAmountLimit"`
	WeeklyRequestLimit     int         `json:"weeklyRequestLimit"`
	WeeklyAmountLimit      float64     `json:"weeklyAmountLimit"`

	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// ChangeRecordDTO is one settings history entry.
type ChangeRecordDTO struct {
	ID        string           `json:"id"`
	Actor     string           `json:"actor"`
	Reason    string           `json:"reason,omitempty"`
	Changes   []FieldChangeDTO `json:"changes"`
	Version   int              `json:"version"`
	Timestamp string           `json:"timestamp"`
}

// FieldChangeDTO is one field transition inside a history entry.
type FieldChangeDTO struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// =============================================================================
// DIRECTORY FIXTURES
// =============================================================================

// AgentRequest seeds or updates an agent record.
type AgentRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Active     *bool  `json:"active,omitempty"`
	PayoutHold bool   `json:"payoutHold,omitempty"`
	HoldReason string `json:"holdReason,omitempty"`
}

// OrderRequest seeds an order record.
type OrderRequest struct {
	ID    string  `json:"id"`
	Total float64 `json:"total"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorDTO is the uniform error response body.
type ErrorDTO struct {
	Error      string   `json:"error"`
	Detail     string   `json:"detail,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
