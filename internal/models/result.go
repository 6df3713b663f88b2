package models

import "time"

// ErrorType is the canonical failure taxonomy. Adapters translate every
// provider-specific failure into one of these values before it crosses the
// adapter boundary.
type ErrorType string

const (
	ErrorTypeTemporary     ErrorType = "temporary"
	ErrorTypePermanent     ErrorType = "permanent"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeInvalidNumber ErrorType = "invalid_number"
)

// Retryable reports whether a failure of this type may be re-enqueued.
// Permanent and invalid-number failures are terminal.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypePermanent, ErrorTypeInvalidNumber:
		return false
	default:
		return true
	}
}

// DeliveryStatus is the normalized lifecycle state of a dispatched message.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusUnknown   DeliveryStatus = "unknown"
)

// DeliveryReport is the asynchronous, provider-issued confirmation of a
// message's final status. Keyed by the provider message id; later reports
// overwrite earlier ones.
type DeliveryReport struct {
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorReason string         `json:"error_reason,omitempty"`
	Attempts    int            `json:"attempts"`
}

// DispatchResult is the synchronous outcome of handing a message to a
// provider. MessageID is provider-assigned except for queued-only messages,
// where the locally generated queue id stands in.
type DispatchResult struct {
	Success        bool              `json:"success"`
	MessageID      string            `json:"message_id,omitempty"`
	Provider       string            `json:"provider"`
	Timestamp      time.Time         `json:"timestamp"`
	Cost           float64           `json:"cost,omitempty"`
	Segments       int               `json:"segments,omitempty"`
	Error          string            `json:"error,omitempty"`
	ErrorType      ErrorType         `json:"error_type,omitempty"`
	RetryAfter     time.Duration     `json:"retry_after,omitempty"`
	DeliveryReport *DeliveryReport   `json:"delivery_report,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// QueuedMessage wraps a message held by the queue service. Eligibility is
// gated on ScheduledFor and NextRetryAt both being in the past.
type QueuedMessage struct {
	ID           string        `json:"id"`
	Message      *Message      `json:"message"`
	Priority     Priority      `json:"priority"`
	ProviderID   string        `json:"provider_id,omitempty"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	Attempts     int           `json:"attempts"`
	MaxAttempts  int           `json:"max_attempts"`
	RetryBackoff time.Duration `json:"retry_backoff,omitempty"`
	NextRetryAt  *time.Time    `json:"next_retry_at,omitempty"`
}

// Eligible reports whether the message may be dequeued at the given instant.
func (q *QueuedMessage) Eligible(now time.Time) bool {
	if q == nil || q.Message == nil {
		return false
	}
	if q.Message.ScheduledFor != nil && q.Message.ScheduledFor.After(now) {
		return false
	}
	if q.NextRetryAt != nil && q.NextRetryAt.After(now) {
		return false
	}
	return true
}

// EligibleAt returns the earliest instant the message becomes eligible.
func (q *QueuedMessage) EligibleAt() time.Time {
	at := q.EnqueuedAt
	if q.Message != nil && q.Message.ScheduledFor != nil && q.Message.ScheduledFor.After(at) {
		at = *q.Message.ScheduledFor
	}
	if q.NextRetryAt != nil && q.NextRetryAt.After(at) {
		at = *q.NextRetryAt
	}
	return at
}
