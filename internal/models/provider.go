package models

import "time"

// RateLimits declares the per-window throughput caps for a provider. A zero
// value disables that window.
type RateLimits struct {
	PerSecond int `json:"per_second,omitempty"`
	PerMinute int `json:"per_minute,omitempty"`
	PerHour   int `json:"per_hour,omitempty"`
	PerDay    int `json:"per_day,omitempty"`
}

// Configured reports whether at least one window carries a cap.
func (r RateLimits) Configured() bool {
	return r.PerSecond > 0 || r.PerMinute > 0 || r.PerHour > 0 || r.PerDay > 0
}

// RetryPolicy controls queue re-enqueue behaviour for a provider.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// ProviderConfig is supplied at registration time and owned by the dispatch
// manager afterwards; the dispatch path never mutates it. Changing a config
// requires re-registration.
type ProviderConfig struct {
	ID          string            `json:"id"`
	Enabled     bool              `json:"enabled"`
	Settings    map[string]string `json:"settings,omitempty"`
	RateLimits  *RateLimits       `json:"rate_limits,omitempty"`
	RetryPolicy *RetryPolicy      `json:"retry_policy,omitempty"`
	MaxInFlight int               `json:"max_in_flight,omitempty"`
}

// Capabilities advertises optional features a provider adapter supports.
type Capabilities struct {
	DeliveryReports   bool `json:"delivery_reports"`
	ScheduledMessages bool `json:"scheduled_messages"`
	MMS               bool `json:"mms"`
}

// HealthStatus is the outcome of a provider health probe.
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// ConfigReport is the result of validating a provider configuration before
// it is trusted.
type ConfigReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddError appends a validation error and flips the report invalid.
func (r *ConfigReport) AddError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

// AddWarning appends a non-fatal validation note.
func (r *ConfigReport) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
