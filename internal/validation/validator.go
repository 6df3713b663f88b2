// Package validation performs structural and semantic checks on outbound
// messages plus the always-safe Sanitize normalization pass.
package validation

import (
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/phone"
)

// MaxBodyLength is the hard cap on message bodies. Bodies over a single
// segment are billed as multiple segments and only warned about.
const MaxBodyLength = 1600

// Report is the outcome of validating a single message.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Report) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// BatchReport aggregates per-message validation outcomes. Valid is true only
// when every element passed and the batch was non-empty.
type BatchReport struct {
	Valid      bool     `json:"valid"`
	Reports    []Report `json:"reports"`
	ErrorCount int      `json:"error_count"`
}

// Option customises the validator.
type Option func(*Validator)

// WithClock overrides the clock used for scheduled-time checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// Validator checks messages against the gateway contract. The zero-ish
// instance produced by New is safe for concurrent use; it holds no mutable
// state.
type Validator struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Validator.
func New(logger zerolog.Logger, opts ...Option) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	v := &Validator{
		logger: logger.With().Str("component", "validator").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate checks a single message. It never mutates the input.
func (v *Validator) Validate(msg *models.Message) Report {
	report := Report{Valid: true}
	if msg == nil {
		report.addError("message is required")
		return report
	}

	if msg.To == "" {
		report.addError("recipient is required")
	} else if !phone.IsE164(msg.To) {
		report.addError("recipient %q is not a valid E.164 number", msg.To)
	}

	if msg.Body == "" {
		report.addError("body is required")
	} else {
		enc := phone.DetectEncoding(msg.Body)
		length := phone.Length(msg.Body, enc)
		if length > MaxBodyLength {
			report.addError("body is %d characters, maximum is %d", length, MaxBodyLength)
		} else if limit := phone.SingleSegmentLimit(enc); length > limit {
			segments, _ := phone.Segments(msg.Body)
			report.addWarning("body exceeds one %s segment (%d > %d) and will be billed as %d segments", enc, length, limit, segments)
		}
	}

	if msg.ScheduledFor != nil && !msg.ScheduledFor.After(v.now()) {
		report.addError("scheduled_for must be in the future")
	}

	if msg.Priority != nil && !msg.Priority.Valid() {
		report.addError("priority %d is not a recognised level", int(*msg.Priority))
	}

	if !report.Valid {
		v.logger.Debug().Str("to", safeTo(msg)).Strs("errors", report.Errors).Msg("message failed validation")
	}
	return report
}

// ValidateBatch runs Validate per element. An empty batch is invalid.
func (v *Validator) ValidateBatch(msgs []*models.Message) BatchReport {
	batch := BatchReport{Valid: len(msgs) > 0}
	if len(msgs) == 0 {
		return batch
	}
	batch.Reports = make([]Report, 0, len(msgs))
	for _, msg := range msgs {
		report := v.Validate(msg)
		if !report.Valid {
			batch.Valid = false
			batch.ErrorCount += len(report.Errors)
		}
		batch.Reports = append(batch.Reports, report)
	}
	return batch
}

// Sanitize returns a normalized copy of the message: recipient coerced
// towards E.164 where possible, body whitespace collapsed and stripped of
// control characters and script fragments, metadata reduced to primitive
// values. It never fails and never mutates the input.
func (v *Validator) Sanitize(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clean := msg.Clone()

	if normalized, err := phone.NormalizeE164(clean.To); err == nil {
		clean.To = normalized
	}
	clean.Body = phone.CleanBody(clean.Body)
	clean.From = phone.CleanSenderID(clean.From)
	clean.Metadata = sanitizeMetadata(clean.Metadata)
	return clean
}

// sanitizeMetadata keeps only scalar values and slices of scalars, dropping
// nested maps, funcs, channels and anything else opaque.
func sanitizeMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if key == "" {
			continue
		}
		switch val := value.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[key] = val
		case []any:
			kept := make([]any, 0, len(val))
			for _, item := range val {
				if isScalar(item) {
					kept = append(kept, item)
				}
			}
			if len(kept) > 0 {
				out[key] = kept
			}
		case []string:
			out[key] = append([]string(nil), val...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func safeTo(msg *models.Message) string {
	if msg == nil {
		return ""
	}
	return msg.To
}
