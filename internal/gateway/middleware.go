package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/metrics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/validation"
)

// Next advances the chain towards the core send.
type Next func(ctx context.Context, msg *models.Message) (*models.DispatchResult, error)

// Middleware wraps a send with a cross-cutting concern. A middleware may
// short-circuit by returning without calling next.
type Middleware func(ctx context.Context, msg *models.Message, next Next) (*models.DispatchResult, error)

// Sanitize normalizes the message before dispatch. Never rejects; later
// stages see the cleaned copy and the caller's message stays untouched.
func Sanitize(v *validation.Validator) Middleware {
	return func(ctx context.Context, msg *models.Message, next Next) (*models.DispatchResult, error) {
		return next(ctx, v.Sanitize(msg))
	}
}

// Validate rejects malformed messages with a permanent failure result
// before the dispatch manager is ever consulted.
func Validate(v *validation.Validator) Middleware {
	return func(ctx context.Context, msg *models.Message, next Next) (*models.DispatchResult, error) {
		report := v.Validate(msg)
		if report.Valid {
			return next(ctx, msg)
		}
		errType := models.ErrorTypePermanent
		for _, msgErr := range report.Errors {
			if strings.Contains(msgErr, "recipient") {
				errType = models.ErrorTypeInvalidNumber
				break
			}
		}
		return &models.DispatchResult{
			Success:   false,
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("message rejected: %s", strings.Join(report.Errors, "; ")),
			ErrorType: errType,
		}, nil
	}
}

// Logging emits one event per send attempt with its outcome and latency.
func Logging(logger zerolog.Logger) Middleware {
	return func(ctx context.Context, msg *models.Message, next Next) (*models.DispatchResult, error) {
		start := time.Now()
		result, err := next(ctx, msg)
		event := logger.Debug()
		switch {
		case err != nil:
			event = logger.Error().Err(err)
		case result != nil && !result.Success:
			event = logger.Warn().
				Str("error_type", string(result.ErrorType)).
				Str("error", result.Error)
		}
		if result != nil {
			event = event.Str("provider", result.Provider).Bool("success", result.Success)
		}
		event.Dur("elapsed", time.Since(start)).Msg("send attempt")
		return result, err
	}
}

// Observe records send outcome counters and latency histograms.
func Observe(m *metrics.Metrics) Middleware {
	return func(ctx context.Context, msg *models.Message, next Next) (*models.DispatchResult, error) {
		start := time.Now()
		result, err := next(ctx, msg)
		elapsed := time.Since(start)
		switch {
		case err != nil:
			m.ObserveSend("", "error", elapsed)
		case result == nil:
		case result.Success:
			m.ObserveSend(result.Provider, "sent", elapsed)
		default:
			m.ObserveSend(result.Provider, string(result.ErrorType), elapsed)
			if result.ErrorType == models.ErrorTypeRateLimit {
				m.RateLimited.WithLabelValues(result.Provider).Inc()
			}
		}
		return result, err
	}
}
