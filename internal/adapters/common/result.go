package common

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// DefaultBodyLimit caps how much of a provider response body is read.
const DefaultBodyLimit = 16 * 1024

// Success builds a canonical successful dispatch result.
func Success(provider, messageID string, at time.Time) *models.DispatchResult {
	return &models.DispatchResult{
		Success:   true,
		MessageID: messageID,
		Provider:  provider,
		Timestamp: at,
	}
}

// Failure builds a canonical failed dispatch result.
func Failure(provider string, at time.Time, errType models.ErrorType, format string, args ...any) *models.DispatchResult {
	return &models.DispatchResult{
		Success:   false,
		Provider:  provider,
		Timestamp: at,
		Error:     fmt.Sprintf(format, args...),
		ErrorType: errType,
	}
}

// ClassifyHTTP maps an HTTP status code onto the canonical taxonomy:
// 429 is the provider throttling us, other 4xx are permanent rejections,
// everything from 500 up is temporary.
func ClassifyHTTP(status int) models.ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return models.ErrorTypeRateLimit
	case status >= http.StatusInternalServerError:
		return models.ErrorTypeTemporary
	case status >= http.StatusBadRequest:
		return models.ErrorTypePermanent
	default:
		return models.ErrorTypeTemporary
	}
}

// ReadBody drains at most limit bytes of a response body.
func ReadBody(rc io.ReadCloser, limit int64) (string, error) {
	if rc == nil {
		return "", nil
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return "", fmt.Errorf("adapter: read response body: %w", err)
	}
	return string(data), nil
}

// RequireSettings checks that every named key is present and non-empty in
// the provider settings, appending to the report.
func RequireSettings(report *models.ConfigReport, settings map[string]string, keys ...string) {
	for _, key := range keys {
		if settings[key] == "" {
			report.AddError(fmt.Sprintf("setting %q is required", key))
		}
	}
}
