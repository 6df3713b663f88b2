// Package messagebird implements the provider adapter contract over the
// MessageBird REST API (AccessKey header auth).
package messagebird

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/common"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/phone"
)

const (
	defaultBaseURL = "https://rest.messagebird.com"
	defaultTimeout = 30 * time.Second
)

// Settings keys recognised in ProviderConfig.Settings.
const (
	SettingAccessKey = "access_key"
	SettingFrom      = "from"
)

// Option customises the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client common.HTTPClient) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithBaseURL points the adapter at a different API root.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter sends messages through MessageBird.
type Adapter struct {
	id          string
	logger      zerolog.Logger
	accessKey   string
	defaultFrom string
	httpClient  common.HTTPClient
	baseURL     string
	now         func() time.Time
}

// New constructs a MessageBird adapter.
func New(cfg models.ProviderConfig, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	key := strings.TrimSpace(cfg.Settings[SettingAccessKey])
	if key == "" {
		return nil, errors.New("messagebird adapter: access key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	id := cfg.ID
	if id == "" {
		id = "messagebird"
	}

	a := &Adapter{
		id:          id,
		logger:      logger.With().Str("component", "messagebird-adapter").Logger(),
		accessKey:   key,
		defaultFrom: strings.TrimSpace(cfg.Settings[SettingFrom]),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     defaultBaseURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// ID returns the registered provider id.
func (a *Adapter) ID() string { return a.id }

// Capabilities reports MessageBird's feature set.
func (a *Adapter) Capabilities() models.Capabilities {
	return models.Capabilities{DeliveryReports: true, ScheduledMessages: true, MMS: false}
}

type sendRequest struct {
	Recipients  []string `json:"recipients"`
	Originator  string   `json:"originator"`
	Body        string   `json:"body"`
	ScheduledAt string   `json:"scheduledDatetime,omitempty"`
}

type apiError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type sendResponse struct {
	ID     string     `json:"id"`
	Errors []apiError `json:"errors"`
}

// Send delivers one message. MessageBird supports provider-side scheduling,
// so a future ScheduledFor travels with the request.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) (*models.DispatchResult, error) {
	if msg == nil {
		return nil, errors.New("messagebird adapter: message is required")
	}

	from := msg.From
	if from == "" {
		from = a.defaultFrom
	}
	if from == "" {
		return nil, errors.New("messagebird adapter: no sender id configured")
	}

	body := sendRequest{
		Recipients: []string{strings.TrimPrefix(msg.To, "+")},
		Originator: from,
		Body:       msg.Body,
	}
	if msg.ScheduledFor != nil {
		body.ScheduledAt = msg.ScheduledFor.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("messagebird adapter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("messagebird adapter: new request: %w", err)
	}
	req.Header.Set("Authorization", "AccessKey "+a.accessKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "messagebird: %v", err), nil
	}
	defer resp.Body.Close()

	raw, err := common.ReadBody(resp.Body, common.DefaultBodyLimit)
	if err != nil {
		return common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "messagebird: %v", err), nil
	}

	var parsed sendResponse
	_ = json.Unmarshal([]byte(raw), &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errType, description := classifyErrors(resp.StatusCode, parsed.Errors)
		result := common.Failure(a.id, a.now(), errType, "messagebird: http %d: %s", resp.StatusCode, description)
		a.logger.Warn().Int("status", resp.StatusCode).Str("error_type", string(errType)).Msg("message rejected")
		return result, nil
	}

	segments, _ := phone.Segments(msg.Body)
	result := common.Success(a.id, parsed.ID, a.now())
	result.Segments = segments
	a.logger.Debug().Str("message_id", parsed.ID).Str("to", msg.To).Msg("message accepted")
	return result, nil
}

type statusResponse struct {
	Recipients struct {
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
	} `json:"recipients"`
}

// Status queries the delivery state of a previously accepted message.
func (a *Adapter) Status(ctx context.Context, messageID string) (models.DeliveryStatus, error) {
	if strings.TrimSpace(messageID) == "" {
		return models.DeliveryStatusUnknown, errors.New("messagebird adapter: message id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return models.DeliveryStatusUnknown, fmt.Errorf("messagebird adapter: new request: %w", err)
	}
	req.Header.Set("Authorization", "AccessKey "+a.accessKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return models.DeliveryStatusUnknown, fmt.Errorf("messagebird adapter: status: %w", err)
	}
	defer resp.Body.Close()

	raw, err := common.ReadBody(resp.Body, common.DefaultBodyLimit)
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.DeliveryStatusUnknown, fmt.Errorf("messagebird adapter: status: http %d", resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed.Recipients.Items) == 0 {
		return models.DeliveryStatusUnknown, nil
	}
	return MapStatus(parsed.Recipients.Items[0].Status), nil
}

// HealthCheck probes the balance endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) models.HealthStatus {
	start := a.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/balance", nil)
	if err != nil {
		return models.HealthStatus{Healthy: false, Error: err.Error(), CheckedAt: start}
	}
	req.Header.Set("Authorization", "AccessKey "+a.accessKey)

	resp, err := a.httpClient.Do(req)
	elapsed := a.now().Sub(start)
	if err != nil {
		return models.HealthStatus{Healthy: false, ResponseTime: elapsed, Error: err.Error(), CheckedAt: start}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.HealthStatus{Healthy: false, ResponseTime: elapsed, Error: fmt.Sprintf("http %d", resp.StatusCode), CheckedAt: start}
	}
	return models.HealthStatus{Healthy: true, ResponseTime: elapsed, CheckedAt: start}
}

// ValidateConfig checks a provider config before it is trusted.
func (a *Adapter) ValidateConfig(cfg models.ProviderConfig) models.ConfigReport {
	report := models.ConfigReport{Valid: true}
	common.RequireSettings(&report, cfg.Settings, SettingAccessKey)
	if from := cfg.Settings[SettingFrom]; from != "" && !phone.IsE164(from) && len(from) > 11 {
		report.AddError("from must be an E.164 number or an alphanumeric sender id of at most 11 characters")
	}
	return report
}

func classifyErrors(httpStatus int, errs []apiError) (models.ErrorType, string) {
	description := http.StatusText(httpStatus)
	for _, e := range errs {
		if e.Description != "" {
			description = e.Description
		}
		switch e.Code {
		case 21: // bad recipient
			return models.ErrorTypeInvalidNumber, description
		case 2: // authentication
			return models.ErrorTypePermanent, description
		}
	}
	return common.ClassifyHTTP(httpStatus), description
}

// MapStatus translates MessageBird's recipient status vocabulary.
func MapStatus(status string) models.DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "scheduled", "buffered":
		return models.DeliveryStatusPending
	case "sent":
		return models.DeliveryStatusSent
	case "delivered":
		return models.DeliveryStatusDelivered
	case "delivery_failed", "expired":
		return models.DeliveryStatusFailed
	default:
		return models.DeliveryStatusUnknown
	}
}
