// Package vonage implements the provider adapter contract over the Vonage
// (Nexmo) SMS API. Credentials travel in the JSON request body; the API has
// no per-message status query, so Status always reports unknown.
package vonage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/common"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/phone"
)

const (
	defaultBaseURL = "https://rest.nexmo.com"
	defaultTimeout = 30 * time.Second
)

// Settings keys recognised in ProviderConfig.Settings.
const (
	SettingAPIKey    = "api_key"
	SettingAPISecret = "api_secret"
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

// Adapter sends messages through Vonage.
type Adapter struct {
	id          string
	logger      zerolog.Logger
	apiKey      string
	apiSecret   string
	defaultFrom string
	httpClient  common.HTTPClient
	baseURL     string
	now         func() time.Time
}

// New constructs a Vonage adapter.
func New(cfg models.ProviderConfig, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	key := strings.TrimSpace(cfg.Settings[SettingAPIKey])
	secret := strings.TrimSpace(cfg.Settings[SettingAPISecret])
	if key == "" {
		return nil, errors.New("vonage adapter: api key is required")
	}
	if secret == "" {
		return nil, errors.New("vonage adapter: api secret is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	id := cfg.ID
	if id == "" {
		id = "vonage"
	}

	a := &Adapter{
		id:          id,
		logger:      logger.With().Str("component", "vonage-adapter").Logger(),
		apiKey:      key,
		apiSecret:   secret,
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

// Capabilities reports Vonage's feature set.
func (a *Adapter) Capabilities() models.Capabilities {
	return models.Capabilities{DeliveryReports: true, ScheduledMessages: false, MMS: false}
}

type sendRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Type      string `json:"type"`
}

type sendResponse struct {
	MessageCount string `json:"message-count"`
	Messages     []struct {
		Status    string `json:"status"`
		MessageID string `json:"message-id"`
		ErrorText string `json:"error-text"`
		Price     string `json:"message-price"`
	} `json:"messages"`
}

// Send delivers one message.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) (*models.DispatchResult, error) {
	if msg == nil {
		return nil, errors.New("vonage adapter: message is required")
	}

	from := msg.From
	if from == "" {
		from = a.defaultFrom
	}
	if from == "" {
		return nil, errors.New("vonage adapter: no sender id configured")
	}

	msgType := "text"
	if phone.DetectEncoding(msg.Body) == phone.EncodingUCS2 {
		msgType = "unicode"
	}
	payload, err := json.Marshal(sendRequest{
		APIKey:    a.apiKey,
		APISecret: a.apiSecret,
		From:      from,
		To:        strings.TrimPrefix(msg.To, "+"),
		Text:      msg.Body,
		Type:      msgType,
	})
	if err != nil {
		return nil, fmt.Errorf("vonage adapter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/sms/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("vonage adapter: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "vonage: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := common.ReadBody(resp.Body, common.DefaultBodyLimit)
	if err != nil {
		return common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "vonage: %v", err), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return common.Failure(a.id, a.now(), common.ClassifyHTTP(resp.StatusCode), "vonage: http %d", resp.StatusCode), nil
	}

	var parsed sendResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || len(parsed.Messages) == 0 {
		return common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "vonage: unparseable response"), nil
	}

	first := parsed.Messages[0]
	if first.Status != "0" {
		errType := classifyStatus(first.Status)
		result := common.Failure(a.id, a.now(), errType, "vonage: status %s: %s", first.Status, first.ErrorText)
		a.logger.Warn().Str("status", first.Status).Str("error_type", string(errType)).Msg("message rejected")
		return result, nil
	}

	segments, _ := phone.Segments(msg.Body)
	result := common.Success(a.id, first.MessageID, a.now())
	result.Segments = segments
	if price, err := strconv.ParseFloat(first.Price, 64); err == nil {
		result.Cost = price
	}
	a.logger.Debug().Str("message_id", first.MessageID).Str("to", msg.To).Msg("message accepted")
	return result, nil
}

// Status is unsupported by the REST SMS API; per contract it reports
// unknown rather than failing.
func (a *Adapter) Status(_ context.Context, _ string) (models.DeliveryStatus, error) {
	return models.DeliveryStatusUnknown, nil
}

// HealthCheck probes the account balance endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) models.HealthStatus {
	start := a.now()
	endpoint := fmt.Sprintf("%s/account/get-balance?api_key=%s&api_secret=%s", a.baseURL, a.apiKey, a.apiSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.HealthStatus{Healthy: false, Error: err.Error(), CheckedAt: start}
	}

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
	common.RequireSettings(&report, cfg.Settings, SettingAPIKey, SettingAPISecret)
	if from := cfg.Settings[SettingFrom]; from == "" {
		report.AddWarning("no default sender id; every message must carry its own from")
	}
	return report
}

// classifyStatus maps Vonage status codes onto the canonical taxonomy.
func classifyStatus(status string) models.ErrorType {
	switch status {
	case "1", "9": // throttled, quota exceeded
		return models.ErrorTypeRateLimit
	case "5": // internal error
		return models.ErrorTypeTemporary
	case "3", "7", "15": // invalid params, number barred, unsupported network
		return models.ErrorTypeInvalidNumber
	default:
		return models.ErrorTypePermanent
	}
}
