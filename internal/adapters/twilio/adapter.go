// Package twilio implements the provider adapter contract over Twilio's
// Messages API (basic-auth form POST).
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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
	defaultBaseURL         = "https://api.twilio.com/2010-04-01"
	defaultTimeout         = 30 * time.Second
	defaultPricePerSegment = 0.0079
)

// Settings keys recognised in ProviderConfig.Settings.
const (
	SettingAccountSID      = "account_sid"
	SettingAuthToken       = "auth_token"
	SettingFrom            = "from"
	SettingPricePerSegment = "price_per_segment"
)

// Option customises the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client used to talk to Twilio.
func WithHTTPClient(client common.HTTPClient) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithBaseURL points the adapter at a different API root. Useful for tests.
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

// Adapter sends messages through Twilio.
type Adapter struct {
	id              string
	logger          zerolog.Logger
	accountSID      string
	authToken       string
	defaultFrom     string
	pricePerSegment float64
	httpClient      common.HTTPClient
	baseURL         string
	now             func() time.Time
	maxBodyBytes    int64
}

// New constructs a Twilio adapter from a provider config.
func New(cfg models.ProviderConfig, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	sid := strings.TrimSpace(cfg.Settings[SettingAccountSID])
	token := strings.TrimSpace(cfg.Settings[SettingAuthToken])
	if sid == "" {
		return nil, errors.New("twilio adapter: account sid is required")
	}
	if token == "" {
		return nil, errors.New("twilio adapter: auth token is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	id := cfg.ID
	if id == "" {
		id = "twilio"
	}

	price := defaultPricePerSegment
	if raw := strings.TrimSpace(cfg.Settings[SettingPricePerSegment]); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("twilio adapter: invalid %s %q", SettingPricePerSegment, raw)
		}
		price = parsed
	}

	a := &Adapter{
		id:              id,
		logger:          logger.With().Str("component", "twilio-adapter").Logger(),
		accountSID:      sid,
		authToken:       token,
		defaultFrom:     strings.TrimSpace(cfg.Settings[SettingFrom]),
		pricePerSegment: price,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		baseURL:         defaultBaseURL,
		now:             time.Now,
		maxBodyBytes:    common.DefaultBodyLimit,
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

// Capabilities reports Twilio's feature set.
func (a *Adapter) Capabilities() models.Capabilities {
	return models.Capabilities{DeliveryReports: true, ScheduledMessages: false, MMS: true}
}

// Send delivers one message. Provider-side rejections come back as failed
// results, never as errors.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) (*models.DispatchResult, error) {
	if msg == nil {
		return nil, errors.New("twilio adapter: message is required")
	}

	from := msg.From
	if from == "" {
		from = a.defaultFrom
	}
	if from == "" {
		return nil, errors.New("twilio adapter: no sender id configured")
	}

	params := url.Values{}
	params.Set("To", msg.To)
	params.Set("From", from)
	params.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.baseURL, url.PathEscape(a.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio adapter: new request: %w", err)
	}
	req.SetBasicAuth(a.accountSID, a.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result := common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "twilio: %v", err)
		return result, nil
	}
	defer resp.Body.Close()

	body, err := common.ReadBody(resp.Body, a.maxBodyBytes)
	if err != nil {
		return common.Failure(a.id, a.now(), models.ErrorTypeTemporary, "twilio: %v", err), nil
	}

	parsed := parseMessageBody(body)
	segments, _ := phone.Segments(msg.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result := common.Success(a.id, parsed.SID, a.now())
		result.Segments = segments
		result.Cost = a.estimateCost(parsed, segments)
		result.Metadata = map[string]string{"status": parsed.Status}
		a.logger.Debug().Str("sid", parsed.SID).Str("to", msg.To).Msg("message accepted")
		return result, nil
	}

	errType := classifyError(resp.StatusCode, parsed.Code)
	message := parsed.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	result := common.Failure(a.id, a.now(), errType, "twilio: %d: %s", resp.StatusCode, message)
	a.logger.Warn().
		Int("status", resp.StatusCode).
		Int("error_code", parsed.Code).
		Str("error_type", string(errType)).
		Msg("message rejected")
	return result, nil
}

// Status queries the delivery state of a previously accepted message.
func (a *Adapter) Status(ctx context.Context, messageID string) (models.DeliveryStatus, error) {
	if strings.TrimSpace(messageID) == "" {
		return models.DeliveryStatusUnknown, errors.New("twilio adapter: message id is required")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages/%s.json", a.baseURL, url.PathEscape(a.accountSID), url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.DeliveryStatusUnknown, fmt.Errorf("twilio adapter: new request: %w", err)
	}
	req.SetBasicAuth(a.accountSID, a.authToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return models.DeliveryStatusUnknown, fmt.Errorf("twilio adapter: status: %w", err)
	}
	defer resp.Body.Close()

	body, err := common.ReadBody(resp.Body, a.maxBodyBytes)
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.DeliveryStatusUnknown, fmt.Errorf("twilio adapter: status: http %d", resp.StatusCode)
	}
	return MapStatus(parseMessageBody(body).Status), nil
}

// HealthCheck probes the account endpoint with a lightweight GET.
func (a *Adapter) HealthCheck(ctx context.Context) models.HealthStatus {
	start := a.now()
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", a.baseURL, url.PathEscape(a.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.HealthStatus{Healthy: false, Error: err.Error(), CheckedAt: start}
	}
	req.SetBasicAuth(a.accountSID, a.authToken)

	resp, err := a.httpClient.Do(req)
	elapsed := a.now().Sub(start)
	if err != nil {
		return models.HealthStatus{Healthy: false, ResponseTime: elapsed, Error: err.Error(), CheckedAt: start}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.HealthStatus{
			Healthy:      false,
			ResponseTime: elapsed,
			Error:        fmt.Sprintf("http %d", resp.StatusCode),
			CheckedAt:    start,
		}
	}
	return models.HealthStatus{Healthy: true, ResponseTime: elapsed, CheckedAt: start}
}

// ValidateConfig checks a provider config before it is trusted.
func (a *Adapter) ValidateConfig(cfg models.ProviderConfig) models.ConfigReport {
	report := models.ConfigReport{Valid: true}
	common.RequireSettings(&report, cfg.Settings, SettingAccountSID, SettingAuthToken)
	if sid := cfg.Settings[SettingAccountSID]; sid != "" && !strings.HasPrefix(sid, "AC") {
		report.AddWarning("account sid does not start with AC")
	}
	if from := cfg.Settings[SettingFrom]; from != "" && !phone.IsE164(from) && len(from) > 11 {
		report.AddError("from must be an E.164 number or an alphanumeric sender id of at most 11 characters")
	}
	return report
}

func (a *Adapter) estimateCost(parsed messageBody, segments int) float64 {
	if parsed.Price != "" {
		if price, err := strconv.ParseFloat(strings.TrimPrefix(parsed.Price, "-"), 64); err == nil {
			return price
		}
	}
	return a.pricePerSegment * float64(segments)
}

// invalid-recipient and blocked-recipient codes per Twilio's error catalogue.
var permanentCodes = map[int]struct{}{
	21211: {}, 21214: {}, 21408: {}, 21610: {}, 21612: {}, 21614: {}, 30006: {},
}

var invalidNumberCodes = map[int]struct{}{
	21211: {}, 21214: {}, 21614: {},
}

var rateLimitCodes = map[int]struct{}{
	20429: {}, 30001: {}, 30022: {},
}

func classifyError(httpStatus, code int) models.ErrorType {
	if _, ok := invalidNumberCodes[code]; ok {
		return models.ErrorTypeInvalidNumber
	}
	if _, ok := rateLimitCodes[code]; ok {
		return models.ErrorTypeRateLimit
	}
	if _, ok := permanentCodes[code]; ok {
		return models.ErrorTypePermanent
	}
	return common.ClassifyHTTP(httpStatus)
}

// MapStatus translates Twilio's message status vocabulary.
func MapStatus(status string) models.DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "accepted", "sending", "scheduled":
		return models.DeliveryStatusPending
	case "sent":
		return models.DeliveryStatusSent
	case "delivered", "read":
		return models.DeliveryStatusDelivered
	case "failed", "undelivered", "canceled":
		return models.DeliveryStatusFailed
	default:
		return models.DeliveryStatusUnknown
	}
}

type messageBody struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Price   string `json:"price"`
}

func parseMessageBody(body string) messageBody {
	if strings.TrimSpace(body) == "" {
		return messageBody{}
	}
	var parsed messageBody
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return messageBody{}
	}
	return parsed
}
