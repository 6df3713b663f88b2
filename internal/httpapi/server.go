// Package httpapi exposes the gateway's operational HTTP surface: provider
// delivery-report callbacks, health probes, and Prometheus metrics. The
// caller-facing send API lives elsewhere in the platform; this server only
// ingests what providers push back.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/metrics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/webhook"
)

// maxCallbackBytes bounds provider callback bodies.
const maxCallbackBytes = 64 << 10

// signatureHeaders maps provider ids to the header carrying their callback
// signature. Unlisted providers fall back to X-Webhook-Signature.
var signatureHeaders = map[string]string{
	"twilio":      "X-Twilio-Signature",
	"vonage":      "X-Vonage-Signature",
	"messagebird": "Messagebird-Signature",
}

// ReadyFunc reports whether the process is ready to serve.
type ReadyFunc func() bool

// Option customises the server.
type Option func(*Server)

// WithMetrics records callback outcomes and serves /metrics from the given
// gatherer.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithReadiness installs the /readyz check. Without one the server always
// reports ready.
func WithReadiness(ready ReadyFunc) Option {
	return func(s *Server) {
		if ready != nil {
			s.ready = ready
		}
	}
}

// Server routes provider callbacks into the webhook service.
type Server struct {
	logger   zerolog.Logger
	webhooks *webhook.Service
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	ready    ReadyFunc
}

// NewServer constructs the operational HTTP server.
func NewServer(webhooks *webhook.Service, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if webhooks == nil {
		return nil, errors.New("httpapi: webhook service is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &Server{
		logger:   logger.With().Str("component", "httpapi").Logger(),
		webhooks: webhooks,
		ready:    func() bool { return true },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/webhooks/{provider}", s.handleCallback)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		s.countWebhook(provider, "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
		return
	}

	// Callbacks arriving via query string (MessageBird's DLR style) carry
	// an empty body; hand the handler the raw query instead.
	if len(raw) == 0 && r.URL.RawQuery != "" {
		raw = []byte(r.URL.RawQuery)
	}

	signature := r.Header.Get(signatureHeader(provider))
	idempotencyKey := r.Header.Get("Idempotency-Key")

	messageID, report, err := s.webhooks.HandleDeliveryReport(provider, raw, signature, idempotencyKey)
	switch {
	case errors.Is(err, webhook.ErrUnknownProvider):
		s.countWebhook(provider, "rejected")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_provider"})
		return
	case errors.Is(err, webhook.ErrInvalidSignature):
		s.countWebhook(provider, "rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_signature"})
		return
	case err != nil:
		s.countWebhook(provider, "invalid")
		s.logger.Warn().Err(err).Str("provider", provider).Msg("callback parse failed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}

	s.countWebhook(provider, "accepted")
	body := map[string]string{"message_id": messageID}
	if report != nil {
		body["status"] = string(report.Status)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) countWebhook(provider, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookTotal.WithLabelValues(provider, outcome).Inc()
	}
}

func signatureHeader(provider string) string {
	if h, ok := signatureHeaders[provider]; ok {
		return h
	}
	return "X-Webhook-Signature"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
