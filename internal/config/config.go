package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the notification gateway.
// Providers left without credentials are simply not registered; the gateway
// runs with whatever subset is configured.
type Config struct {
	App       AppConfig
	Providers ProvidersConfig
	Retry     RetryConfig
	Queue     QueueConfig
	Webhooks  WebhookConfig
	Kafka     KafkaConfig
	Health    HealthConfig
	Analytics AnalyticsConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// RateLimitConfig caps sends per window for one provider. Zero disables a
// window.
type RateLimitConfig struct {
	PerSecond int
	PerMinute int
	PerHour   int
	PerDay    int
}

// RetryOverride tunes retries for one provider. Zero fields fall back to
// the global Retry settings.
type RetryOverride struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Set reports whether the override carries anything.
func (r RetryOverride) Set() bool {
	return r.MaxAttempts > 0 || r.Backoff > 0
}

// TwilioConfig stores Twilio credentials and throttles.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	From        string
	Limits      RateLimitConfig
	Retry       RetryOverride
	MaxInFlight int
}

// Configured reports whether the provider carries usable credentials.
func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

// VonageConfig stores Vonage credentials and throttles.
type VonageConfig struct {
	APIKey      string
	APISecret   string
	From        string
	Limits      RateLimitConfig
	Retry       RetryOverride
	MaxInFlight int
}

func (c VonageConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != "" && c.From != ""
}

// MessageBirdConfig stores MessageBird credentials and throttles.
type MessageBirdConfig struct {
	AccessKey   string
	From        string
	Limits      RateLimitConfig
	Retry       RetryOverride
	MaxInFlight int
}

func (c MessageBirdConfig) Configured() bool {
	return c.AccessKey != "" && c.From != ""
}

// ProvidersConfig wraps configuration for external SMS providers.
type ProvidersConfig struct {
	Twilio      TwilioConfig
	Vonage      VonageConfig
	MessageBird MessageBirdConfig
}

// RetryConfig controls queue retry and backoff behaviour.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// QueueConfig tunes the queue-worker drain loop.
type QueueConfig struct {
	ProcessInterval time.Duration
	BatchSize       int
	Concurrency     int
}

// WebhookConfig holds the per-provider callback signing secrets. An empty
// secret disables verification for that provider.
type WebhookConfig struct {
	TwilioSecret      string
	VonageSecret      string
	MessageBirdSecret string
}

// KafkaConfig defines broker information and the gateway topics. Brokers
// are optional: without them the intent consumer and result sink stay off.
type KafkaConfig struct {
	Brokers       []string
	IntentTopic   string
	ResultsTopic  string
	ConsumerGroup string
}

// Enabled reports whether Kafka integration is configured at all.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// HealthConfig controls provider health polling.
type HealthConfig struct {
	PollInterval time.Duration
	CheckTimeout time.Duration
}

// AnalyticsConfig bounds the in-memory result window.
type AnalyticsConfig struct {
	Capacity int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Providers.Twilio.AccountSID = ldr.getString("TWILIO_ACCOUNT_SID", "", false)
	cfg.Providers.Twilio.AuthToken = ldr.getString("TWILIO_AUTH_TOKEN", "", false)
	cfg.Providers.Twilio.From = ldr.getString("TWILIO_FROM", "", false)
	cfg.Providers.Twilio.Limits = ldr.getRateLimits("TWILIO")
	cfg.Providers.Twilio.Retry = ldr.getRetryOverride("TWILIO")
	cfg.Providers.Twilio.MaxInFlight = ldr.getInt("TWILIO_MAX_IN_FLIGHT", 16, false)

	cfg.Providers.Vonage.APIKey = ldr.getString("VONAGE_API_KEY", "", false)
	cfg.Providers.Vonage.APISecret = ldr.getString("VONAGE_API_SECRET", "", false)
	cfg.Providers.Vonage.From = ldr.getString("VONAGE_FROM", "", false)
	cfg.Providers.Vonage.Limits = ldr.getRateLimits("VONAGE")
	cfg.Providers.Vonage.Retry = ldr.getRetryOverride("VONAGE")
	cfg.Providers.Vonage.MaxInFlight = ldr.getInt("VONAGE_MAX_IN_FLIGHT", 16, false)

	cfg.Providers.MessageBird.AccessKey = ldr.getString("MESSAGEBIRD_ACCESS_KEY", "", false)
	cfg.Providers.MessageBird.From = ldr.getString("MESSAGEBIRD_FROM", "", false)
	cfg.Providers.MessageBird.Limits = ldr.getRateLimits("MESSAGEBIRD")
	cfg.Providers.MessageBird.Retry = ldr.getRetryOverride("MESSAGEBIRD")
	cfg.Providers.MessageBird.MaxInFlight = ldr.getInt("MESSAGEBIRD_MAX_IN_FLIGHT", 16, false)

	cfg.Retry.MaxAttempts = ldr.getInt("MAX_ATTEMPTS", 3, false)
	cfg.Retry.BaseBackoff = ldr.getSeconds("BASE_BACKOFF_SECONDS", 30)
	cfg.Retry.MaxBackoff = ldr.getSeconds("MAX_BACKOFF_SECONDS", 600)

	cfg.Queue.ProcessInterval = ldr.getSeconds("QUEUE_PROCESS_INTERVAL_SECONDS", 5)
	cfg.Queue.BatchSize = ldr.getInt("QUEUE_BATCH_SIZE", 100, false)
	cfg.Queue.Concurrency = ldr.getInt("QUEUE_CONCURRENCY", 8, false)

	cfg.Webhooks.TwilioSecret = ldr.getString("TWILIO_WEBHOOK_SECRET", "", false)
	cfg.Webhooks.VonageSecret = ldr.getString("VONAGE_WEBHOOK_SECRET", "", false)
	cfg.Webhooks.MessageBirdSecret = ldr.getString("MESSAGEBIRD_WEBHOOK_SECRET", "", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.IntentTopic = ldr.getString("KAFKA_INTENT_TOPIC", "notifications.intents", false)
	cfg.Kafka.ResultsTopic = ldr.getString("KAFKA_RESULTS_TOPIC", "notifications.results", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "notification-gateway", false)

	cfg.Health.PollInterval = ldr.getSeconds("HEALTH_POLL_INTERVAL_SECONDS", 30)
	cfg.Health.CheckTimeout = ldr.getSeconds("HEALTH_CHECK_TIMEOUT_SECONDS", 5)

	cfg.Analytics.Capacity = ldr.getInt("ANALYTICS_CAPACITY", 10000, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getRateLimits(prefix string) RateLimitConfig {
	return RateLimitConfig{
		PerSecond: l.getInt(prefix+"_PER_SECOND", 0, false),
		PerMinute: l.getInt(prefix+"_PER_MINUTE", 0, false),
		PerHour:   l.getInt(prefix+"_PER_HOUR", 0, false),
		PerDay:    l.getInt(prefix+"_PER_DAY", 0, false),
	}
}

func (l *envLoader) getSeconds(key string, def int) time.Duration {
	return time.Duration(l.getInt(key, def, false)) * time.Second
}

func (l *envLoader) getRetryOverride(prefix string) RetryOverride {
	return RetryOverride{
		MaxAttempts: l.getInt(prefix+"_RETRY_MAX_ATTEMPTS", 0, false),
		Backoff:     l.getSeconds(prefix+"_RETRY_BACKOFF_SECONDS", 0),
	}
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
