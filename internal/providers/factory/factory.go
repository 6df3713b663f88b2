package factory

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/messagebird"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/mock"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/twilio"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/vonage"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/config"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/dispatch"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/webhook"
)

// Register wires every provider that carries credentials into the dispatch
// manager. A deployment with no configured providers falls back to the mock
// adapter outside production so local runs still dispatch end to end.
func Register(manager *dispatch.Manager, cfg *config.Config, logger zerolog.Logger) error {
	if twilioCfg := cfg.Providers.Twilio; twilioCfg.Configured() {
		providerCfg := models.ProviderConfig{
			ID:      "twilio",
			Enabled: true,
			Settings: map[string]string{
				twilio.SettingAccountSID: twilioCfg.AccountSID,
				twilio.SettingAuthToken:  twilioCfg.AuthToken,
				twilio.SettingFrom:       twilioCfg.From,
			},
			RateLimits:  rateLimits(twilioCfg.Limits),
			RetryPolicy: retryPolicy(twilioCfg.Retry),
			MaxInFlight: twilioCfg.MaxInFlight,
		}
		adapter, err := twilio.New(providerCfg, logger.With().Str("component", "twilio").Logger())
		if err != nil {
			return fmt.Errorf("factory: twilio init: %w", err)
		}
		if err := manager.Register(adapter, providerCfg); err != nil {
			return err
		}
	}

	if vonageCfg := cfg.Providers.Vonage; vonageCfg.Configured() {
		providerCfg := models.ProviderConfig{
			ID:      "vonage",
			Enabled: true,
			Settings: map[string]string{
				vonage.SettingAPIKey:    vonageCfg.APIKey,
				vonage.SettingAPISecret: vonageCfg.APISecret,
				vonage.SettingFrom:      vonageCfg.From,
			},
			RateLimits:  rateLimits(vonageCfg.Limits),
			RetryPolicy: retryPolicy(vonageCfg.Retry),
			MaxInFlight: vonageCfg.MaxInFlight,
		}
		adapter, err := vonage.New(providerCfg, logger.With().Str("component", "vonage").Logger())
		if err != nil {
			return fmt.Errorf("factory: vonage init: %w", err)
		}
		if err := manager.Register(adapter, providerCfg); err != nil {
			return err
		}
	}

	if birdCfg := cfg.Providers.MessageBird; birdCfg.Configured() {
		providerCfg := models.ProviderConfig{
			ID:      "messagebird",
			Enabled: true,
			Settings: map[string]string{
				messagebird.SettingAccessKey: birdCfg.AccessKey,
				messagebird.SettingFrom:      birdCfg.From,
			},
			RateLimits:  rateLimits(birdCfg.Limits),
			RetryPolicy: retryPolicy(birdCfg.Retry),
			MaxInFlight: birdCfg.MaxInFlight,
		}
		adapter, err := messagebird.New(providerCfg, logger.With().Str("component", "messagebird").Logger())
		if err != nil {
			return fmt.Errorf("factory: messagebird init: %w", err)
		}
		if err := manager.Register(adapter, providerCfg); err != nil {
			return err
		}
	}

	if len(manager.All()) == 0 {
		if cfg.App.Env == "production" {
			return errors.New("factory: no providers configured")
		}
		logger.Warn().Msg("no providers configured, registering mock adapter")
		return manager.Register(mock.New("mock"), models.ProviderConfig{ID: "mock", Enabled: true})
	}
	return nil
}

// RegisterWebhooks attaches the delivery-report handler and signing secret
// for each configured provider.
func RegisterWebhooks(webhooks *webhook.Service, cfg *config.Config) error {
	if cfg.Providers.Twilio.Configured() {
		if err := webhooks.RegisterHandler("twilio", twilio.NewWebhookHandler(), cfg.Webhooks.TwilioSecret); err != nil {
			return err
		}
	}
	if cfg.Providers.Vonage.Configured() {
		if err := webhooks.RegisterHandler("vonage", vonage.NewWebhookHandler(), cfg.Webhooks.VonageSecret); err != nil {
			return err
		}
	}
	if cfg.Providers.MessageBird.Configured() {
		if err := webhooks.RegisterHandler("messagebird", messagebird.NewWebhookHandler(), cfg.Webhooks.MessageBirdSecret); err != nil {
			return err
		}
	}
	return nil
}

func retryPolicy(override config.RetryOverride) *models.RetryPolicy {
	if !override.Set() {
		return nil
	}
	return &models.RetryPolicy{
		MaxAttempts: override.MaxAttempts,
		Backoff:     override.Backoff,
	}
}

func rateLimits(limits config.RateLimitConfig) *models.RateLimits {
	if limits == (config.RateLimitConfig{}) {
		return nil
	}
	return &models.RateLimits{
		PerSecond: limits.PerSecond,
		PerMinute: limits.PerMinute,
		PerHour:   limits.PerHour,
		PerDay:    limits.PerDay,
	}
}
