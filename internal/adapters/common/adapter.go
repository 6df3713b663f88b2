// Package common defines the contract every delivery-provider adapter
// implements, plus shared helpers for building canonical results from
// provider HTTP responses.
package common

import (
	"context"
	"net/http"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// Adapter is the common contract over a delivery provider. Implementations
// translate the canonical message into the provider's wire format, perform
// the network call, and map the provider's vocabulary into the canonical
// error taxonomy.
//
// Send returns a non-nil error only for faults (nil message, config broken
// at call time). Ordinary provider-side failures — invalid number, outage,
// throttling — come back as Success:false results with an ErrorType.
type Adapter interface {
	ID() string
	Send(ctx context.Context, msg *models.Message) (*models.DispatchResult, error)
	Status(ctx context.Context, messageID string) (models.DeliveryStatus, error)
	ValidateConfig(cfg models.ProviderConfig) models.ConfigReport
	HealthCheck(ctx context.Context) models.HealthStatus
	Capabilities() models.Capabilities
}

// HTTPClient abstracts http.Client's Do method so tests can stub transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
