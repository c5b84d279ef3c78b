// Package provider defines the boundary to external payment gateways.
package provider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"booking-service/internal/models"
)

// CreatePaymentRequest asks a gateway to open a payment session
type CreatePaymentRequest struct {
	PaymentID       string
	BookingID       string
	Amount          int64
	Currency        string
	Method          models.PaymentMethod
	ValidUntil      time.Time
	BankAccountName string
}

// CreatePaymentResult is what the gateway returns for a new session
type CreatePaymentResult struct {
	ProviderPaymentID string
	QRURL             string
	BankCode          string
	BankAccountNo     string
	BankAccountName   string
}

// StatusRequest identifies a payment at its gateway. Method and BankAccountNo let
// gateways with per-channel status endpoints pick the right one.
type StatusRequest struct {
	PaymentID         string
	ProviderPaymentID string
	Method            models.PaymentMethod
	BankAccountNo     string
}

// StatusResult is the gateway's view of a payment
type StatusResult struct {
	ProviderPaymentID string
	Status            models.PaymentStatus
	PaidAt            *time.Time
	RawStatus         string
}

// Provider is implemented by each payment gateway adapter.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	GetPaymentStatus(ctx context.Context, req StatusRequest) (*StatusResult, error)
}

// WebhookVerifier is implemented by providers that sign their push notifications.
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature, timestamp string) bool
	ParseWebhook(body []byte) (*models.ProviderNotification, error)
}

// Registry resolves providers by name
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered providers in lexical order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
