// Package omise adapts the Omise gateway for PromptPay QR payments.
package omise

import (
	"context"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/provider"
	"booking-service/internal/util"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Name is the registry name of this provider
const Name = "OMISE"

// Provider creates PromptPay charges through Omise
type Provider struct {
	client *omise.Client
}

// NewClient creates an Omise API client
func NewClient(publicKey, secretKey string) (*omise.Client, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	c.SetDebug(false)
	return c, nil
}

// NewProvider wraps an Omise client
func NewProvider(client *omise.Client) *Provider {
	return &Provider{client: client}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// MapStatus converts an Omise charge status.
func MapStatus(status string) models.PaymentStatus {
	switch strings.ToLower(status) {
	case "successful":
		return models.PaymentStatusSuccess
	case "pending":
		return models.PaymentStatusPending
	case "expired":
		return models.PaymentStatusExpired
	case "reversed":
		return models.PaymentStatusCancelled
	default:
		return models.PaymentStatusFailed
	}
}

// charge is the subset of an Omise charge this service reads. The PromptPay QR lives on
// the charge's source as a scannable code image.
type charge struct {
	ID             string        `json:"id"`
	Status         string        `json:"status"`
	FailureMessage *string       `json:"failure_message"`
	AuthorizeURI   string        `json:"authorize_uri"`
	Source         *chargeSource `json:"source"`
}

type chargeSource struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	ScannableCode *scannableCode `json:"scannable_code"`
}

type scannableCode struct {
	Type  string `json:"type"`
	Image struct {
		DownloadURI string `json:"download_uri"`
	} `json:"image"`
}

// qrURL returns the renderable QR image for a PromptPay charge
func (c *charge) qrURL() string {
	if c.Source != nil && c.Source.ScannableCode != nil && c.Source.ScannableCode.Image.DownloadURI != "" {
		return c.Source.ScannableCode.Image.DownloadURI
	}
	return c.AuthorizeURI
}

// call runs fn until it returns or ctx ends. omise-go takes no context, so a call that
// outlives ctx finishes in the background and its result is dropped.
func call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreatePayment creates a PromptPay source and charges it
func (p *Provider) CreatePayment(ctx context.Context, req provider.CreatePaymentRequest) (*provider.CreatePaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "Omise.CreatePayment")
	defer span.End()

	if req.Method != models.PaymentMethodPromptPay {
		return nil, fmt.Errorf("%w: omise does not support %s", models.ErrUnknownPaymentMethod, req.Method)
	}

	start := time.Now()
	defer func() {
		util.ProviderRequestLatency.WithLabelValues(Name, "create_charge").Observe(time.Since(start).Seconds())
	}()

	src := &omise.Source{}
	err := call(ctx, func() error {
		return p.client.Do(src, &operations.CreateSource{
			Type:     "promptpay",
			Amount:   req.Amount,
			Currency: strings.ToLower(req.Currency),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: omise create source: %v", models.ErrProviderUnavailable, err)
	}

	ch := &charge{}
	err = call(ctx, func() error {
		return p.client.Do(ch, &operations.CreateCharge{
			Amount:   req.Amount,
			Currency: strings.ToLower(req.Currency),
			Source:   src.ID,
			Metadata: map[string]interface{}{
				"booking_id": req.BookingID,
				"payment_id": req.PaymentID,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: omise create charge: %v", models.ErrProviderUnavailable, err)
	}

	return chargeResult(ch)
}

// chargeResult turns a fresh PromptPay charge into a payment session
func chargeResult(ch *charge) (*provider.CreatePaymentResult, error) {
	if MapStatus(ch.Status) == models.PaymentStatusFailed {
		reason := "charge failed"
		if ch.FailureMessage != nil {
			reason = *ch.FailureMessage
		}
		return nil, fmt.Errorf("%w: omise rejected charge: %s", models.ErrProviderUnavailable, reason)
	}

	qr := ch.qrURL()
	if qr == "" {
		return nil, fmt.Errorf("%w: omise charge %s has no scannable code", models.ErrProviderUnavailable, ch.ID)
	}
	return &provider.CreatePaymentResult{
		ProviderPaymentID: ch.ID,
		QRURL:             qr,
	}, nil
}

// GetPaymentStatus retrieves a charge and maps its status
func (p *Provider) GetPaymentStatus(ctx context.Context, req provider.StatusRequest) (*provider.StatusResult, error) {
	ctx, span := util.StartSpan(ctx, "Omise.GetPaymentStatus")
	defer span.End()

	start := time.Now()
	ch := &charge{}
	err := call(ctx, func() error {
		return p.client.Do(ch, &operations.RetrieveCharge{ChargeID: req.ProviderPaymentID})
	})
	util.ProviderRequestLatency.WithLabelValues(Name, "retrieve_charge").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: omise retrieve charge: %v", models.ErrProviderUnavailable, err)
	}

	status := MapStatus(ch.Status)
	result := &provider.StatusResult{
		ProviderPaymentID: ch.ID,
		Status:            status,
		RawStatus:         ch.Status,
	}
	if status == models.PaymentStatusSuccess {
		paidAt := time.Now()
		result.PaidAt = &paidAt
	}
	return result, nil
}
