package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// BookingOrchestrator is the facade used by the API layer. It composes the booking and
// payment state machines with reconciliation.
type BookingOrchestrator struct {
	store           Store
	bookings        *BookingService
	payments        *PaymentService
	reconciler      *Reconciler
	idempotency     IdempotencyStore
	defaultProvider string
	logger          *zap.Logger
}

// NewBookingOrchestrator creates a new orchestrator. idempotency may be nil.
func NewBookingOrchestrator(
	store Store,
	bookings *BookingService,
	payments *PaymentService,
	reconciler *Reconciler,
	idempotency IdempotencyStore,
	defaultProvider string,
) *BookingOrchestrator {
	return &BookingOrchestrator{
		store:           store,
		bookings:        bookings,
		payments:        payments,
		reconciler:      reconciler,
		idempotency:     idempotency,
		defaultProvider: defaultProvider,
		logger:          util.GetLogger(),
	}
}

// CreateBookingRequest represents a request to book a unit
type CreateBookingRequest struct {
	CustomerID     *int64     `json:"customer_id"`
	UnitID         int64      `json:"unit_id" binding:"required"`
	PriceListID    int64      `json:"price_list_id" binding:"required"`
	Quantity       int        `json:"quantity" binding:"required,min=1"`
	StartAt        *time.Time `json:"start_at"`
	VoucherName    string     `json:"voucher"`
	IdempotencyKey string     `json:"-"`
}

// InitiatePaymentRequest represents a request to pay for a hold
type InitiatePaymentRequest struct {
	BookingID       string               `json:"-"`
	Provider        string               `json:"provider"`
	Method          models.PaymentMethod `json:"payment_method" binding:"required"`
	BankAccountName string               `json:"bank_account_name"`
}

// BookingDetails is a booking together with its payment attempts
type BookingDetails struct {
	Booking  *models.Booking  `json:"booking"`
	Payments []models.Payment `json:"payments"`
}

// CreateBooking places a hold, snapshotting the named voucher. A repeated request with
// the same idempotency key returns the booking created by the first one.
func (o *BookingOrchestrator) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingOrchestrator.CreateBooking")
	defer span.End()

	var voucher *models.VoucherSnapshot
	if name := strings.TrimSpace(req.VoucherName); name != "" {
		v, err := o.store.GetVoucherByName(ctx, name)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				util.HoldsRejectedTotal.WithLabelValues("invalid_voucher").Inc()
				return nil, fmt.Errorf("%w: voucher %s does not exist", models.ErrInvalidVoucher, name)
			}
			return nil, err
		}
		voucher = v.Snapshot()
	}

	key := ""
	if o.idempotency != nil && req.IdempotencyKey != "" {
		key = "booking:" + req.IdempotencyKey
		existing, claimed, err := o.idempotency.Claim(ctx, key, o.bookings.holdTTL)
		if err != nil {
			o.logger.Warn("Idempotency store unavailable, creating booking without it",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
			key = ""
		} else if !claimed {
			if existing == "" {
				return nil, fmt.Errorf("%w: %s", models.ErrRequestInFlight, req.IdempotencyKey)
			}
			o.logger.Info("Replaying booking for idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("booking_id", existing))
			return o.bookings.GetBooking(ctx, existing)
		}
	}

	booking, err := o.bookings.CreateHold(ctx, HoldRequest{
		CustomerID:  req.CustomerID,
		UnitID:      req.UnitID,
		PriceListID: req.PriceListID,
		Quantity:    req.Quantity,
		StartAt:     req.StartAt,
		Voucher:     voucher,
	})
	if err != nil {
		if key != "" {
			if ferr := o.idempotency.Forget(ctx, key); ferr != nil {
				o.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(ferr))
			}
		}
		return nil, err
	}

	if key != "" {
		if err := o.idempotency.Bind(ctx, key, booking.ID, o.bookings.holdTTL); err != nil {
			o.logger.Warn("Failed to record idempotency key", zap.String("key", key), zap.Error(err))
		}
	}
	return booking, nil
}

// InitiatePayment opens a payment attempt for a hold
func (o *BookingOrchestrator) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*models.Payment, error) {
	providerName := strings.ToUpper(strings.TrimSpace(req.Provider))
	if providerName == "" {
		providerName = o.defaultProvider
	}
	return o.payments.Initiate(ctx, InitiateRequest{
		BookingID:       req.BookingID,
		Provider:        providerName,
		Method:          models.PaymentMethod(strings.ToUpper(string(req.Method))),
		BankAccountName: req.BankAccountName,
	})
}

// VerifyPayment reconciles a payment with its provider and returns the current record
func (o *BookingOrchestrator) VerifyPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return o.reconciler.Verify(ctx, paymentID)
}

// CancelBooking cancels a hold
func (o *BookingOrchestrator) CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return o.bookings.Cancel(ctx, bookingID)
}

// GetBooking returns a booking with all of its payment attempts
func (o *BookingOrchestrator) GetBooking(ctx context.Context, bookingID string) (*BookingDetails, error) {
	booking, err := o.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	payments, err := o.store.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return &BookingDetails{Booking: booking, Payments: payments}, nil
}

// GetPayment returns a payment
func (o *BookingOrchestrator) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return o.payments.GetPayment(ctx, paymentID)
}

// RefundPayment records an operator refund
func (o *BookingOrchestrator) RefundPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return o.payments.Refund(ctx, paymentID)
}

// HandleNotification processes a provider push notification
func (o *BookingOrchestrator) HandleNotification(ctx context.Context, n *models.ProviderNotification) (*models.Payment, error) {
	return o.reconciler.HandleNotification(ctx, n)
}

// LookupVirtualAccount returns the payment a virtual account was issued for
func (o *BookingOrchestrator) LookupVirtualAccount(ctx context.Context, providerName, accountNo string) (*models.Payment, error) {
	return o.reconciler.LookupVirtualAccount(ctx, providerName, accountNo)
}

// SettleVirtualAccount applies a cleared virtual-account transfer
func (o *BookingOrchestrator) SettleVirtualAccount(ctx context.Context, s VirtualAccountSettlement) (*models.Payment, error) {
	return o.reconciler.SettleVirtualAccount(ctx, s)
}
