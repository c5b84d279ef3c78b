package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/provider"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentService owns payment attempts and their settlement
type PaymentService struct {
	store           Store
	bookings        *BookingService
	providers       *provider.Registry
	publisher       EventPublisher
	currency        string
	providerTimeout time.Duration
	logger          *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store Store,
	bookings *BookingService,
	providers *provider.Registry,
	publisher EventPublisher,
	currency string,
	providerTimeout time.Duration,
) *PaymentService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &PaymentService{
		store:           store,
		bookings:        bookings,
		providers:       providers,
		publisher:       publisher,
		currency:        currency,
		providerTimeout: providerTimeout,
		logger:          util.GetLogger(),
	}
}

// InitiateRequest asks for a new payment attempt on a hold
type InitiateRequest struct {
	BookingID       string
	Provider        string
	Method          models.PaymentMethod
	BankAccountName string
}

// ProviderResult is a provider-reported outcome for a payment
type ProviderResult struct {
	Status models.PaymentStatus
	PaidAt *time.Time
	Reason string
}

// Initiate creates a pending payment attempt and opens a session with the provider.
// A provider fault records the attempt as FAILED, keeps the hold, and returns
// ErrProviderUnavailable together with the failed attempt.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer span.End()

	gateway, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	var (
		payment   *models.Payment
		booking   *models.Booking
		expiredEv string
		outcome   error
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		booking = b
		if b.Status != models.BookingStatusHold {
			return fmt.Errorf("%w: booking %s is %s", models.ErrBookingNotHoldable, b.ID, b.Status)
		}

		now := s.bookings.now()
		if now.After(b.ExpiredAt) {
			expiredEv, err = s.bookings.expireTx(ctx, tx, b)
			if err != nil {
				return err
			}
			outcome = fmt.Errorf("%w: booking %s expired at %s", models.ErrHoldExpired, b.ID, b.ExpiredAt.Format(time.RFC3339))
			return nil
		}

		pending, err := tx.HasPendingPayment(ctx, b.ID)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("%w: booking %s already has a pending payment", models.ErrBookingNotHoldable, b.ID)
		}

		fee, err := pricing.ComputeAdminFee(pricing.Subtotal(b.MainValue, b.OthersValue, b.Discount), req.Method)
		if err != nil {
			return err
		}
		b.AdminFee = fee
		b.TotalValue = pricing.ComputeTotal(b.MainValue, b.OthersValue, b.Discount, fee)
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to update booking totals: %w", err)
		}

		p := &models.Payment{
			ID:            uuid.New().String(),
			BookingID:     b.ID,
			Status:        models.PaymentStatusPending,
			Value:         b.TotalValue,
			Currency:      s.currency,
			Provider:      gateway.Name(),
			PaymentMethod: req.Method,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		s.bookings.publish(ctx, expiredEv, booking)
		return nil, outcome
	}

	util.PaymentAttemptsTotal.WithLabelValues(gateway.Name()).Inc()
	s.logger.Info("Payment initiated",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", booking.ID),
		zap.String("provider", gateway.Name()),
		zap.String("method", string(req.Method)),
		zap.Int64("value", payment.Value))

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	result, callErr := gateway.CreatePayment(callCtx, provider.CreatePaymentRequest{
		PaymentID:       payment.ID,
		BookingID:       booking.ID,
		Amount:          payment.Value,
		Currency:        payment.Currency,
		Method:          req.Method,
		ValidUntil:      booking.ExpiredAt,
		BankAccountName: req.BankAccountName,
	})
	if callErr != nil {
		return s.recordProviderFailure(ctx, payment.ID, callErr)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		p.ProviderPaymentID = stringPtr(result.ProviderPaymentID)
		p.QRURL = stringPtr(result.QRURL)
		p.BankCode = stringPtr(result.BankCode)
		p.BankAccountNo = stringPtr(result.BankAccountNo)
		p.BankAccountName = stringPtr(result.BankAccountName)
		p.UpdatedAt = s.bookings.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to store provider reference: %w", err)
		}
		payment = p
		return nil
	})
	if err != nil {
		// without its reference the attempt can never be reconciled, so close it
		s.logger.Error("Failed to store provider reference",
			zap.String("payment_id", payment.ID),
			zap.String("provider_payment_id", result.ProviderPaymentID),
			zap.Error(err))
		return s.recordProviderFailure(ctx, payment.ID, err)
	}

	s.publish(ctx, models.EventTypePaymentInitiated, payment, "")
	return payment, nil
}

// recordProviderFailure marks a pending attempt FAILED after the provider call failed
// or its answer could not be stored.
func (s *PaymentService) recordProviderFailure(ctx context.Context, paymentID string, callErr error) (*models.Payment, error) {
	reason := callErr.Error()
	var payment *models.Payment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = p
		if p.Status != models.PaymentStatusPending {
			return nil
		}
		p.Status = models.PaymentStatusFailed
		p.FailureReason = &reason
		p.UpdatedAt = s.bookings.now()
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		s.logger.Error("Failed to record provider failure",
			zap.String("payment_id", paymentID),
			zap.NamedError("provider_error", callErr),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record provider failure: %w", err)
	}

	util.PaymentFailedTotal.WithLabelValues(payment.Provider, "provider_error").Inc()
	s.logger.Warn("Provider rejected payment initiation",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", payment.BookingID),
		zap.String("provider", payment.Provider),
		zap.Error(callErr))
	s.publish(ctx, models.EventTypePaymentFailed, payment, reason)

	if errors.Is(callErr, models.ErrProviderUnavailable) || errors.Is(callErr, models.ErrUnknownPaymentMethod) {
		return payment, callErr
	}
	return payment, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, callErr)
}

// ApplyProviderResult applies a provider outcome to a payment. Re-applying the current
// status is a no-op; a different terminal status on a finalized payment fails with
// ErrAlreadyFinalized. Success reserves the booking in the same transaction; when the
// booking can no longer be reserved the payment is kept as SUCCESS and flagged for review.
func (s *PaymentService) ApplyProviderResult(ctx context.Context, paymentID string, result ProviderResult) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApplyProviderResult")
	defer span.End()

	var (
		payment      *models.Payment
		booking      *models.Booking
		bookingEvent string
		paymentEvent string
		late         bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = p

		switch {
		case result.Status == p.Status, result.Status == models.PaymentStatusPending:
			return nil
		case p.Status == models.PaymentStatusSuccess && result.Status == models.PaymentStatusRefunded:
			paymentEvent = models.EventTypePaymentRefunded
			return s.refundTx(ctx, tx, p)
		case p.Status.Terminal():
			return fmt.Errorf("%w: payment %s is %s, provider reports %s",
				models.ErrAlreadyFinalized, p.ID, p.Status, result.Status)
		case result.Status == models.PaymentStatusRefunded:
			return fmt.Errorf("%w: pending payment %s cannot be refunded", models.ErrIllegalTransition, p.ID)
		}

		now := s.bookings.now()
		p.Status = result.Status
		p.UpdatedAt = now

		if result.Status != models.PaymentStatusSuccess {
			if result.Reason != "" {
				reason := result.Reason
				p.FailureReason = &reason
			}
			paymentEvent = models.EventTypePaymentFailed
			return tx.UpdatePayment(ctx, p)
		}

		paidAt := now
		if result.PaidAt != nil {
			paidAt = *result.PaidAt
		}
		p.PaidAt = &paidAt
		paymentEvent = models.EventTypePaymentSucceeded

		b, ev, err := s.bookings.reserveTx(ctx, tx, p.BookingID, paidAt, &p.ID)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrHoldExpired), errors.Is(err, models.ErrIllegalTransition):
			p.NeedsReview = true
			late = true
		default:
			return err
		}
		booking, bookingEvent = b, ev

		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.bookings.publish(ctx, bookingEvent, booking)
	switch paymentEvent {
	case models.EventTypePaymentSucceeded:
		util.PaymentSuccessTotal.WithLabelValues(payment.Provider).Inc()
	case models.EventTypePaymentFailed:
		util.PaymentFailedTotal.WithLabelValues(payment.Provider, string(payment.Status)).Inc()
	}
	if paymentEvent != "" {
		reason := ""
		if payment.FailureReason != nil {
			reason = *payment.FailureReason
		}
		s.publish(ctx, paymentEvent, payment, reason)
	}

	if late {
		util.LateSettlementsTotal.Inc()
		status := models.BookingStatus("")
		if booking != nil {
			status = booking.Status
		}
		s.logger.Warn("Payment settled after the hold stopped being reservable, manual reconciliation required",
			zap.String("payment_id", payment.ID),
			zap.String("booking_id", payment.BookingID),
			zap.String("booking_status", string(status)),
			zap.Int64("value", payment.Value))
		s.publish(ctx, models.EventTypePaymentLateSettlement, payment, "booking not reservable at settlement")
	}

	return payment, nil
}

// Refund records a manual refund of a successful payment
func (s *PaymentService) Refund(ctx context.Context, paymentID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	var (
		payment  *models.Payment
		refunded bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = p
		switch p.Status {
		case models.PaymentStatusRefunded:
			return nil
		case models.PaymentStatusSuccess:
			refunded = true
			return s.refundTx(ctx, tx, p)
		default:
			return fmt.Errorf("%w: cannot refund payment in %s", models.ErrIllegalTransition, p.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	if refunded {
		s.logger.Info("Payment refunded",
			zap.String("payment_id", payment.ID),
			zap.String("booking_id", payment.BookingID))
		s.publish(ctx, models.EventTypePaymentRefunded, payment, "")
	}
	return payment, nil
}

func (s *PaymentService) refundTx(ctx context.Context, tx Tx, p *models.Payment) error {
	now := s.bookings.now()
	p.Status = models.PaymentStatusRefunded
	p.RefundedAt = &now
	p.UpdatedAt = now
	return tx.UpdatePayment(ctx, p)
}

// GetPayment retrieves a payment by ID
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

func (s *PaymentService) publish(ctx context.Context, eventType string, p *models.Payment, reason string) {
	event := &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.bookings.now(),
		},
		PaymentID: p.ID,
		BookingID: p.BookingID,
		Status:    p.Status,
		Value:     p.Value,
		Currency:  p.Currency,
		Provider:  p.Provider,
		Reason:    reason,
	}
	if p.ProviderPaymentID != nil {
		event.ProviderPaymentID = *p.ProviderPaymentID
	}
	if err := s.publisher.PublishPaymentEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
