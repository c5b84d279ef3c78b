package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingService owns the booking lifecycle and the one-active-booking-per-unit rule
type BookingService struct {
	store     Store
	publisher EventPublisher
	holdTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(store Store, publisher EventPublisher, holdTTL time.Duration) *BookingService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &BookingService{
		store:     store,
		publisher: publisher,
		holdTTL:   holdTTL,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// HoldRequest describes a new hold
type HoldRequest struct {
	CustomerID  *int64
	UnitID      int64
	PriceListID int64
	Quantity    int
	StartAt     *time.Time
	Voucher     *models.VoucherSnapshot
}

// CreateHold places an exclusive, time-limited hold on a unit
func (s *BookingService) CreateHold(ctx context.Context, req HoldRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateHold")
	defer span.End()

	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", models.ErrInvalidRequest)
	}

	now := s.now()
	if req.Voucher != nil && !req.Voucher.ValidAt(now) {
		util.HoldsRejectedTotal.WithLabelValues("invalid_voucher").Inc()
		return nil, fmt.Errorf("%w: %s is inactive or outside its validity window", models.ErrInvalidVoucher, req.Voucher.Name)
	}

	var booking *models.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		unit, err := tx.LockUnit(ctx, req.UnitID)
		if err != nil {
			return err
		}
		if unit.Status != models.UnitStatusAvailable {
			return fmt.Errorf("%w: unit %d is %s", models.ErrUnitUnavailable, unit.ID, unit.Status)
		}

		active, err := tx.HasActiveBooking(ctx, req.UnitID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: unit %d already has an active booking", models.ErrUnitUnavailable, unit.ID)
		}

		priceList, err := tx.GetPriceList(ctx, req.UnitID, req.PriceListID)
		if err != nil {
			return err
		}
		if !priceList.Active {
			return fmt.Errorf("%w: price list %d is not active", models.ErrInvalidRequest, priceList.ID)
		}

		qty := int64(req.Quantity)
		mainValue := priceList.MainValuePerUnit * qty
		othersValue := priceList.OthersValuePerUnit * qty
		discount := pricing.ComputeDiscount(req.Voucher, mainValue, now)

		b := &models.Booking{
			ID:               uuid.New().String(),
			CustomerID:       req.CustomerID,
			UnitID:           req.UnitID,
			PriceListID:      priceList.ID,
			Status:           models.BookingStatusHold,
			DurationMinutes:  priceList.DurationMinutes * req.Quantity,
			Quantity:         req.Quantity,
			RequestedStartAt: req.StartAt,
			ExpiredAt:        now.Add(s.holdTTL),
			MainValue:        mainValue,
			OthersValue:      othersValue,
			Discount:         discount,
			TotalValue:       pricing.ComputeTotal(mainValue, othersValue, discount, 0),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		b.ApplyVoucher(req.Voucher)

		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		if err := tx.SetUnitStatus(ctx, req.UnitID, models.UnitStatusHeld); err != nil {
			return fmt.Errorf("failed to hold unit: %w", err)
		}

		booking = b
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnitUnavailable):
			util.HoldsRejectedTotal.WithLabelValues("unit_unavailable").Inc()
		case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrNotFound):
			util.HoldsRejectedTotal.WithLabelValues("invalid_request").Inc()
		default:
			util.HoldsRejectedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	util.HoldsCreatedTotal.Inc()
	s.logger.Info("Hold created",
		zap.String("booking_id", booking.ID),
		zap.Int64("unit_id", booking.UnitID),
		zap.Time("expired_at", booking.ExpiredAt),
		zap.Int64("total_value", booking.TotalValue))

	s.publish(ctx, models.EventTypeBookingHeld, booking)
	return booking, nil
}

// MarkReserved finalizes a hold after a successful payment. It fails with
// ErrHoldExpired when the hold deadline has passed, expiring the hold instead.
func (s *BookingService) MarkReserved(ctx context.Context, bookingID string, paidAt time.Time) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.MarkReserved")
	defer span.End()

	var (
		booking   *models.Booking
		eventType string
		outcome   error
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, ev, err := s.reserveTx(ctx, tx, bookingID, paidAt, nil)
		booking, eventType = b, ev
		if errors.Is(err, models.ErrHoldExpired) {
			// the expiry itself must still commit
			outcome = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventType, booking)
	if outcome != nil {
		return booking, outcome
	}
	return booking, nil
}

// MarkExpired expires a hold and releases its unit. Expiring an already expired
// booking is a no-op.
func (s *BookingService) MarkExpired(ctx context.Context, bookingID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.MarkExpired")
	defer span.End()

	var (
		booking   *models.Booking
		eventType string
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		booking = b
		eventType, err = s.expireTx(ctx, tx, b)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventType, booking)
	return booking, nil
}

// Cancel cancels a hold on behalf of the customer or an operator
func (s *BookingService) Cancel(ctx context.Context, bookingID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Cancel")
	defer span.End()

	var booking *models.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.BookingStatusHold {
			return fmt.Errorf("%w: cannot cancel booking in %s", models.ErrIllegalTransition, b.Status)
		}
		if err := s.transitionTx(ctx, tx, b, models.BookingStatusCancelled, models.UnitStatusAvailable); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking cancelled", zap.String("booking_id", booking.ID))
	s.publish(ctx, models.EventTypeBookingCancelled, booking)
	return booking, nil
}

// Complete closes a reservation whose rental period is over
func (s *BookingService) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Complete")
	defer span.End()

	var booking *models.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.BookingStatusReserved {
			return fmt.Errorf("%w: cannot complete booking in %s", models.ErrIllegalTransition, b.Status)
		}
		if b.EndAt == nil || b.EndAt.After(s.now()) {
			return fmt.Errorf("%w: rental period of %s has not ended", models.ErrIllegalTransition, b.ID)
		}
		if err := s.transitionTx(ctx, tx, b, models.BookingStatusCompleted, models.UnitStatusAvailable); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking completed", zap.String("booking_id", booking.ID))
	s.publish(ctx, models.EventTypeBookingCompleted, booking)
	return booking, nil
}

// GetBooking retrieves a booking by ID
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.store.GetBooking(ctx, bookingID)
}

// reserveTx moves a locked hold to RESERVED. When the deadline has already passed the
// hold is expired instead and ErrHoldExpired is returned together with the expired
// booking; callers commit that expiry. The returned event type is empty when nothing
// changed.
func (s *BookingService) reserveTx(ctx context.Context, tx Tx, bookingID string, paidAt time.Time, paymentID *string) (*models.Booking, string, error) {
	b, err := tx.LockBooking(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	switch b.Status {
	case models.BookingStatusHold:
	case models.BookingStatusExpired:
		return b, "", fmt.Errorf("%w: booking %s expired at %s", models.ErrHoldExpired, b.ID, b.ExpiredAt.Format(time.RFC3339))
	default:
		return b, "", fmt.Errorf("%w: cannot reserve booking in %s", models.ErrIllegalTransition, b.Status)
	}

	if now.After(b.ExpiredAt) {
		eventType, err := s.expireTx(ctx, tx, b)
		if err != nil {
			return nil, "", err
		}
		return b, eventType, fmt.Errorf("%w: booking %s expired at %s", models.ErrHoldExpired, b.ID, b.ExpiredAt.Format(time.RFC3339))
	}

	startAt := now
	if b.RequestedStartAt != nil && b.RequestedStartAt.After(now) {
		startAt = *b.RequestedStartAt
	}
	endAt := startAt.Add(b.Duration())
	b.StartAt = &startAt
	b.EndAt = &endAt
	if paymentID != nil {
		b.SuccessfulPaymentID = paymentID
	}

	if err := s.transitionTx(ctx, tx, b, models.BookingStatusReserved, models.UnitStatusInUse); err != nil {
		return nil, "", err
	}

	s.logger.Info("Booking reserved",
		zap.String("booking_id", b.ID),
		zap.Time("paid_at", paidAt),
		zap.Time("start_at", startAt),
		zap.Time("end_at", endAt))
	return b, models.EventTypeBookingReserved, nil
}

// expireTx expires a locked booking. Already expired bookings are left untouched.
func (s *BookingService) expireTx(ctx context.Context, tx Tx, b *models.Booking) (string, error) {
	switch b.Status {
	case models.BookingStatusExpired:
		return "", nil
	case models.BookingStatusHold:
	default:
		return "", fmt.Errorf("%w: cannot expire booking in %s", models.ErrIllegalTransition, b.Status)
	}

	if err := s.transitionTx(ctx, tx, b, models.BookingStatusExpired, models.UnitStatusAvailable); err != nil {
		return "", err
	}

	s.logger.Info("Hold expired",
		zap.String("booking_id", b.ID),
		zap.Int64("unit_id", b.UnitID))
	return models.EventTypeBookingExpired, nil
}

func (s *BookingService) transitionTx(ctx context.Context, tx Tx, b *models.Booking, to models.BookingStatus, unitStatus models.UnitStatus) error {
	b.Status = to
	b.UpdatedAt = s.now()
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if err := tx.SetUnitStatus(ctx, b.UnitID, unitStatus); err != nil {
		return fmt.Errorf("failed to update unit status: %w", err)
	}
	util.BookingTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

func (s *BookingService) publish(ctx context.Context, eventType string, b *models.Booking) {
	if eventType == "" || b == nil {
		return
	}
	if err := s.publisher.PublishBookingEvent(ctx, newBookingEvent(eventType, b, s.now())); err != nil {
		s.logger.Error("Failed to publish booking event",
			zap.String("event_type", eventType),
			zap.String("booking_id", b.ID),
			zap.Error(err))
	}
}

func newBookingEvent(eventType string, b *models.Booking, at time.Time) *models.BookingEvent {
	return &models.BookingEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: at,
		},
		BookingID:  b.ID,
		UnitID:     b.UnitID,
		CustomerID: b.CustomerID,
		Status:     b.Status,
		TotalValue: b.TotalValue,
		ExpiredAt:  b.ExpiredAt,
		StartAt:    b.StartAt,
		EndAt:      b.EndAt,
	}
}
