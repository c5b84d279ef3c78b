package store

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/models"
)

const bookingColumns = `id, customer_id, unit_id, price_list_id, status, duration_minutes, quantity,
	requested_start_at, start_at, end_at, expired_at, main_value, others_value,
	voucher_name, voucher_type, voucher_amount, voucher_max_discount,
	discount, admin_fee, total_value, successful_payment_id, created_at, updated_at`

// GetBooking retrieves a booking by ID
func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return &b, nil
}

// ListExpiredHoldIDs returns holds whose deadline has passed, oldest first
func (s *Store) ListExpiredHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM bookings
		WHERE status = $1 AND expired_at < $2
		ORDER BY expired_at
		LIMIT $3`, models.BookingStatusHold, now, limit)
	return ids, err
}

// ListFinishedReservationIDs returns reservations whose rental period is over
func (s *Store) ListFinishedReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM bookings
		WHERE status = $1 AND end_at <= $2
		ORDER BY end_at
		LIMIT $3`, models.BookingStatusReserved, now, limit)
	return ids, err
}

// HasActiveBooking reports whether the unit is claimed by a hold or reservation
func (t *txStore) HasActiveBooking(ctx context.Context, unitID int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM bookings WHERE unit_id = $1 AND status IN ($2, $3))",
		unitID, models.BookingStatusHold, models.BookingStatusReserved)
	return exists, err
}

// InsertBooking creates a new booking row
func (t *txStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (:id, :customer_id, :unit_id, :price_list_id, :status, :duration_minutes, :quantity,
			:requested_start_at, :start_at, :end_at, :expired_at, :main_value, :others_value,
			:voucher_name, :voucher_type, :voucher_amount, :voucher_max_discount,
			:discount, :admin_fee, :total_value, :successful_payment_id, :created_at, :updated_at)`

	if _, err := t.tx.NamedExecContext(ctx, query, b); err != nil {
		return mapError(fmt.Errorf("failed to insert booking: %w", err))
	}
	return nil
}

// LockBooking reads a booking and locks its row until the transaction ends
func (t *txStore) LockBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := t.tx.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return &b, nil
}

// UpdateBooking writes the mutable fields of a booking
func (t *txStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		UPDATE bookings SET
			status = :status,
			start_at = :start_at,
			end_at = :end_at,
			admin_fee = :admin_fee,
			total_value = :total_value,
			successful_payment_id = :successful_payment_id,
			updated_at = :updated_at
		WHERE id = :id`

	if _, err := t.tx.NamedExecContext(ctx, query, b); err != nil {
		return mapError(err)
	}
	return nil
}
