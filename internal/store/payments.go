package store

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/models"
)

const paymentColumns = `id, booking_id, status, value, currency, provider, provider_payment_id,
	payment_method, qr_url, bank_code, bank_account_no, bank_account_name,
	failure_reason, needs_review, paid_at, refunded_at, created_at, updated_at`

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

// GetPaymentByProviderID retrieves a payment by the provider's reference
func (s *Store) GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM payments WHERE provider = $1 AND provider_payment_id = $2",
		provider, providerPaymentID)
	if err != nil {
		return nil, notFound(err, "provider payment", providerPaymentID)
	}
	return &p, nil
}

// GetPaymentByAccountNo retrieves the latest payment issued on a virtual account.
// Banks may recycle account numbers, so older attempts are ignored.
func (s *Store) GetPaymentByAccountNo(ctx context.Context, provider, accountNo string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p, `
		SELECT `+paymentColumns+` FROM payments
		WHERE provider = $1 AND bank_account_no = $2
		ORDER BY created_at DESC
		LIMIT 1`, provider, accountNo)
	if err != nil {
		return nil, notFound(err, "virtual account", accountNo)
	}
	return &p, nil
}

// ListPaymentsByBooking retrieves all attempts for a booking, newest first
func (s *Store) ListPaymentsByBooking(ctx context.Context, bookingID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE booking_id = $1 ORDER BY created_at DESC", bookingID)
	return payments, err
}

// ListPendingPaymentIDs returns pending payments created before createdBefore
func (s *Store) ListPendingPaymentIDs(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM payments
		WHERE status = $1 AND provider_payment_id IS NOT NULL AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, models.PaymentStatusPending, createdBefore, limit)
	return ids, err
}

// HasPendingPayment reports whether a booking has an unresolved attempt
func (t *txStore) HasPendingPayment(ctx context.Context, bookingID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE booking_id = $1 AND status = $2)",
		bookingID, models.PaymentStatusPending)
	return exists, err
}

// InsertPayment creates a new payment row
func (t *txStore) InsertPayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (:id, :booking_id, :status, :value, :currency, :provider, :provider_payment_id,
			:payment_method, :qr_url, :bank_code, :bank_account_no, :bank_account_name,
			:failure_reason, :needs_review, :paid_at, :refunded_at, :created_at, :updated_at)`

	if _, err := t.tx.NamedExecContext(ctx, query, p); err != nil {
		return mapError(fmt.Errorf("failed to insert payment: %w", err))
	}
	return nil
}

// LockPayment reads a payment and locks its row until the transaction ends
func (t *txStore) LockPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := t.tx.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

// UpdatePayment writes the mutable fields of a payment
func (t *txStore) UpdatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments SET
			status = :status,
			provider_payment_id = :provider_payment_id,
			qr_url = :qr_url,
			bank_code = :bank_code,
			bank_account_no = :bank_account_no,
			bank_account_name = :bank_account_name,
			failure_reason = :failure_reason,
			needs_review = :needs_review,
			paid_at = :paid_at,
			refunded_at = :refunded_at,
			updated_at = :updated_at
		WHERE id = :id`

	if _, err := t.tx.NamedExecContext(ctx, query, p); err != nil {
		return mapError(err)
	}
	return nil
}
