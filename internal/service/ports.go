package service

import (
	"context"
	"time"

	"booking-service/internal/models"
)

// Store is the durable state of the booking core. Every mutation goes through InTx so
// that row locks taken by a Tx are held until the closure returns.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	GetPaymentByAccountNo(ctx context.Context, provider, accountNo string) (*models.Payment, error)
	ListPaymentsByBooking(ctx context.Context, bookingID string) ([]models.Payment, error)
	GetVoucherByName(ctx context.Context, name string) (*models.Voucher, error)

	ListExpiredHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListFinishedReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListPendingPaymentIDs(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
}

// Tx is a unit of work. Lock* methods take row locks held until commit.
type Tx interface {
	LockUnit(ctx context.Context, unitID int64) (*models.RentableUnit, error)
	SetUnitStatus(ctx context.Context, unitID int64, status models.UnitStatus) error
	GetPriceList(ctx context.Context, unitID, priceListID int64) (*models.PriceList, error)
	HasActiveBooking(ctx context.Context, unitID int64) (bool, error)

	InsertBooking(ctx context.Context, b *models.Booking) error
	LockBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error

	HasPendingPayment(ctx context.Context, bookingID string) (bool, error)
	InsertPayment(ctx context.Context, p *models.Payment) error
	LockPayment(ctx context.Context, id string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
}

// EventPublisher announces lifecycle transitions after they commit.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}

// Locker hands out short-lived cross-process locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// IdempotencyStore remembers which booking an Idempotency-Key produced.
type IdempotencyStore interface {
	// Claim reserves key for the caller. When the key is already taken the bound value
	// is returned with claimed=false; the value is empty while the owner is in flight.
	Claim(ctx context.Context, key string, ttl time.Duration) (existing string, claimed bool, err error)
	// Bind records the result for a claimed key.
	Bind(ctx context.Context, key, value string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

type noopPublisher struct{}

func (noopPublisher) PublishBookingEvent(context.Context, *models.BookingEvent) error { return nil }
func (noopPublisher) PublishPaymentEvent(context.Context, *models.PaymentEvent) error { return nil }
