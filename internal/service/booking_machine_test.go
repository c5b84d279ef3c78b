package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHold(t *testing.T) {
	f := newFixture()
	pct := 10.0
	maxDiscount := int64(50000)
	now := f.clock.Now()

	booking, err := f.bookings.CreateHold(context.Background(), HoldRequest{
		UnitID:      testUnitID,
		PriceListID: testPriceListID,
		Quantity:    2,
		Voucher: &models.VoucherSnapshot{
			Name:        "HEMAT10",
			Type:        models.VoucherTypePercentage,
			Amount:      pct,
			MaxDiscount: &maxDiscount,
			ValidFrom:   now.Add(-time.Hour),
			ValidUntil:  now.Add(time.Hour),
			Active:      true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusHold, booking.Status)
	assert.Equal(t, int64(100000), booking.MainValue)
	assert.Equal(t, int64(10000), booking.OthersValue)
	assert.Equal(t, int64(10000), booking.Discount)
	assert.Equal(t, int64(100000), booking.TotalValue)
	assert.Equal(t, 120, booking.DurationMinutes)
	assert.Equal(t, now.Add(holdTTL), booking.ExpiredAt)
	require.NotNil(t, booking.VoucherName)
	assert.Equal(t, "HEMAT10", *booking.VoucherName)

	assert.Equal(t, models.UnitStatusHeld, f.store.unitStatus(testUnitID))
	assert.True(t, f.publisher.has(models.EventTypeBookingHeld))
}

func TestCreateHoldRejectsInvalidVoucher(t *testing.T) {
	f := newFixture()
	now := f.clock.Now()

	_, err := f.bookings.CreateHold(context.Background(), HoldRequest{
		UnitID:      testUnitID,
		PriceListID: testPriceListID,
		Quantity:    1,
		Voucher: &models.VoucherSnapshot{
			Name:       "OLD",
			Type:       models.VoucherTypeNominal,
			Amount:     10000,
			ValidFrom:  now.Add(-48 * time.Hour),
			ValidUntil: now.Add(-24 * time.Hour),
			Active:     true,
		},
	})
	assert.ErrorIs(t, err, models.ErrInvalidVoucher)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))
}

func TestCreateHoldValidation(t *testing.T) {
	f := newFixture()

	_, err := f.bookings.CreateHold(context.Background(), HoldRequest{UnitID: testUnitID, PriceListID: testPriceListID})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = f.bookings.CreateHold(context.Background(), HoldRequest{UnitID: testUnitID, PriceListID: 999, Quantity: 1})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))
}

func TestConcurrentCreateHold(t *testing.T) {
	f := newFixture()

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bookings.CreateHold(context.Background(), HoldRequest{
				UnitID:      testUnitID,
				PriceListID: testPriceListID,
				Quantity:    1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, models.ErrUnitUnavailable) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, models.UnitStatusHeld, f.store.unitStatus(testUnitID))
}

func TestMarkReserved(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)

	f.clock.Advance(5 * time.Minute)
	reserved, err := f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusReserved, reserved.Status)
	require.NotNil(t, reserved.StartAt)
	require.NotNil(t, reserved.EndAt)
	assert.Equal(t, f.clock.Now(), *reserved.StartAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *reserved.EndAt)
	assert.Equal(t, models.UnitStatusInUse, f.store.unitStatus(testUnitID))
	assert.True(t, f.publisher.has(models.EventTypeBookingReserved))
}

func TestMarkReservedHonoursRequestedStart(t *testing.T) {
	f := newFixture()
	start := f.clock.Now().Add(3 * time.Hour)

	booking, err := f.bookings.CreateHold(context.Background(), HoldRequest{
		UnitID:      testUnitID,
		PriceListID: testPriceListID,
		Quantity:    1,
		StartAt:     &start,
	})
	require.NoError(t, err)

	reserved, err := f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, start, *reserved.StartAt)
	assert.Equal(t, start.Add(time.Hour), *reserved.EndAt)
}

func TestMarkReservedAfterDeadlineExpiresHold(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)

	f.clock.Advance(holdTTL + time.Second)
	b, err := f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	assert.ErrorIs(t, err, models.ErrHoldExpired)
	require.NotNil(t, b)
	assert.Equal(t, models.BookingStatusExpired, b.Status)

	stored, err := f.store.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, stored.Status)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))

	// a second attempt still reports the expiry
	_, err = f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	assert.ErrorIs(t, err, models.ErrHoldExpired)
}

func TestMarkReservedAtDeadlineSucceeds(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)

	f.clock.Advance(holdTTL)
	reserved, err := f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusReserved, reserved.Status)
}

func TestMarkExpiredIsIdempotent(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)
	f.clock.Advance(holdTTL + time.Minute)

	first, err := f.bookings.MarkExpired(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, first.Status)

	second, err := f.bookings.MarkExpired(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, second.Status)

	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))
	assert.Equal(t, 1, f.publisher.count(models.EventTypeBookingExpired))

	// the unit can be booked again
	_, err = f.bookings.CreateHold(context.Background(), HoldRequest{UnitID: testUnitID, PriceListID: testPriceListID, Quantity: 1})
	assert.NoError(t, err)
}

func TestMarkExpiredAfterReservationIsIllegal(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)
	_, err := f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	require.NoError(t, err)

	_, err = f.bookings.MarkExpired(context.Background(), booking.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.UnitStatusInUse, f.store.unitStatus(testUnitID))
}

func TestExpireReserveRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture()
		booking := f.hold(1)

		var (
			wg                    sync.WaitGroup
			expireErr, reserveErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, expireErr = f.bookings.MarkExpired(context.Background(), booking.ID)
		}()
		go func() {
			defer wg.Done()
			_, reserveErr = f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
		}()
		wg.Wait()

		stored, err := f.store.GetBooking(context.Background(), booking.ID)
		require.NoError(t, err)

		if expireErr == nil {
			assert.ErrorIs(t, reserveErr, models.ErrHoldExpired)
			assert.Equal(t, models.BookingStatusExpired, stored.Status)
			assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))
		} else {
			require.NoError(t, reserveErr)
			assert.ErrorIs(t, expireErr, models.ErrIllegalTransition)
			assert.Equal(t, models.BookingStatusReserved, stored.Status)
			assert.Equal(t, models.UnitStatusInUse, f.store.unitStatus(testUnitID))
		}
	}
}

func TestCancel(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)

	cancelled, err := f.bookings.Cancel(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))

	_, err = f.bookings.Cancel(context.Background(), booking.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestComplete(t *testing.T) {
	f := newFixture()
	booking := f.hold(1)
	_, err := f.bookings.MarkReserved(context.Background(), booking.ID, f.clock.Now())
	require.NoError(t, err)

	_, err = f.bookings.Complete(context.Background(), booking.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition, "rental period still running")

	f.clock.Advance(time.Hour)
	completed, err := f.bookings.Complete(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, completed.Status)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))

	_, err = f.bookings.Cancel(context.Background(), booking.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}
