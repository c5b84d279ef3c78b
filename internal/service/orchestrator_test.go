package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookingRequest(key string) CreateBookingRequest {
	return CreateBookingRequest{
		UnitID:         testUnitID,
		PriceListID:    testPriceListID,
		Quantity:       1,
		IdempotencyKey: key,
	}
}

func TestCreateBookingWithVoucher(t *testing.T) {
	f := newFixture()
	nominal := int64(20000)
	now := f.clock.Now()
	f.store.addVoucher(models.Voucher{
		ID:        1,
		Name:      "HEMAT20K",
		Type:      models.VoucherTypeNominal,
		Nominal:   &nominal,
		DateStart: now.Add(-time.Hour),
		DateEnd:   now.Add(24 * time.Hour),
		IsValid:   true,
	})

	req := bookingRequest("")
	req.VoucherName = "HEMAT20K"
	booking, err := f.orch.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), booking.Discount)
	assert.Equal(t, int64(35000), booking.TotalValue)

	// the snapshot survives catalog changes
	f.store.addVoucher(models.Voucher{ID: 1, Name: "HEMAT20K", Type: models.VoucherTypeNominal, IsValid: false})
	payment, err := f.orch.InitiatePayment(context.Background(), InitiatePaymentRequest{
		BookingID: booking.ID,
		Method:    models.PaymentMethodPromptPay,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(35000), payment.Value)
}

func TestCreateBookingUnknownVoucher(t *testing.T) {
	f := newFixture()
	req := bookingRequest("")
	req.VoucherName = "NOPE"

	_, err := f.orch.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrInvalidVoucher)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))
}

func TestCreateBookingIdempotency(t *testing.T) {
	f := newFixture()

	first, err := f.orch.CreateBooking(context.Background(), bookingRequest("req-1"))
	require.NoError(t, err)

	replay, err := f.orch.CreateBooking(context.Background(), bookingRequest("req-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 1, f.publisher.count(models.EventTypeBookingHeld))

	_, err = f.orch.CreateBooking(context.Background(), bookingRequest("req-2"))
	assert.ErrorIs(t, err, models.ErrUnitUnavailable)
	_, claimed := f.idem.keys["booking:req-2"]
	assert.False(t, claimed, "a failed request releases its key")
}

func TestCreateBookingInFlightKey(t *testing.T) {
	f := newFixture()
	_, claimed, err := f.idem.Claim(context.Background(), "booking:req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.orch.CreateBooking(context.Background(), bookingRequest("req-1"))
	assert.ErrorIs(t, err, models.ErrRequestInFlight)
	assert.NotErrorIs(t, err, models.ErrUnitUnavailable)
	assert.Equal(t, models.UnitStatusAvailable, f.store.unitStatus(testUnitID))
}

func TestCreateBookingWithoutIdempotencyStore(t *testing.T) {
	f := newFixture()
	f.idem.err = errors.New("redis down")

	booking, err := f.orch.CreateBooking(context.Background(), bookingRequest("req-1"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusHold, booking.Status)
}

func TestInitiatePaymentDefaultsProvider(t *testing.T) {
	f := newFixture()
	booking, err := f.orch.CreateBooking(context.Background(), bookingRequest(""))
	require.NoError(t, err)

	payment, err := f.orch.InitiatePayment(context.Background(), InitiatePaymentRequest{
		BookingID: booking.ID,
		Method:    "qris",
	})
	require.NoError(t, err)
	assert.Equal(t, "FAKE", payment.Provider)
	assert.Equal(t, models.PaymentMethodQRIS, payment.PaymentMethod)
}

func TestGetBookingIncludesPayments(t *testing.T) {
	f := newFixture()
	booking, err := f.orch.CreateBooking(context.Background(), bookingRequest(""))
	require.NoError(t, err)

	details, err := f.orch.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.NotNil(t, details.Payments)
	assert.Empty(t, details.Payments)

	f.provider.createErr = errors.New("down")
	_, err = f.orch.InitiatePayment(context.Background(), InitiatePaymentRequest{BookingID: booking.ID, Method: models.PaymentMethodQRIS})
	require.ErrorIs(t, err, models.ErrProviderUnavailable)
	f.provider.createErr = nil
	f.clock.Advance(time.Second)
	_, err = f.orch.InitiatePayment(context.Background(), InitiatePaymentRequest{BookingID: booking.ID, Method: models.PaymentMethodQRIS})
	require.NoError(t, err)

	details, err = f.orch.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, details.Payments, 2)
	assert.Equal(t, models.PaymentStatusPending, details.Payments[0].Status)
	assert.Equal(t, models.PaymentStatusFailed, details.Payments[1].Status)

	_, err = f.orch.GetBooking(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFullBookingFlow(t *testing.T) {
	f := newFixture()
	booking, err := f.orch.CreateBooking(context.Background(), bookingRequest(""))
	require.NoError(t, err)

	payment, err := f.orch.InitiatePayment(context.Background(), InitiatePaymentRequest{BookingID: booking.ID, Method: models.PaymentMethodVAPermata})
	require.NoError(t, err)

	f.provider.setStatus(*payment.ProviderPaymentID, models.PaymentStatusSuccess)
	verified, err := f.orch.VerifyPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, verified.Status)

	_, err = f.orch.CancelBooking(context.Background(), booking.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	refunded, err := f.orch.RefundPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)

	details, err := f.orch.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusReserved, details.Booking.Status)
	assert.Equal(t, int64(59000), details.Booking.TotalValue)
}
