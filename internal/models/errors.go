package models

import "errors"

// Booking and payment lifecycle errors. Callers match them with errors.Is.
var (
	ErrUnitUnavailable     = errors.New("unit unavailable")
	ErrInvalidVoucher      = errors.New("invalid voucher")
	ErrHoldExpired         = errors.New("hold expired")
	ErrBookingNotHoldable  = errors.New("booking not holdable")
	ErrAlreadyFinalized    = errors.New("payment already finalized")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrIllegalTransition   = errors.New("illegal state transition")

	ErrNotFound             = errors.New("not found")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrUnknownProvider      = errors.New("unknown payment provider")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAmountMismatch       = errors.New("paid amount does not match")
	ErrRequestInFlight      = errors.New("request with this idempotency key is in progress")
)
