// Package pricing computes the amounts owed for a booking. Every function is pure.
package pricing

import (
	"fmt"
	"math"
	"time"

	"booking-service/internal/models"
)

// QRIS fee is 0.705% of the subtotal, rounded up.
const (
	qrisFeeNumerator   = 705
	qrisFeeDenominator = 100000

	virtualAccountFee = 4000
)

// ComputeDiscount returns the discount a voucher grants on base at time now.
// The result is floored to the smallest currency unit and never exceeds base.
func ComputeDiscount(voucher *models.VoucherSnapshot, base int64, now time.Time) int64 {
	if voucher == nil || base <= 0 || !voucher.ValidAt(now) {
		return 0
	}

	var discount int64
	switch voucher.Type {
	case models.VoucherTypeNominal:
		discount = int64(math.Floor(voucher.Amount))
	case models.VoucherTypePercentage:
		discount = int64(math.Floor(float64(base) * voucher.Amount / 100))
		if voucher.MaxDiscount != nil && discount > *voucher.MaxDiscount {
			discount = *voucher.MaxDiscount
		}
	default:
		return 0
	}

	if discount < 0 {
		return 0
	}
	if discount > base {
		return base
	}
	return discount
}

// ComputeAdminFee returns the provider admin fee for subtotal paid with method.
// Unknown methods yield 0 together with ErrUnknownPaymentMethod so callers can refuse
// the payment instead of charging nothing silently.
func ComputeAdminFee(subtotal int64, method models.PaymentMethod) (int64, error) {
	switch method {
	case models.PaymentMethodQRIS:
		if subtotal <= 0 {
			return 0, nil
		}
		return ceilDiv(subtotal*qrisFeeNumerator, qrisFeeDenominator), nil
	case models.PaymentMethodVABNI, models.PaymentMethodVAPermata, models.PaymentMethodVABRI:
		if subtotal <= 0 {
			return 0, nil
		}
		return virtualAccountFee, nil
	case models.PaymentMethodPromptPay, models.PaymentMethodManual:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownPaymentMethod, method)
	}
}

// ComputeTotal returns max(0, main+others-discount) + adminFee.
func ComputeTotal(mainValue, othersValue, discount, adminFee int64) int64 {
	subtotal := Subtotal(mainValue, othersValue, discount)
	return subtotal + adminFee
}

// Subtotal is the amount owed before the admin fee.
func Subtotal(mainValue, othersValue, discount int64) int64 {
	subtotal := mainValue + othersValue - discount
	if subtotal < 0 {
		return 0
	}
	return subtotal
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
