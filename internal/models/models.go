package models

import "time"

// UnitStatus is the availability of a rentable unit
type UnitStatus string

// Unit statuses
const (
	UnitStatusAvailable UnitStatus = "AVAILABLE"
	UnitStatusHeld      UnitStatus = "HELD"
	UnitStatusInUse     UnitStatus = "IN_USE"
)

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

// Booking statuses
const (
	BookingStatusHold      BookingStatus = "HOLD"
	BookingStatusReserved  BookingStatus = "RESERVED"
	BookingStatusExpired   BookingStatus = "EXPIRED"
	BookingStatusFailed    BookingStatus = "FAILED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

// Active reports whether the booking still claims its unit.
func (s BookingStatus) Active() bool {
	return s == BookingStatusHold || s == BookingStatusReserved
}

// PaymentStatus is the lifecycle state of a payment attempt
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Terminal reports whether no provider result can move the payment any further
// (refund of a success is the only exception and is handled explicitly).
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

// PaymentMethod identifies how the customer pays
type PaymentMethod string

// Payment methods
const (
	PaymentMethodQRIS      PaymentMethod = "QRIS"
	PaymentMethodVABNI     PaymentMethod = "VA_BNI"
	PaymentMethodVAPermata PaymentMethod = "VA_PERMATA"
	PaymentMethodVABRI     PaymentMethod = "VA_BRI"
	PaymentMethodPromptPay PaymentMethod = "PROMPTPAY"
	PaymentMethodManual    PaymentMethod = "MANUAL"
)

// IsVirtualAccount reports whether the method settles through a bank virtual account.
func (m PaymentMethod) IsVirtualAccount() bool {
	switch m {
	case PaymentMethodVABNI, PaymentMethodVAPermata, PaymentMethodVABRI:
		return true
	}
	return false
}

// IsQR reports whether the method is paid by scanning a QR code.
func (m PaymentMethod) IsQR() bool {
	return m == PaymentMethodQRIS || m == PaymentMethodPromptPay
}

// VoucherType is the discount kind of a voucher
type VoucherType string

// Voucher types
const (
	VoucherTypePercentage VoucherType = "PERCENTAGE"
	VoucherTypeNominal    VoucherType = "NOMINAL"
)

// RentableUnit is an inventory item owned by the catalog
type RentableUnit struct {
	ID        int64      `db:"id" json:"id"`
	Code      string     `db:"code" json:"code"`
	Status    UnitStatus `db:"status" json:"status"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// PriceList is a unit's price for one rental duration
type PriceList struct {
	ID                 int64  `db:"id" json:"id"`
	UnitID             int64  `db:"unit_id" json:"unit_id"`
	Label              string `db:"label" json:"label"`
	DurationMinutes    int    `db:"duration_minutes" json:"duration_minutes"`
	MainValuePerUnit   int64  `db:"main_value_per_unit" json:"main_value_per_unit"`
	OthersValuePerUnit int64  `db:"others_value_per_unit" json:"others_value_per_unit"`
	Active             bool   `db:"active" json:"active"`
}

// Voucher is the live catalog voucher
type Voucher struct {
	ID          int64       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Type        VoucherType `db:"type" json:"type"`
	Percentage  *float64    `db:"percentage" json:"percentage,omitempty"`
	Nominal     *int64      `db:"nominal" json:"nominal,omitempty"`
	MaxDiscount *int64      `db:"max_discount" json:"max_discount,omitempty"`
	DateStart   time.Time   `db:"date_start" json:"date_start"`
	DateEnd     time.Time   `db:"date_end" json:"date_end"`
	IsValid     bool        `db:"is_valid" json:"is_valid"`
	IsVisible   bool        `db:"is_visible" json:"is_visible"`
}

// Snapshot copies the discount terms that a booking keeps for its lifetime.
func (v *Voucher) Snapshot() *VoucherSnapshot {
	s := &VoucherSnapshot{
		Name:        v.Name,
		Type:        v.Type,
		MaxDiscount: v.MaxDiscount,
		ValidFrom:   v.DateStart,
		ValidUntil:  v.DateEnd,
		Active:      v.IsValid,
	}
	switch v.Type {
	case VoucherTypePercentage:
		if v.Percentage != nil {
			s.Amount = *v.Percentage
		}
	case VoucherTypeNominal:
		if v.Nominal != nil {
			s.Amount = float64(*v.Nominal)
		}
	}
	return s
}

// VoucherSnapshot is the immutable voucher copy taken at booking creation
type VoucherSnapshot struct {
	Name        string      `json:"name"`
	Type        VoucherType `json:"type"`
	Amount      float64     `json:"amount"`
	MaxDiscount *int64      `json:"max_discount,omitempty"`
	ValidFrom   time.Time   `json:"valid_from"`
	ValidUntil  time.Time   `json:"valid_until"`
	Active      bool        `json:"active"`
}

// ValidAt reports whether the voucher may be applied at t.
func (v *VoucherSnapshot) ValidAt(t time.Time) bool {
	if v == nil || !v.Active {
		return false
	}
	return !t.Before(v.ValidFrom) && !t.After(v.ValidUntil)
}

// Booking is a customer's claim on a unit
type Booking struct {
	ID                  string        `db:"id" json:"id"`
	CustomerID          *int64        `db:"customer_id" json:"customer_id,omitempty"`
	UnitID              int64         `db:"unit_id" json:"unit_id"`
	PriceListID         int64         `db:"price_list_id" json:"price_list_id"`
	Status              BookingStatus `db:"status" json:"status"`
	DurationMinutes     int           `db:"duration_minutes" json:"duration_minutes"`
	Quantity            int           `db:"quantity" json:"quantity"`
	RequestedStartAt    *time.Time    `db:"requested_start_at" json:"requested_start_at,omitempty"`
	StartAt             *time.Time    `db:"start_at" json:"start_at,omitempty"`
	EndAt               *time.Time    `db:"end_at" json:"end_at,omitempty"`
	ExpiredAt           time.Time     `db:"expired_at" json:"expired_at"`
	MainValue           int64         `db:"main_value" json:"main_value"`
	OthersValue         int64         `db:"others_value" json:"others_value"`
	VoucherName         *string       `db:"voucher_name" json:"voucher_name,omitempty"`
	VoucherType         *VoucherType  `db:"voucher_type" json:"voucher_type,omitempty"`
	VoucherAmount       *float64      `db:"voucher_amount" json:"voucher_amount,omitempty"`
	VoucherMaxDiscount  *int64        `db:"voucher_max_discount" json:"voucher_max_discount,omitempty"`
	Discount            int64         `db:"discount" json:"discount"`
	AdminFee            int64         `db:"admin_fee" json:"admin_fee"`
	TotalValue          int64         `db:"total_value" json:"total_value"`
	SuccessfulPaymentID *string       `db:"successful_payment_id" json:"successful_payment_id,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// Duration is the rental length of the booking.
func (b *Booking) Duration() time.Duration {
	return time.Duration(b.DurationMinutes) * time.Minute
}

// ApplyVoucher copies the voucher terms onto the booking.
func (b *Booking) ApplyVoucher(v *VoucherSnapshot) {
	if v == nil {
		return
	}
	name, typ, amount := v.Name, v.Type, v.Amount
	b.VoucherName = &name
	b.VoucherType = &typ
	b.VoucherAmount = &amount
	if v.MaxDiscount != nil {
		maxDiscount := *v.MaxDiscount
		b.VoucherMaxDiscount = &maxDiscount
	}
}

// Payment is one settlement attempt for a booking
type Payment struct {
	ID                string        `db:"id" json:"id"`
	BookingID         string        `db:"booking_id" json:"booking_id"`
	Status            PaymentStatus `db:"status" json:"status"`
	Value             int64         `db:"value" json:"value"`
	Currency          string        `db:"currency" json:"currency"`
	Provider          string        `db:"provider" json:"provider"`
	ProviderPaymentID *string       `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	PaymentMethod     PaymentMethod `db:"payment_method" json:"payment_method"`
	QRURL             *string       `db:"qr_url" json:"qr_url,omitempty"`
	BankCode          *string       `db:"bank_code" json:"bank_code,omitempty"`
	BankAccountNo     *string       `db:"bank_account_no" json:"bank_account_no,omitempty"`
	BankAccountName   *string       `db:"bank_account_name" json:"bank_account_name,omitempty"`
	FailureReason     *string       `db:"failure_reason" json:"failure_reason,omitempty"`
	NeedsReview       bool          `db:"needs_review" json:"needs_review"`
	PaidAt            *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	RefundedAt        *time.Time    `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
