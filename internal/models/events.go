package models

import "time"

// Event types
const (
	EventTypeBookingHeld      = "BOOKING_HELD"
	EventTypeBookingReserved  = "BOOKING_RESERVED"
	EventTypeBookingExpired   = "BOOKING_EXPIRED"
	EventTypeBookingCancelled = "BOOKING_CANCELLED"
	EventTypeBookingCompleted = "BOOKING_COMPLETED"

	EventTypePaymentInitiated      = "PAYMENT_INITIATED"
	EventTypePaymentSucceeded      = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed         = "PAYMENT_FAILED"
	EventTypePaymentRefunded       = "PAYMENT_REFUNDED"
	EventTypePaymentLateSettlement = "PAYMENT_LATE_SETTLEMENT"

	EventTypeProviderNotification = "PROVIDER_NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingEvent is published on every booking transition
type BookingEvent struct {
	BaseEvent
	BookingID  string        `json:"booking_id"`
	UnitID     int64         `json:"unit_id"`
	CustomerID *int64        `json:"customer_id,omitempty"`
	Status     BookingStatus `json:"status"`
	TotalValue int64         `json:"total_value"`
	ExpiredAt  time.Time     `json:"expired_at"`
	StartAt    *time.Time    `json:"start_at,omitempty"`
	EndAt      *time.Time    `json:"end_at,omitempty"`
}

// PaymentEvent is published on every payment transition
type PaymentEvent struct {
	BaseEvent
	PaymentID         string        `json:"payment_id"`
	BookingID         string        `json:"booking_id"`
	Status            PaymentStatus `json:"status"`
	Value             int64         `json:"value"`
	Currency          string        `json:"currency"`
	Provider          string        `json:"provider"`
	ProviderPaymentID string        `json:"provider_payment_id,omitempty"`
	Reason            string        `json:"reason,omitempty"`
}

// ProviderNotification is a status push from a payment provider, received either
// over the webhook endpoint or from the notification topic.
type ProviderNotification struct {
	BaseEvent
	Provider          string     `json:"provider"`
	ProviderPaymentID string     `json:"provider_payment_id"`
	PaymentID         string     `json:"payment_id,omitempty"`
	RawStatus         string     `json:"raw_status,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}
