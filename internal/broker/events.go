package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedMessage marks messages that can never be processed
var ErrMalformedMessage = errors.New("malformed message")

// EventPublisher handles publishing lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishBookingEvent publishes a booking transition
func (ep *EventPublisher) PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPaymentEvent publishes a payment transition, keyed by its booking
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishNotification forwards a provider notification to the notification topic
func (ep *EventPublisher) PublishNotification(ctx context.Context, n *models.ProviderNotification) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("%s-%s", n.Provider, n.ProviderPaymentID), n)
}

func bookingKey(id string) string {
	return "booking-" + id
}

// NotificationHandler decodes provider notifications from the notification topic
type NotificationHandler struct {
	onNotification func(context.Context, *models.ProviderNotification) error
	logger         *zap.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(fn func(context.Context, *models.ProviderNotification) error) *NotificationHandler {
	return &NotificationHandler{onNotification: fn, logger: util.GetLogger()}
}

// HandleMessage decodes a message and passes it on. Malformed messages are logged and
// acknowledged so they do not block the partition.
func (h *NotificationHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	n, err := DecodeNotification(msg.Value)
	if err != nil {
		util.NotificationsTotal.WithLabelValues("kafka", "malformed").Inc()
		h.logger.Warn("Dropping malformed notification",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	h.logger.Debug("Handling notification",
		zap.String("event_id", n.EventID),
		zap.String("provider", n.Provider),
		zap.String("provider_payment_id", n.ProviderPaymentID))

	return h.onNotification(ctx, n)
}

// DecodeNotification parses a provider notification message
func DecodeNotification(data []byte) (*models.ProviderNotification, error) {
	var n models.ProviderNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if n.EventType != "" && n.EventType != models.EventTypeProviderNotification {
		return nil, fmt.Errorf("%w: unexpected event type %s", ErrMalformedMessage, n.EventType)
	}
	if n.Provider == "" || (n.ProviderPaymentID == "" && n.PaymentID == "") {
		return nil, fmt.Errorf("%w: notification without provider reference", ErrMalformedMessage)
	}
	return &n, nil
}
