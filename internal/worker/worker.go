package worker

import (
	"context"
	"errors"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// NotificationProcessor resolves a provider notification into a payment update
type NotificationProcessor interface {
	HandleNotification(ctx context.Context, n *models.ProviderNotification) (*models.Payment, error)
}

// NotificationWorker consumes provider notifications relayed through Kafka
type NotificationWorker struct {
	consumer  *broker.Consumer
	handler   *broker.NotificationHandler
	processor NotificationProcessor
	logger    *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, processor NotificationProcessor) *NotificationWorker {
	w := &NotificationWorker{
		consumer:  consumer,
		processor: processor,
		logger:    util.GetLogger(),
	}
	w.handler = broker.NewNotificationHandler(w.process)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// process applies one notification. Notifications that can never match a payment are
// acknowledged; anything else is left uncommitted for redelivery.
func (w *NotificationWorker) process(ctx context.Context, n *models.ProviderNotification) error {
	payment, err := w.processor.HandleNotification(ctx, n)
	switch {
	case err == nil:
		util.NotificationsTotal.WithLabelValues("kafka", string(payment.Status)).Inc()
		return nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidRequest):
		util.NotificationsTotal.WithLabelValues("kafka", "unmatched").Inc()
		w.logger.Warn("Ignoring notification for unknown payment",
			zap.String("provider", n.Provider),
			zap.String("provider_payment_id", n.ProviderPaymentID),
			zap.Error(err))
		return nil
	default:
		util.NotificationsTotal.WithLabelValues("kafka", "error").Inc()
		return err
	}
}
