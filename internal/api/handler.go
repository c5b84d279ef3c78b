package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/provider"
	"booking-service/internal/provider/faspay"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BookingAPI is the booking core as seen from HTTP
type BookingAPI interface {
	CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*service.BookingDetails, error)
	CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	InitiatePayment(ctx context.Context, req service.InitiatePaymentRequest) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	VerifyPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	RefundPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	HandleNotification(ctx context.Context, n *models.ProviderNotification) (*models.Payment, error)
	LookupVirtualAccount(ctx context.Context, providerName, accountNo string) (*models.Payment, error)
	SettleVirtualAccount(ctx context.Context, s service.VirtualAccountSettlement) (*models.Payment, error)
}

// NotificationSink queues provider notifications for asynchronous processing
type NotificationSink interface {
	PublishNotification(ctx context.Context, n *models.ProviderNotification) error
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	bookings  BookingAPI
	verifiers map[string]provider.WebhookVerifier
	sink      NotificationSink
	faspay    CallbackVerifier
	checks    map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(bookings BookingAPI) *Handler {
	return &Handler{
		bookings:  bookings,
		verifiers: make(map[string]provider.WebhookVerifier),
		checks:    make(map[string]ReadinessCheck),
		logger:    util.GetLogger(),
	}
}

// WithWebhookVerifier accepts pushed notifications for a provider
func (h *Handler) WithWebhookVerifier(providerName string, v provider.WebhookVerifier) *Handler {
	h.verifiers[strings.ToUpper(providerName)] = v
	return h
}

// WithNotificationSink queues verified webhooks instead of applying them inline
func (h *Handler) WithNotificationSink(sink NotificationSink) *Handler {
	h.sink = sink
	return h
}

// WithReadinessCheck adds a dependency to /ready
func (h *Handler) WithReadinessCheck(name string, check ReadinessCheck) *Handler {
	h.checks[name] = check
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings/:id", h.getBooking)
		v1.POST("/bookings/:id/cancel", h.cancelBooking)
		v1.POST("/bookings/:id/payments", h.initiatePayment)

		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/verify", h.verifyPayment)
		v1.POST("/payments/:id/refund", h.refundPayment)

		v1.POST("/webhooks/:provider", h.webhook)
	}

	if h.faspay != nil {
		router.POST(faspay.VAInquiryPath, h.faspayInquiry)
		router.POST(faspay.VAPaymentPath, h.faspayPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createBooking places a hold on a unit
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	booking, err := h.bookings.CreateBooking(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// getBooking returns a booking with its payment attempts
func (h *Handler) getBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	details, err := h.bookings.GetBooking(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// cancelBooking cancels a hold
func (h *Handler) cancelBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.CancelBooking(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// initiatePayment opens a payment attempt for a hold
func (h *Handler) initiatePayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}
	req.BookingID = id

	payment, err := h.bookings.InitiatePayment(c.Request.Context(), req)
	if err != nil {
		if payment != nil && errors.Is(err, models.ErrProviderUnavailable) {
			// the failed attempt is returned so the client can show why and retry
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "PROVIDER_UNAVAILABLE",
				"details": err.Error(),
				"payment": payment,
			})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// getPayment returns a payment
func (h *Handler) getPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.bookings.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// verifyPayment reconciles a payment with its provider
func (h *Handler) verifyPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.bookings.VerifyPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// refundPayment records an operator refund
func (h *Handler) refundPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.bookings.RefundPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// webhook accepts a signed provider notification. The payload only names the payment;
// its status is always re-read from the provider.
func (h *Handler) webhook(c *gin.Context) {
	name := strings.ToUpper(c.Param("provider"))
	verifier, ok := h.verifiers[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "NOT_FOUND",
			"details": "no webhook configured for provider " + name,
		})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	if !verifier.VerifyWebhook(body, c.GetHeader("X-SIGNATURE"), c.GetHeader("X-TIMESTAMP")) {
		util.NotificationsTotal.WithLabelValues("webhook", "bad_signature").Inc()
		h.logger.Warn("Rejected webhook with invalid signature", zap.String("provider", name))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "INVALID_SIGNATURE",
			"details": "signature verification failed",
		})
		return
	}

	notification, err := verifier.ParseWebhook(body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if notification.EventID == "" {
		notification.EventID = uuid.New().String()
	}

	if h.sink != nil {
		err := h.sink.PublishNotification(c.Request.Context(), notification)
		if err == nil {
			util.NotificationsTotal.WithLabelValues("webhook", "queued").Inc()
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
			return
		}
		h.logger.Warn("Failed to queue notification, applying inline",
			zap.String("provider", name),
			zap.Error(err))
	}

	payment, err := h.bookings.HandleNotification(c.Request.Context(), notification)
	if err != nil {
		util.NotificationsTotal.WithLabelValues("webhook", "error").Inc()
		h.writeError(c, err)
		return
	}

	util.NotificationsTotal.WithLabelValues("webhook", string(payment.Status)).Inc()
	c.JSON(http.StatusOK, gin.H{
		"status":         "processed",
		"payment_id":     payment.ID,
		"payment_status": payment.Status,
	})
}

func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": "invalid id: " + id,
		})
		return "", false
	}
	return id, true
}

// errorStatus maps lifecycle errors to HTTP responses
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnitUnavailable):
		return http.StatusConflict, "UNIT_UNAVAILABLE"
	case errors.Is(err, models.ErrRequestInFlight):
		return http.StatusConflict, "REQUEST_IN_FLIGHT"
	case errors.Is(err, models.ErrInvalidVoucher):
		return http.StatusUnprocessableEntity, "INVALID_VOUCHER"
	case errors.Is(err, models.ErrHoldExpired):
		return http.StatusGone, "HOLD_EXPIRED"
	case errors.Is(err, models.ErrBookingNotHoldable):
		return http.StatusConflict, "BOOKING_NOT_HOLDABLE"
	case errors.Is(err, models.ErrAlreadyFinalized):
		return http.StatusConflict, "ALREADY_FINALIZED"
	case errors.Is(err, models.ErrIllegalTransition):
		return http.StatusConflict, "ILLEGAL_TRANSITION"
	case errors.Is(err, models.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "AMOUNT_MISMATCH"
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrUnknownPaymentMethod),
		errors.Is(err, models.ErrUnknownProvider),
		errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		util.RecordError(c.Request.Context(), err)
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   code,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
