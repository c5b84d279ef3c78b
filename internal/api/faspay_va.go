package api

import (
	"errors"
	"net/http"

	"booking-service/internal/models"
	"booking-service/internal/provider/faspay"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallbackVerifier checks the signature of a callback sent to one of our paths
type CallbackVerifier interface {
	VerifyCallback(path string, body []byte, signature, timestamp string) bool
}

// WithFaspayCallbacks serves the SNAP virtual-account inquiry and payment callbacks
func (h *Handler) WithFaspayCallbacks(v CallbackVerifier) *Handler {
	h.faspay = v
	return h
}

// faspayInquiry tells Faspay which bill a virtual account belongs to before the bank
// accepts a transfer into it.
func (h *Handler) faspayInquiry(c *gin.Context) {
	body, ok := h.verifiedCallback(c, faspay.VAInquiryPath, faspay.CodeInquiryUnauthorized, faspay.CodeInquiryBadRequest)
	if !ok {
		return
	}

	req, err := faspay.ParseVAInquiry(body)
	if err != nil {
		vaReply(c, http.StatusBadRequest, faspay.CodeInquiryBadRequest, err.Error())
		return
	}

	payment, err := h.bookings.LookupVirtualAccount(c.Request.Context(), faspay.Name, req.VirtualAccountNo)
	switch {
	case errors.Is(err, models.ErrNotFound):
		util.NotificationsTotal.WithLabelValues("va_inquiry", "unmatched").Inc()
		vaReply(c, http.StatusNotFound, faspay.CodeInquiryBillNotFound, "Bill not found")
		return
	case err != nil:
		h.vaError(c, faspay.CodeInquiryError, err)
		return
	}

	if payment.Status != models.PaymentStatusPending {
		util.NotificationsTotal.WithLabelValues("va_inquiry", string(payment.Status)).Inc()
		vaReply(c, http.StatusNotFound, faspay.CodeInquiryBillPaid, "Bill has been paid")
		return
	}

	util.NotificationsTotal.WithLabelValues("va_inquiry", string(payment.Status)).Inc()
	c.JSON(http.StatusOK, faspay.InquiryResponse(req, payment))
}

// faspayPayment settles a payment once a transfer into its virtual account clears
func (h *Handler) faspayPayment(c *gin.Context) {
	body, ok := h.verifiedCallback(c, faspay.VAPaymentPath, faspay.CodePaymentUnauthorized, faspay.CodePaymentBadRequest)
	if !ok {
		return
	}

	req, err := faspay.ParseVAPayment(body)
	if err != nil {
		vaReply(c, http.StatusBadRequest, faspay.CodePaymentBadRequest, err.Error())
		return
	}
	paid, _ := req.Amount()

	payment, err := h.bookings.SettleVirtualAccount(c.Request.Context(), service.VirtualAccountSettlement{
		Provider:  faspay.Name,
		AccountNo: req.VirtualAccountNo,
		Amount:    paid,
		PaidAt:    req.PaidAt(),
		Reference: req.ReferenceNo,
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		util.NotificationsTotal.WithLabelValues("va_payment", "unmatched").Inc()
		vaReply(c, http.StatusNotFound, faspay.CodePaymentBillNotFound, "Bill not found")
		return
	case errors.Is(err, models.ErrAmountMismatch):
		util.NotificationsTotal.WithLabelValues("va_payment", "amount_mismatch").Inc()
		h.logger.Warn("Rejected virtual account transfer",
			zap.String("virtual_account_no", req.VirtualAccountNo),
			zap.Error(err))
		vaReply(c, http.StatusNotFound, faspay.CodePaymentInvalidAmount, "Invalid Amount")
		return
	case err != nil:
		h.vaError(c, faspay.CodePaymentError, err)
		return
	}

	util.NotificationsTotal.WithLabelValues("va_payment", string(payment.Status)).Inc()
	c.JSON(http.StatusOK, faspay.PaymentResponse(req, payment))
}

// verifiedCallback reads the body and checks its SNAP signature
func (h *Handler) verifiedCallback(c *gin.Context, path, unauthorized, badRequest string) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		vaReply(c, http.StatusBadRequest, badRequest, err.Error())
		return nil, false
	}
	if !h.faspay.VerifyCallback(path, body, c.GetHeader("X-SIGNATURE"), c.GetHeader("X-TIMESTAMP")) {
		util.NotificationsTotal.WithLabelValues("va_callback", "bad_signature").Inc()
		h.logger.Warn("Rejected virtual account callback with invalid signature", zap.String("path", path))
		vaReply(c, http.StatusUnauthorized, unauthorized, "Unauthorized. Signature invalid")
		return nil, false
	}
	return body, true
}

func (h *Handler) vaError(c *gin.Context, code string, err error) {
	util.RecordError(c.Request.Context(), err)
	h.logger.Error("Virtual account callback failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	vaReply(c, http.StatusInternalServerError, code, "General Error")
}

func vaReply(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"responseCode":    code,
		"responseMessage": message,
	})
}
