// Package faspay talks to the Faspay SNAP API for QRIS and virtual-account payments.
package faspay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/provider"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Name is the registry name of this provider
const Name = "FASPAY"

const (
	qrGeneratePath = "/v1.0/qr/qr-mpm-generate"
	qrQueryPath    = "/v1.0/qr/qr-mpm-query"
	vaCreatePath   = "/v1.0/transfer-va/create-va"
	vaStatusPath   = "/v1.0/transfer-va/status"

	// WebhookPath is the path Faspay signs its notifications against.
	WebhookPath = "/api/v1/webhooks/FASPAY"

	dateLayout = "2006-01-02 15:04:05"
)

// statusMap translates Faspay transaction status codes.
var statusMap = map[string]models.PaymentStatus{
	"00": models.PaymentStatusSuccess,
	"01": models.PaymentStatusPending,
	"03": models.PaymentStatusPending,
	"04": models.PaymentStatusRefunded,
	"05": models.PaymentStatusCancelled,
	"06": models.PaymentStatusFailed,
	"07": models.PaymentStatusExpired,
}

// bankCodes maps virtual-account methods to Faspay channel codes.
var bankCodes = map[models.PaymentMethod]string{
	models.PaymentMethodVABNI:     "801",
	models.PaymentMethodVAPermata: "402",
	models.PaymentMethodVABRI:     "002",
}

const qrisChannelCode = "711"

var jakarta = loadJakarta()

func loadJakarta() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}

// MapStatus converts a Faspay status code; unknown codes are treated as failed.
func MapStatus(code string) models.PaymentStatus {
	if status, ok := statusMap[code]; ok {
		return status
	}
	return models.PaymentStatusFailed
}

// ParseDate parses a Faspay local timestamp. Empty or malformed input yields nil.
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(dateLayout, s, jakarta)
	if err != nil {
		return nil
	}
	return &t
}

// FormatDate renders t the way Faspay expects
func FormatDate(t time.Time) string {
	return t.In(jakarta).Format(dateLayout)
}

// Config holds Faspay credentials
type Config struct {
	BaseURL    string
	MerchantID string
	PartnerID  string
	SecretKey  string
	Timeout    time.Duration
}

// Client is a Faspay SNAP client
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new Faspay client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return Name
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func formatAmount(v int64, currency string) amount {
	return amount{Value: fmt.Sprintf("%d.00", v), Currency: currency}
}

type qrGenerateRequest struct {
	PartnerReferenceNo string         `json:"partnerReferenceNo"`
	MerchantID         string         `json:"merchantId"`
	Amount             amount         `json:"amount"`
	ValidityPeriod     string         `json:"validityPeriod"`
	AdditionalInfo     map[string]any `json:"additionalInfo"`
}

type qrGenerateResponse struct {
	ResponseCode       string `json:"responseCode"`
	ResponseMessage    string `json:"responseMessage"`
	ReferenceNo        string `json:"referenceNo"`
	PartnerReferenceNo string `json:"partnerReferenceNo"`
	QRURL              string `json:"qrUrl"`
}

type vaCreateRequest struct {
	PartnerServiceID   string         `json:"partnerServiceId"`
	CustomerNo         string         `json:"customerNo"`
	VirtualAccountName string         `json:"virtualAccountName"`
	TrxID              string         `json:"trxId"`
	TotalAmount        amount         `json:"totalAmount"`
	ExpiredDate        string         `json:"expiredDate"`
	AdditionalInfo     map[string]any `json:"additionalInfo"`
}

type vaCreateResponse struct {
	ResponseCode       string `json:"responseCode"`
	ResponseMessage    string `json:"responseMessage"`
	VirtualAccountData struct {
		VirtualAccountNo   string `json:"virtualAccountNo"`
		VirtualAccountName string `json:"virtualAccountName"`
		TrxID              string `json:"trxId"`
	} `json:"virtualAccountData"`
}

type statusRequest struct {
	OriginalReferenceNo        string         `json:"originalReferenceNo"`
	OriginalPartnerReferenceNo string         `json:"originalPartnerReferenceNo"`
	MerchantID                 string         `json:"merchantId"`
	ServiceCode                string         `json:"serviceCode"`
	AdditionalInfo             map[string]any `json:"additionalInfo,omitempty"`
}

type vaStatusRequest struct {
	PartnerServiceID string         `json:"partnerServiceId"`
	CustomerNo       string         `json:"customerNo"`
	VirtualAccountNo string         `json:"virtualAccountNo"`
	InquiryRequestID string         `json:"inquiryRequestId"`
	AdditionalInfo   map[string]any `json:"additionalInfo,omitempty"`
}

type vaStatusResponse struct {
	ResponseCode       string `json:"responseCode"`
	ResponseMessage    string `json:"responseMessage"`
	VirtualAccountData struct {
		VirtualAccountNo  string `json:"virtualAccountNo"`
		PaymentRequestID  string `json:"paymentRequestId"`
		PaymentFlagStatus string `json:"paymentFlagStatus"`
		TrxDateTime       string `json:"trxDateTime"`
	} `json:"virtualAccountData"`
}

type statusResponse struct {
	ResponseCode            string `json:"responseCode"`
	ResponseMessage         string `json:"responseMessage"`
	ReferenceNo             string `json:"referenceNo"`
	PartnerReferenceNo      string `json:"partnerReferenceNo"`
	LatestTransactionStatus string `json:"latestTransactionStatus"`
	PaidTime                string `json:"paidTime"`
}

// CreatePayment opens a QRIS or virtual-account session
func (c *Client) CreatePayment(ctx context.Context, req provider.CreatePaymentRequest) (*provider.CreatePaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "Faspay.CreatePayment")
	defer span.End()

	switch {
	case req.Method == models.PaymentMethodQRIS:
		return c.createQRIS(ctx, req)
	case req.Method.IsVirtualAccount():
		return c.createVirtualAccount(ctx, req)
	default:
		return nil, fmt.Errorf("%w: faspay does not support %s", models.ErrUnknownPaymentMethod, req.Method)
	}
}

func (c *Client) createQRIS(ctx context.Context, req provider.CreatePaymentRequest) (*provider.CreatePaymentResult, error) {
	body := qrGenerateRequest{
		PartnerReferenceNo: req.PaymentID,
		MerchantID:         c.cfg.MerchantID,
		Amount:             formatAmount(req.Amount, req.Currency),
		ValidityPeriod:     req.ValidUntil.In(jakarta).Format(time.RFC3339),
		AdditionalInfo: map[string]any{
			"billDescription": fmt.Sprintf("Booking #%s", req.BookingID),
			"channelCode":     qrisChannelCode,
		},
	}

	var resp qrGenerateResponse
	if err := c.post(ctx, qrGeneratePath, body, &resp); err != nil {
		return nil, err
	}
	if !successCode(resp.ResponseCode) {
		return nil, fmt.Errorf("%w: faspay qr generate rejected: %s %s",
			models.ErrProviderUnavailable, resp.ResponseCode, resp.ResponseMessage)
	}

	return &provider.CreatePaymentResult{
		ProviderPaymentID: resp.ReferenceNo,
		QRURL:             resp.QRURL,
	}, nil
}

func (c *Client) createVirtualAccount(ctx context.Context, req provider.CreatePaymentRequest) (*provider.CreatePaymentResult, error) {
	bankCode := bankCodes[req.Method]
	name := req.BankAccountName
	if name == "" {
		name = "Booking " + req.BookingID
	}

	body := vaCreateRequest{
		PartnerServiceID:   c.cfg.PartnerID,
		CustomerNo:         req.PaymentID,
		VirtualAccountName: name,
		TrxID:              req.PaymentID,
		TotalAmount:        formatAmount(req.Amount, req.Currency),
		ExpiredDate:        req.ValidUntil.In(jakarta).Format(time.RFC3339),
		AdditionalInfo: map[string]any{
			"channelCode": bankCode,
		},
	}

	var resp vaCreateResponse
	if err := c.post(ctx, vaCreatePath, body, &resp); err != nil {
		return nil, err
	}
	if !successCode(resp.ResponseCode) {
		return nil, fmt.Errorf("%w: faspay create va rejected: %s %s",
			models.ErrProviderUnavailable, resp.ResponseCode, resp.ResponseMessage)
	}

	return &provider.CreatePaymentResult{
		ProviderPaymentID: resp.VirtualAccountData.TrxID,
		BankCode:          bankCode,
		BankAccountNo:     resp.VirtualAccountData.VirtualAccountNo,
		BankAccountName:   resp.VirtualAccountData.VirtualAccountName,
	}, nil
}

// GetPaymentStatus queries the current status of a payment. QRIS and virtual-account
// transactions live behind different SNAP endpoints.
func (c *Client) GetPaymentStatus(ctx context.Context, req provider.StatusRequest) (*provider.StatusResult, error) {
	ctx, span := util.StartSpan(ctx, "Faspay.GetPaymentStatus")
	defer span.End()

	if req.Method.IsVirtualAccount() {
		return c.virtualAccountStatus(ctx, req)
	}

	body := statusRequest{
		OriginalReferenceNo:        req.ProviderPaymentID,
		OriginalPartnerReferenceNo: req.PaymentID,
		MerchantID:                 c.cfg.MerchantID,
		ServiceCode:                "47",
		AdditionalInfo:             map[string]any{"channelCode": qrisChannelCode},
	}

	var resp statusResponse
	if err := c.post(ctx, qrQueryPath, body, &resp); err != nil {
		return nil, err
	}
	if !successCode(resp.ResponseCode) {
		return nil, fmt.Errorf("%w: faspay status query rejected: %s %s",
			models.ErrProviderUnavailable, resp.ResponseCode, resp.ResponseMessage)
	}

	return &provider.StatusResult{
		ProviderPaymentID: resp.ReferenceNo,
		Status:            MapStatus(resp.LatestTransactionStatus),
		PaidAt:            ParseDate(resp.PaidTime),
		RawStatus:         resp.LatestTransactionStatus,
	}, nil
}

// virtualAccountStatus asks whether a transfer into the account has been flagged.
// An unpaid account answers "bill not found", which is still pending.
func (c *Client) virtualAccountStatus(ctx context.Context, req provider.StatusRequest) (*provider.StatusResult, error) {
	if req.BankAccountNo == "" {
		return nil, fmt.Errorf("%w: payment %s has no virtual account", models.ErrInvalidRequest, req.PaymentID)
	}

	body := vaStatusRequest{
		PartnerServiceID: c.cfg.PartnerID,
		CustomerNo:       req.PaymentID,
		VirtualAccountNo: req.BankAccountNo,
		InquiryRequestID: req.ProviderPaymentID,
		AdditionalInfo:   map[string]any{"channelCode": bankCodes[req.Method]},
	}

	var resp vaStatusResponse
	if err := c.post(ctx, vaStatusPath, body, &resp); err != nil {
		return nil, err
	}

	result := &provider.StatusResult{ProviderPaymentID: req.ProviderPaymentID}
	switch {
	case strings.HasPrefix(resp.ResponseCode, "404"):
		result.Status = models.PaymentStatusPending
		result.RawStatus = resp.ResponseCode
		return result, nil
	case !successCode(resp.ResponseCode):
		return nil, fmt.Errorf("%w: faspay va status rejected: %s %s",
			models.ErrProviderUnavailable, resp.ResponseCode, resp.ResponseMessage)
	}

	flag := resp.VirtualAccountData.PaymentFlagStatus
	result.Status = MapPaymentFlag(flag)
	result.RawStatus = flag
	if result.Status == models.PaymentStatusSuccess {
		result.PaidAt = ParseTransactionTime(resp.VirtualAccountData.TrxDateTime)
	}
	return result, nil
}

// MapPaymentFlag converts a SNAP virtual-account payment flag. Anything but an explicit
// success or rejection is still in progress.
func MapPaymentFlag(flag string) models.PaymentStatus {
	switch flag {
	case "00":
		return models.PaymentStatusSuccess
	case "01":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

// ParseTransactionTime parses a SNAP trxDateTime. Faspay sends RFC 3339 on SNAP
// callbacks and its local layout elsewhere.
func ParseTransactionTime(s string) *time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return ParseDate(s)
}

type webhookPayload struct {
	OriginalReferenceNo        string `json:"originalReferenceNo"`
	OriginalPartnerReferenceNo string `json:"originalPartnerReferenceNo"`
	LatestTransactionStatus    string `json:"latestTransactionStatus"`
	PaidTime                   string `json:"paidTime"`
}

// VerifyWebhook checks the HMAC signature Faspay attaches to notifications
func (c *Client) VerifyWebhook(body []byte, signature, timestamp string) bool {
	return c.VerifyCallback(WebhookPath, body, signature, timestamp)
}

// VerifyCallback checks the signature of a request Faspay sent to path
func (c *Client) VerifyCallback(path string, body []byte, signature, timestamp string) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	expected := c.Sign(http.MethodPost, path, body, timestamp)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ParseWebhook decodes a Faspay notification body
func (c *Client) ParseWebhook(body []byte) (*models.ProviderNotification, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed faspay notification: %v", models.ErrInvalidRequest, err)
	}
	if payload.OriginalReferenceNo == "" {
		return nil, fmt.Errorf("%w: faspay notification without reference", models.ErrInvalidRequest)
	}
	return &models.ProviderNotification{
		BaseEvent: models.BaseEvent{
			EventType: models.EventTypeProviderNotification,
			Timestamp: c.now(),
		},
		Provider:          Name,
		ProviderPaymentID: payload.OriginalReferenceNo,
		PaymentID:         payload.OriginalPartnerReferenceNo,
		RawStatus:         payload.LatestTransactionStatus,
		PaidAt:            ParseDate(payload.PaidTime),
	}, nil
}

// Sign computes HMAC-SHA256(secret, METHOD:path:hex(sha256(body)):timestamp)
func (c *Client) Sign(method, path string, body []byte, timestamp string) string {
	digest := sha256.Sum256(body)
	payload := strings.Join([]string{method, path, hex.EncodeToString(digest[:]), timestamp}, ":")

	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal faspay request: %w", err)
	}

	timestamp := c.now().In(jakarta).Format(time.RFC3339)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build faspay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-PARTNER-ID", c.cfg.PartnerID)
	req.Header.Set("X-SIGNATURE", c.Sign(http.MethodPost, path, body, timestamp))

	start := time.Now()
	res, err := c.httpClient.Do(req)
	util.ProviderRequestLatency.WithLabelValues(Name, path).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: faspay %s: %v", models.ErrProviderUnavailable, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: reading faspay response: %v", models.ErrProviderUnavailable, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Warn("Faspay returned non-2xx",
			zap.String("path", path),
			zap.Int("status", res.StatusCode))
		return fmt.Errorf("%w: faspay %s returned %d", models.ErrProviderUnavailable, path, res.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed faspay response: %v", models.ErrProviderUnavailable, err)
	}
	return nil
}

// successCode reports whether a SNAP response code is a 2xx business success.
func successCode(code string) bool {
	return strings.HasPrefix(code, "200")
}
