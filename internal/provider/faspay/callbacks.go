package faspay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-service/internal/models"
)

// Paths Faspay calls on this service to settle virtual-account transfers
const (
	VAInquiryPath = "/v1.0/transfer-va/inquiry"
	VAPaymentPath = "/v1.0/transfer-va/payment"
)

// SNAP response codes for the virtual-account callbacks
const (
	CodeInquirySuccess      = "2002400"
	CodeInquiryBadRequest   = "4002401"
	CodeInquiryUnauthorized = "4012400"
	CodeInquiryBillNotFound = "4042412"
	CodeInquiryBillPaid     = "4042414"
	CodeInquiryError        = "5002401"

	CodePaymentSuccess       = "2002600"
	CodePaymentBadRequest    = "4002601"
	CodePaymentUnauthorized  = "4012600"
	CodePaymentBillNotFound  = "4042612"
	CodePaymentInvalidAmount = "4042613"
	CodePaymentError         = "5002601"
)

// VAInquiryRequest is sent by Faspay before the customer's bank accepts a transfer
type VAInquiryRequest struct {
	PartnerServiceID string `json:"partnerServiceId"`
	CustomerNo       string `json:"customerNo"`
	VirtualAccountNo string `json:"virtualAccountNo"`
	InquiryRequestID string `json:"inquiryRequestId"`
}

// VAPaymentRequest is sent by Faspay once a transfer into the account has cleared
type VAPaymentRequest struct {
	PartnerServiceID string `json:"partnerServiceId"`
	CustomerNo       string `json:"customerNo"`
	VirtualAccountNo string `json:"virtualAccountNo"`
	PaymentRequestID string `json:"paymentRequestId"`
	PaidAmount       amount `json:"paidAmount"`
	TrxDateTime      string `json:"trxDateTime"`
	ReferenceNo      string `json:"referenceNo"`
}

// ParseVAInquiry decodes an inquiry callback
func ParseVAInquiry(body []byte) (*VAInquiryRequest, error) {
	var req VAInquiryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed va inquiry: %v", models.ErrInvalidRequest, err)
	}
	req.VirtualAccountNo = strings.TrimSpace(req.VirtualAccountNo)
	if req.VirtualAccountNo == "" {
		return nil, fmt.Errorf("%w: va inquiry without account number", models.ErrInvalidRequest)
	}
	return &req, nil
}

// ParseVAPayment decodes a payment callback
func ParseVAPayment(body []byte) (*VAPaymentRequest, error) {
	var req VAPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed va payment: %v", models.ErrInvalidRequest, err)
	}
	req.VirtualAccountNo = strings.TrimSpace(req.VirtualAccountNo)
	if req.VirtualAccountNo == "" {
		return nil, fmt.Errorf("%w: va payment without account number", models.ErrInvalidRequest)
	}
	if _, err := req.Amount(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Amount returns the paid amount in whole currency units
func (r *VAPaymentRequest) Amount() (int64, error) {
	return parseAmount(r.PaidAmount.Value)
}

// PaidAt is when the bank settled the transfer; nil when Faspay sent no usable time.
func (r *VAPaymentRequest) PaidAt() *time.Time {
	return ParseTransactionTime(r.TrxDateTime)
}

// parseAmount reads a SNAP amount such as "59000.00". Fractions other than zero are
// rejected because every price in the system is whole rupiah.
func parseAmount(v string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(v), ".")
	if strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("%w: fractional amount %q", models.ErrInvalidRequest, v)
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid amount %q", models.ErrInvalidRequest, v)
	}
	return n, nil
}

// VAInquiryResponse answers an inquiry callback
type VAInquiryResponse struct {
	ResponseCode       string            `json:"responseCode"`
	ResponseMessage    string            `json:"responseMessage"`
	VirtualAccountData *vaInquiryAccount `json:"virtualAccountData,omitempty"`
	TotalAmount        *amount           `json:"totalAmount,omitempty"`
}

type vaInquiryAccount struct {
	PartnerServiceID   string `json:"partnerServiceId"`
	CustomerNo         string `json:"customerNo"`
	VirtualAccountNo   string `json:"virtualAccountNo"`
	VirtualAccountName string `json:"virtualAccountName"`
	InquiryRequestID   string `json:"inquiryRequestId"`
}

// InquiryResponse describes the bill behind a pending payment
func InquiryResponse(req *VAInquiryRequest, p *models.Payment) *VAInquiryResponse {
	name := ""
	if p.BankAccountName != nil {
		name = *p.BankAccountName
	}
	total := formatAmount(p.Value, p.Currency)
	return &VAInquiryResponse{
		ResponseCode:    CodeInquirySuccess,
		ResponseMessage: "Successful",
		VirtualAccountData: &vaInquiryAccount{
			PartnerServiceID:   req.PartnerServiceID,
			CustomerNo:         req.CustomerNo,
			VirtualAccountNo:   req.VirtualAccountNo,
			VirtualAccountName: name,
			InquiryRequestID:   req.InquiryRequestID,
		},
		TotalAmount: &total,
	}
}

// VAPaymentResponse answers a payment callback
type VAPaymentResponse struct {
	ResponseCode       string            `json:"responseCode"`
	ResponseMessage    string            `json:"responseMessage"`
	VirtualAccountData *vaPaymentAccount `json:"virtualAccountData,omitempty"`
}

type vaPaymentAccount struct {
	PartnerServiceID   string `json:"partnerServiceId"`
	CustomerNo         string `json:"customerNo"`
	VirtualAccountNo   string `json:"virtualAccountNo"`
	VirtualAccountName string `json:"virtualAccountName"`
	PaymentRequestID   string `json:"paymentRequestId"`
	PaidAmount         amount `json:"paidAmount"`
}

// PaymentResponse acknowledges a settled transfer
func PaymentResponse(req *VAPaymentRequest, p *models.Payment) *VAPaymentResponse {
	name := ""
	if p.BankAccountName != nil {
		name = *p.BankAccountName
	}
	return &VAPaymentResponse{
		ResponseCode:    CodePaymentSuccess,
		ResponseMessage: "Successful",
		VirtualAccountData: &vaPaymentAccount{
			PartnerServiceID:   req.PartnerServiceID,
			CustomerNo:         req.CustomerNo,
			VirtualAccountNo:   req.VirtualAccountNo,
			VirtualAccountName: name,
			PaymentRequestID:   req.PaymentRequestID,
			PaidAmount:         req.PaidAmount,
		},
	}
}
