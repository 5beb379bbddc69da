package square

import (
	"encoding/json"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// PaymentCreateParams encapsulates the inputs for a Square payment.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (p PaymentCreateParams) toSquareRequest(idempotencyKey string) *sq.CreatePaymentRequest {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		LocationID:     ptrString(p.LocationID),
		SourceID:       p.SourceID,
	}
	if p.AmountCents > 0 {
		req.AmountMoney = moneyPtr(p.AmountCents, p.Currency)
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}
	return req
}

// RefundParams encapsulates the inputs for refunding a Square payment.
type RefundParams struct {
	PaymentID      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

func (p RefundParams) toSquareRequest(idempotencyKey string) *sq.RefundPaymentRequest {
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: idempotencyKey,
		AmountMoney:    moneyPtr(p.AmountCents, p.Currency),
		PaymentID:      ptrString(p.PaymentID),
	}
	if trimmed := strings.TrimSpace(p.Reason); trimmed != "" {
		req.Reason = ptrString(trimmed)
	}
	return req
}

// PaymentResult is the subset of a Square payment the platform relies on.
type PaymentResult struct {
	ID          string
	Status      string
	ReferenceID string
}

// Approved reports whether Square captured or authorized the payment.
func (r *PaymentResult) Approved() bool {
	if r == nil {
		return false
	}
	switch strings.ToUpper(r.Status) {
	case "COMPLETED", "APPROVED":
		return true
	}
	return false
}

// Failed reports whether Square settled the payment as unsuccessful.
func (r *PaymentResult) Failed() bool {
	if r == nil {
		return false
	}
	switch strings.ToUpper(r.Status) {
	case "FAILED", "CANCELED":
		return true
	}
	return false
}

// RefundResult is the subset of a Square refund the platform relies on.
type RefundResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func paymentResult(payment *sq.Payment) *PaymentResult {
	if payment == nil {
		return &PaymentResult{}
	}
	return &PaymentResult{
		ID:          stringValue(payment.GetID()),
		Status:      stringValue(payment.GetStatus()),
		ReferenceID: stringValue(payment.GetReferenceID()),
	}
}

func refundResult(resp any) (*RefundResult, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Refund *RefundResult `json:"refund"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if payload.Refund == nil {
		return &RefundResult{}, nil
	}
	return payload.Refund, nil
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
