package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction status constants
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
)

// Payment method constants
const (
	MethodMCXExpress = "MCX_EXPRESS"
	MethodQRCode     = "QR_CODE"
)

// Buyer holds the contact details of the person purchasing tickets
type Buyer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Transaction represents one ticket purchase attempt, tracked from PENDING
// until the payment provider resolves it to a terminal status. The ID doubles
// as the merchant reference sent to the provider, which is how an asynchronous
// webhook is correlated back to this record.
type Transaction struct {
	ID                string          `json:"id"`
	Buyer             Buyer           `json:"buyer"`
	Children          []int           `json:"children"`
	TicketCount       int             `json:"ticket_count"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	PaymentMethod     string          `json:"payment_method"`
	Status            string          `json:"status"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	SideEffectsRun    bool            `json:"side_effects_run"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Terminal reports whether the transaction has reached a final status.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusApproved || t.Status == StatusDeclined
}

// PurchaseRequest is the body of POST /payment. Pricing fields are computed
// by the client and accepted as given; the server does not recompute them.
type PurchaseRequest struct {
	BuyerName     string          `json:"buyerName" binding:"required"`
	BuyerPhone    string          `json:"buyerPhone" binding:"required"`
	BuyerEmail    string          `json:"buyerEmail" binding:"required"`
	ChildAges     []int           `json:"childAges"`
	PaymentMethod string          `json:"paymentMethod" binding:"required"`
	MethodPhone   string          `json:"methodPhone"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	TicketCount   int             `json:"ticketCount"`
}

// PurchaseResponse is the body returned by POST /payment.
type PurchaseResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	TicketCount   int    `json:"ticketCount,omitempty"`
	TicketImage   string `json:"ticketImage,omitempty"`
	PaymentQR     string `json:"paymentQR,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// WebhookPayload is the provider's asynchronous status callback. Only
// MerchantTransactionID and Status drive the state machine; the rest is
// logged for audit.
type WebhookPayload struct {
	MerchantTransactionID string          `json:"merchantTransactionId"`
	ProviderTransactionID string          `json:"transactionId"`
	Status                string          `json:"status"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaymentMethod         string          `json:"paymentMethod"`
	ResultCode            string          `json:"resultCode"`
	ResultDescription     string          `json:"resultDescription"`
}

// ChargeRequest is the gateway-facing charge instruction.
type ChargeRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Method        string
	Phone         string
	Description   string
}

// ChargeResult is the gateway's interpretation of the provider's synchronous
// response. PaymentQR is set only for asynchronous QR-based methods.
type ChargeResult struct {
	Status            string
	ProviderReference string
	PaymentQR         string
}
