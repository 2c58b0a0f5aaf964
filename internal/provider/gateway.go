// Package provider issues charge requests to the payment provider and
// interprets its synchronous responses. The gateway implementation is chosen
// at construction time: live traffic goes through AppyPayGateway, sandbox
// deployments use SandboxGateway. Request handling never branches on the
// environment.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/eventpass/ticketpay/internal/auth"
	"github.com/eventpass/ticketpay/internal/config"
	"github.com/eventpass/ticketpay/internal/models"
	"github.com/eventpass/ticketpay/internal/patterns"
)

// ChargeError reports a charge the provider rejected or failed to process.
type ChargeError struct {
	StatusCode int
	Message    string
}

func (e *ChargeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("charge failed: %s", e.Message)
	}
	return fmt.Sprintf("charge failed with status %d", e.StatusCode)
}

// PaymentGateway issues a charge and interprets the synchronous result.
type PaymentGateway interface {
	Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error)
}

// AppyPayGateway charges through the provider's REST API. Calls run through
// a circuit breaker so a struggling provider fails fast instead of tying up
// request handlers.
type AppyPayGateway struct {
	client  *resty.Client
	tokens  auth.TokenSource
	cfg     config.Provider
	circuit *patterns.CircuitBreakerWrapper
}

// NewAppyPayGateway creates a live gateway using the given token source.
func NewAppyPayGateway(cfg config.Provider, tokens auth.TokenSource) *AppyPayGateway {
	return &AppyPayGateway{
		client:  resty.New().SetTimeout(patterns.DefaultTimeout).SetRetryCount(0),
		tokens:  tokens,
		cfg:     cfg,
		circuit: patterns.NewCircuitBreaker("Charge", "ticketpay"),
	}
}

type chargeBody struct {
	ClientID              string          `json:"clientId"`
	MerchantTransactionID string          `json:"merchantTransactionId"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaymentMethod         string          `json:"paymentMethod"`
	Description           string          `json:"description,omitempty"`
	PaymentInfo           *paymentInfo    `json:"paymentInfo,omitempty"`
}

type paymentInfo struct {
	PhoneNumber string `json:"phoneNumber"`
}

type chargeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	QRCode        string `json:"qrCode"`
	Message       string `json:"message"`
}

// Charge posts the charge with the local transaction id as the merchant
// reference. That id is the correlation key the provider echoes back in its
// webhook, so it must round-trip unmodified.
func (g *AppyPayGateway) Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := chargeBody{
		ClientID:              g.cfg.ClientID,
		MerchantTransactionID: req.TransactionID,
		Amount:                req.Amount,
		Currency:              g.cfg.Currency,
		PaymentMethod:         req.Method,
		Description:           req.Description,
	}
	if req.Method == models.MethodMCXExpress && req.Phone != "" {
		body.PaymentInfo = &paymentInfo{PhoneNumber: normalizePhone(req.Phone)}
	}

	result, cbErr := g.circuit.Execute(func() (interface{}, error) {
		resp, httpErr := g.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetAuthToken(token).
			SetBody(body).
			Post(g.cfg.APIURL + "/charges")

		if httpErr != nil {
			return nil, &ChargeError{Message: httpErr.Error()}
		}

		var parsed chargeResponse
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil && resp.StatusCode() < 300 {
			return nil, &ChargeError{StatusCode: resp.StatusCode(), Message: "malformed charge response"}
		}

		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			msg := parsed.Message
			if msg == "" {
				msg = resp.String()
			}
			return nil, &ChargeError{StatusCode: resp.StatusCode(), Message: msg}
		}

		return &models.ChargeResult{
			Status:            mapStatus(parsed.Status),
			ProviderReference: parsed.TransactionID,
			PaymentQR:         parsed.QRCode,
		}, nil
	})
	if cbErr != nil {
		return nil, patterns.FormatError("Charge", cbErr)
	}

	return result.(*models.ChargeResult), nil
}

// mapStatus folds the provider's status field into the local state set.
// Anything unrecognized is treated as still pending and left to the webhook.
func mapStatus(status string) string {
	switch strings.ToUpper(status) {
	case models.StatusApproved:
		return models.StatusApproved
	case models.StatusDeclined:
		return models.StatusDeclined
	default:
		return models.StatusPending
	}
}

// normalizePhone strips all whitespace from a phone number.
func normalizePhone(phone string) string {
	return strings.Join(strings.Fields(phone), "")
}

// SandboxGateway approves every charge without touching the network.
type SandboxGateway struct{}

// NewSandboxGateway creates the offline gateway.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{}
}

func (g *SandboxGateway) Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
	log.WithFields(log.Fields{
		"transaction_id": req.TransactionID,
		"amount":         req.Amount,
		"method":         req.Method,
	}).Info("Sandbox mode: charge approved without provider call")

	return &models.ChargeResult{
		Status:            models.StatusApproved,
		ProviderReference: "sandbox-" + req.TransactionID,
	}, nil
}

// FromConfig selects the gateway strategy for the configured mode.
func FromConfig(cfg *config.Config) PaymentGateway {
	if cfg.Mode == config.ModeSandbox {
		return NewSandboxGateway()
	}
	return NewAppyPayGateway(cfg.Provider, auth.NewClientCredentials(cfg.Provider))
}
