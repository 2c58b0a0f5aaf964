// Package orchestrator owns the transaction state machine: it creates
// transaction records, applies the synchronous charge result, reconciles
// asynchronous webhook callbacks against the same records, and runs the
// approval side effects (ticket + notifications) at most once per
// transaction.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eventpass/ticketpay/internal/metrics"
	"github.com/eventpass/ticketpay/internal/models"
	"github.com/eventpass/ticketpay/internal/provider"
	"github.com/eventpass/ticketpay/internal/store"
	"github.com/eventpass/ticketpay/internal/ticket"
)

// ErrMissingReference means a webhook arrived without the merchant reference
// that correlates it to a local transaction.
var ErrMissingReference = errors.New("merchantTransactionId required")

// ValidationError rejects a purchase request before any external call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid purchase request: " + e.Message
}

// Notifier delivers post-approval notifications. Implementations never fail.
type Notifier interface {
	Dispatch(ctx context.Context, tx *models.Transaction, ticketImage string)
}

// Orchestrator drives a transaction from creation to a terminal status.
type Orchestrator struct {
	store    store.TransactionStore
	gateway  provider.PaymentGateway
	notifier Notifier

	encode func(ticket.Payload) string
}

// New wires the orchestrator with its collaborators.
func New(s store.TransactionStore, gateway provider.PaymentGateway, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		store:    s,
		gateway:  gateway,
		notifier: notifier,
		encode:   ticket.Encode,
	}
}

// Purchase handles one purchase request end to end: validate, create the
// PENDING record, charge, and apply the synchronous result. A charge failure
// is returned to the caller with the record left PENDING, still eligible for
// webhook resolution.
func (o *Orchestrator) Purchase(ctx context.Context, req *models.PurchaseRequest) (*models.PurchaseResponse, error) {
	if err := validate(req); err != nil {
		metrics.PurchasesTotal.WithLabelValues("validation_failed").Inc()
		return nil, err
	}

	tx := &models.Transaction{
		ID: newTransactionID(),
		Buyer: models.Buyer{
			Name:  strings.TrimSpace(req.BuyerName),
			Phone: strings.TrimSpace(req.BuyerPhone),
			Email: strings.TrimSpace(req.BuyerEmail),
		},
		Children:      append([]int(nil), req.ChildAges...),
		TicketCount:   req.TicketCount,
		TotalPrice:    req.TotalPrice,
		PaymentMethod: req.PaymentMethod,
		Status:        models.StatusPending,
	}
	if err := o.store.Create(tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	amount, _ := tx.TotalPrice.Float64()
	metrics.TicketAmount.Observe(amount)

	log.WithFields(log.Fields{
		"transaction_id": tx.ID,
		"method":         tx.PaymentMethod,
		"tickets":        tx.TicketCount,
		"total":          tx.TotalPrice,
	}).Info("Processing new purchase")

	result, err := o.gateway.Charge(ctx, models.ChargeRequest{
		TransactionID: tx.ID,
		Amount:        tx.TotalPrice,
		Method:        tx.PaymentMethod,
		Phone:         req.MethodPhone,
		Description:   "Children's event tickets - " + tx.Buyer.Name,
	})
	if err != nil {
		metrics.PurchasesTotal.WithLabelValues("charge_failed").Inc()
		log.WithError(err).WithField("transaction_id", tx.ID).Error("Charge failed")
		return nil, err
	}

	applied, err := o.transition(tx.ID, result.Status, result.ProviderReference)
	if err != nil {
		return nil, fmt.Errorf("failed to apply charge result: %w", err)
	}

	var image string
	if applied.wonApproval {
		image = o.runApproval(ctx, applied.tx)
	}

	switch {
	case applied.tx.Status == models.StatusApproved:
		metrics.PurchasesTotal.WithLabelValues("approved").Inc()
		return &models.PurchaseResponse{
			Success:       true,
			TransactionID: tx.ID,
			TicketCount:   tx.TicketCount,
			TicketImage:   image,
			Status:        models.StatusApproved,
			Message:       "Payment confirmed",
		}, nil

	case tx.PaymentMethod == models.MethodQRCode && result.PaymentQR != "":
		// The buyer pays out of band by scanning the provider's QR; the
		// webhook settles the transaction later.
		metrics.PurchasesTotal.WithLabelValues("pending").Inc()
		return &models.PurchaseResponse{
			Success:       true,
			TransactionID: tx.ID,
			PaymentQR:     result.PaymentQR,
			Status:        models.StatusPending,
		}, nil

	default:
		metrics.PurchasesTotal.WithLabelValues(strings.ToLower(applied.tx.Status)).Inc()
		return &models.PurchaseResponse{
			Success:       true,
			TransactionID: tx.ID,
			Status:        applied.tx.Status,
		}, nil
	}
}

// HandleWebhook reconciles a provider callback with the local record. An
// unknown merchant reference is acknowledged with a nil transaction so the
// provider stops retrying. Only a missing reference is an error.
func (o *Orchestrator) HandleWebhook(ctx context.Context, payload *models.WebhookPayload) (*models.Transaction, error) {
	if payload.MerchantTransactionID == "" {
		metrics.WebhooksTotal.WithLabelValues("missing_reference").Inc()
		return nil, ErrMissingReference
	}

	incoming := strings.ToUpper(payload.Status)
	applied, err := o.transition(payload.MerchantTransactionID, incoming, payload.ProviderTransactionID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.WebhooksTotal.WithLabelValues("unknown_transaction").Inc()
		log.WithField("merchant_transaction_id", payload.MerchantTransactionID).Warn("Webhook for unknown transaction")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if applied.conflict {
		metrics.WebhooksTotal.WithLabelValues("conflict").Inc()
	} else {
		metrics.WebhooksTotal.WithLabelValues(strings.ToLower(applied.tx.Status)).Inc()
	}

	if applied.wonApproval {
		o.runApproval(ctx, applied.tx)
	}

	log.WithFields(log.Fields{
		"transaction_id": applied.tx.ID,
		"status":         applied.tx.Status,
		"provider_ref":   applied.tx.ProviderReference,
	}).Info("Webhook applied")

	return applied.tx, nil
}

// Get returns a transaction by id.
func (o *Orchestrator) Get(id string) (*models.Transaction, error) {
	return o.store.Get(id)
}

type transitionResult struct {
	tx          *models.Transaction
	wonApproval bool
	conflict    bool
}

// transition applies a status change under the store's per-id exclusivity.
// First terminal status wins: a webhook reporting a different terminal
// status than the one already recorded is logged and ignored. The approval
// flag is checked and set inside the same update, so exactly one caller ever
// wins the right to run side effects.
func (o *Orchestrator) transition(id, incoming, providerRef string) (transitionResult, error) {
	var res transitionResult

	tx, err := o.store.Update(id, func(rec *models.Transaction) error {
		if rec.Terminal() {
			if incoming != "" && incoming != models.StatusPending && incoming != rec.Status {
				res.conflict = true
				log.WithFields(log.Fields{
					"transaction_id": rec.ID,
					"recorded":       rec.Status,
					"incoming":       incoming,
				}).Warn("Conflicting terminal status ignored, first terminal status wins")
			}
		} else {
			switch incoming {
			case models.StatusApproved, models.StatusDeclined, models.StatusPending:
				rec.Status = incoming
			}
		}

		if providerRef != "" && rec.ProviderReference == "" {
			rec.ProviderReference = providerRef
		}

		if rec.Status == models.StatusApproved && !rec.SideEffectsRun {
			rec.SideEffectsRun = true
			res.wonApproval = true
		}
		return nil
	})
	if err != nil {
		return transitionResult{}, err
	}

	res.tx = tx
	return res, nil
}

// runApproval executes the approval side effects: encode the ticket and
// dispatch notifications. The status is already APPROVED and stays APPROVED
// whatever happens here; the dispatcher absorbs its own failures.
func (o *Orchestrator) runApproval(ctx context.Context, tx *models.Transaction) string {
	image := o.encode(ticket.Payload{
		BuyerName:     tx.Buyer.Name,
		TicketCount:   tx.TicketCount,
		TransactionID: tx.ID,
		IssuedAt:      tx.UpdatedAt,
	})
	o.notifier.Dispatch(ctx, tx, image)
	return image
}

func validate(req *models.PurchaseRequest) error {
	if strings.TrimSpace(req.BuyerName) == "" {
		return &ValidationError{Message: "buyerName is required"}
	}
	if strings.TrimSpace(req.BuyerPhone) == "" {
		return &ValidationError{Message: "buyerPhone is required"}
	}
	if strings.TrimSpace(req.BuyerEmail) == "" {
		return &ValidationError{Message: "buyerEmail is required"}
	}
	if len(req.ChildAges) == 0 {
		return &ValidationError{Message: "at least one child age is required"}
	}
	for i, age := range req.ChildAges {
		if age < 0 {
			return &ValidationError{Message: fmt.Sprintf("childAges[%d] must not be negative", i)}
		}
	}
	if req.PaymentMethod != models.MethodMCXExpress && req.PaymentMethod != models.MethodQRCode {
		return &ValidationError{Message: "paymentMethod must be MCX_EXPRESS or QR_CODE"}
	}
	if req.TicketCount <= 0 {
		return &ValidationError{Message: "ticketCount must be positive"}
	}
	return nil
}

// newTransactionID generates a URL-safe id that is also used verbatim as the
// provider-side merchant reference.
func newTransactionID() string {
	return fmt.Sprintf("TKT-%d-%s", time.Now().Unix(), uuid.New().String())
}
