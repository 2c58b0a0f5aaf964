package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpass/ticketpay/internal/models"
	"github.com/eventpass/ticketpay/internal/provider"
	"github.com/eventpass/ticketpay/internal/store"
	"github.com/eventpass/ticketpay/internal/ticket"
)

// mockGateway implements provider.PaymentGateway for testing
type mockGateway struct {
	ChargeFunc func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error)
	calls      int32
}

func (m *mockGateway) Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return &models.ChargeResult{Status: models.StatusApproved}, nil
}

// mockNotifier counts dispatches
type mockNotifier struct {
	mu         sync.Mutex
	dispatches []string
}

func (m *mockNotifier) Dispatch(ctx context.Context, tx *models.Transaction, ticketImage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, tx.ID)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatches)
}

type fixture struct {
	orch     *Orchestrator
	store    store.TransactionStore
	gateway  *mockGateway
	notifier *mockNotifier
	encodes  *int32
}

func newFixture(gw *mockGateway) *fixture {
	s := store.NewMemoryStore()
	n := &mockNotifier{}
	o := New(s, gw, n)

	var encodes int32
	o.encode = func(p ticket.Payload) string {
		atomic.AddInt32(&encodes, 1)
		return "img-" + p.TransactionID
	}

	return &fixture{orch: o, store: s, gateway: gw, notifier: n, encodes: &encodes}
}

func validRequest() *models.PurchaseRequest {
	return &models.PurchaseRequest{
		BuyerName:     "Maria Silva",
		BuyerPhone:    "+244923000111",
		BuyerEmail:    "maria@example.com",
		ChildAges:     []int{3, 6, 10},
		PaymentMethod: models.MethodQRCode,
		TotalPrice:    decimal.NewFromInt(6000),
		TicketCount:   3,
	}
}

func TestPurchaseValidation(t *testing.T) {
	cases := map[string]func(*models.PurchaseRequest){
		"missing name":  func(r *models.PurchaseRequest) { r.BuyerName = "  " },
		"missing phone": func(r *models.PurchaseRequest) { r.BuyerPhone = "" },
		"missing email": func(r *models.PurchaseRequest) { r.BuyerEmail = "" },
		"no children":   func(r *models.PurchaseRequest) { r.ChildAges = nil },
		"negative age":  func(r *models.PurchaseRequest) { r.ChildAges = []int{3, -1} },
		"bad method":    func(r *models.PurchaseRequest) { r.PaymentMethod = "CASH" },
		"no tickets":    func(r *models.PurchaseRequest) { r.TicketCount = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(&mockGateway{})
			req := validRequest()
			mutate(req)

			_, err := f.orch.Purchase(context.Background(), req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			// Rejected before any external call.
			assert.Zero(t, atomic.LoadInt32(&f.gateway.calls))
		})
	}
}

func TestPurchaseCreatesPendingBeforeCharge(t *testing.T) {
	var f *fixture
	gw := &mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			// At charge time the record must already exist as PENDING.
			tx, err := f.store.Get(req.TransactionID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, tx.Status)
			return &models.ChargeResult{Status: models.StatusApproved}, nil
		},
	}
	f = newFixture(gw)

	_, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))
}

func TestPurchaseSyncApproved(t *testing.T) {
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			return &models.ChargeResult{Status: models.StatusApproved, ProviderReference: "prov-9"}, nil
		},
	})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, models.StatusApproved, resp.Status)
	assert.Equal(t, 3, resp.TicketCount)
	assert.Equal(t, "img-"+resp.TransactionID, resp.TicketImage)
	assert.Equal(t, 1, f.notifier.count())

	tx, err := f.store.Get(resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, tx.Status)
	assert.Equal(t, "prov-9", tx.ProviderReference)
	assert.True(t, tx.SideEffectsRun)
}

func TestPurchaseQRCodePending(t *testing.T) {
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			return &models.ChargeResult{Status: models.StatusPending, PaymentQR: "payment-qr-data"}, nil
		},
	})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Equal(t, "payment-qr-data", resp.PaymentQR)
	assert.Empty(t, resp.TicketImage)

	// No email or ticket until the webhook settles the payment.
	assert.Equal(t, 0, f.notifier.count())
	assert.Zero(t, atomic.LoadInt32(f.encodes))
}

func TestPurchaseChargeFailureLeavesPending(t *testing.T) {
	var chargedID string
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			chargedID = req.TransactionID
			return nil, &provider.ChargeError{StatusCode: 504, Message: "provider timeout"}
		},
	})

	_, err := f.orch.Purchase(context.Background(), validRequest())
	var chargeErr *provider.ChargeError
	require.ErrorAs(t, err, &chargeErr)

	// The record survives the failed charge and stays PENDING so a later
	// webhook can still resolve it.
	tx, err := f.store.Get(chargedID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, tx.Status)
	assert.Equal(t, 0, f.notifier.count())
}

func TestWebhookApprovesPendingTransaction(t *testing.T) {
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			return &models.ChargeResult{Status: models.StatusPending, PaymentQR: "qr"}, nil
		},
	})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	tx, err := f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{
		MerchantTransactionID: resp.TransactionID,
		ProviderTransactionID: "prov-77",
		Status:                "APPROVED",
	})
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, models.StatusApproved, tx.Status)
	assert.Equal(t, "prov-77", tx.ProviderReference)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, int32(1), atomic.LoadInt32(f.encodes))
}

func TestWebhookDuplicateApprovalIsNoOp(t *testing.T) {
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			return &models.ChargeResult{Status: models.StatusPending}, nil
		},
	})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	payload := &models.WebhookPayload{MerchantTransactionID: resp.TransactionID, Status: "APPROVED"}
	_, err = f.orch.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)
	_, err = f.orch.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, int32(1), atomic.LoadInt32(f.encodes))
}

func TestWebhookAfterSyncApprovalIsNoOp(t *testing.T) {
	f := newFixture(&mockGateway{})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, 1, f.notifier.count())

	_, err = f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{
		MerchantTransactionID: resp.TransactionID,
		Status:                "APPROVED",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.notifier.count())
}

func TestWebhookUnknownTransactionAcknowledged(t *testing.T) {
	f := newFixture(&mockGateway{})

	tx, err := f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{
		MerchantTransactionID: "TKT-stale-or-foreign",
		Status:                "APPROVED",
	})
	require.NoError(t, err)
	assert.Nil(t, tx)

	// No record is conjured up for the unknown reference.
	_, err = f.orch.Get("TKT-stale-or-foreign")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.notifier.count())
}

func TestWebhookMissingReference(t *testing.T) {
	f := newFixture(&mockGateway{})

	_, err := f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{Status: "APPROVED"})
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestWebhookDeclined(t *testing.T) {
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			return &models.ChargeResult{Status: models.StatusPending}, nil
		},
	})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	tx, err := f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{
		MerchantTransactionID: resp.TransactionID,
		Status:                "DECLINED",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusDeclined, tx.Status)
	assert.Equal(t, 0, f.notifier.count())
}

func TestWebhookConflictingTerminalStatusIgnored(t *testing.T) {
	f := newFixture(&mockGateway{})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	// First terminal status (APPROVED, from the sync path) wins.
	tx, err := f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{
		MerchantTransactionID: resp.TransactionID,
		Status:                "DECLINED",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, tx.Status)
}

func TestConcurrentApprovalRunsSideEffectsOnce(t *testing.T) {
	f := newFixture(&mockGateway{
		ChargeFunc: func(ctx context.Context, req models.ChargeRequest) (*models.ChargeResult, error) {
			return &models.ChargeResult{Status: models.StatusPending}, nil
		},
	})

	resp, err := f.orch.Purchase(context.Background(), validRequest())
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.HandleWebhook(context.Background(), &models.WebhookPayload{
				MerchantTransactionID: resp.TransactionID,
				Status:                "APPROVED",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, int32(1), atomic.LoadInt32(f.encodes))
}
