package checkout

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fwdshop/checkout/internal/cart"
	"github.com/fwdshop/checkout/internal/methods"
	"github.com/fwdshop/checkout/internal/notify"
	"github.com/fwdshop/checkout/internal/payment"
	"github.com/fwdshop/checkout/internal/widget"
)

type stubGateway struct {
	mu sync.Mutex

	intentReqs       []payment.CreatePaymentIntentRequest
	methodIntentReqs []payment.CreateMethodIntentRequest
	payReqs          []payment.PayRequest
	methodGets       []string
	intentGets       []string

	intentErr       error
	methodRecordErr error
	payErr          error
	intentGetErr    error

	methodRecord payment.StoredPaymentMethod
	methodIntent payment.PaymentMethodIntent

	onCreateIntent func()
	payEntered     chan struct{}
	payGate        chan struct{}
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, req payment.CreatePaymentIntentRequest) (payment.PaymentIntent, error) {
	if g.onCreateIntent != nil {
		g.onCreateIntent()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intentReqs = append(g.intentReqs, req)
	if g.intentErr != nil {
		return payment.PaymentIntent{}, g.intentErr
	}
	return payment.PaymentIntent{
		ID:     "pi_1",
		Status: "requires_payment_method",
		Amount: int64(math.Round(req.Amount * 100)),
	}, nil
}

func (g *stubGateway) CreateMethodIntent(_ context.Context, req payment.CreateMethodIntentRequest) (payment.PaymentMethodIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.methodIntentReqs = append(g.methodIntentReqs, req)
	return payment.PaymentMethodIntent{
		ID:           "pmi_store1",
		ClientSecret: "pmi_store1_secret_xyz",
		Status:       "created",
	}, nil
}

func (g *stubGateway) GetPaymentMethod(_ context.Context, id, _, _ string) (payment.StoredPaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.methodGets = append(g.methodGets, id)
	if g.methodRecordErr != nil {
		return payment.StoredPaymentMethod{}, g.methodRecordErr
	}
	return g.methodRecord, nil
}

func (g *stubGateway) GetMethodIntent(_ context.Context, id, _, _, _ string) (payment.PaymentMethodIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intentGets = append(g.intentGets, id)
	if g.intentGetErr != nil {
		return payment.PaymentMethodIntent{}, g.intentGetErr
	}
	return g.methodIntent, nil
}

func (g *stubGateway) Pay(_ context.Context, req payment.PayRequest) (payment.PaymentResult, error) {
	if g.payEntered != nil {
		g.payEntered <- struct{}{}
	}
	if g.payGate != nil {
		<-g.payGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payReqs = append(g.payReqs, req)
	if g.payErr != nil {
		return payment.PaymentResult{}, g.payErr
	}
	return payment.PaymentResult{ID: "pay_1", Status: "succeeded", Amount: 1597}, nil
}

type fixture struct {
	orch    *Orchestrator
	gw      *stubGateway
	relay   *widget.Relay
	notices *notify.Recorder
	cart    *cart.Store
	methods *methods.Store
	redis   *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gw := &stubGateway{
		methodIntent: payment.PaymentMethodIntent{
			ID:                 "pmi_abc",
			ClientSecret:       "pmi_abc_secret_1",
			Status:             "created",
			PaymentMethodTypes: []payment.MethodType{payment.MethodCard},
		},
		methodRecord: payment.StoredPaymentMethod{
			ID:            "pm_123",
			PaymentMethod: payment.MethodDetail{ID: "pm_123", Type: payment.MethodCard},
		},
	}
	relay := &widget.Relay{}
	notices := &notify.Recorder{}
	cartStore := &cart.Store{R: client, TTL: time.Hour}
	methodStore := &methods.Store{R: client, TTL: time.Hour}

	return &fixture{
		orch: &Orchestrator{
			Gateway:      gw,
			Cart:         cartStore,
			Methods:      methodStore,
			Widget:       &widget.Adapter{Vendor: relay, Logger: zerolog.Nop()},
			Notifier:     notices,
			Registry:     NewRegistry(),
			Logger:       zerolog.Nop(),
			FeeCents:     100,
			WidgetAPIKey: "pk_test",
		},
		gw:      gw,
		relay:   relay,
		notices: notices,
		cart:    cartStore,
		methods: methodStore,
		redis:   client,
	}
}

func (f *fixture) fillCart(t *testing.T, cartID string) {
	t.Helper()
	// 3 x $4.99 = $14.97 cart total.
	require.NoError(t, f.cart.AddItem(context.Background(), cartID, cart.Item{ID: "sku-1", Name: "Desk Lamp", UnitPrice: 4.99, Quantity: 3}))
}

func payNowInput(cartID string) StartPaymentInput {
	return StartPaymentInput{
		PartnerID:    "partner_1",
		AccountID:    "acct_1",
		CartID:       cartID,
		WidgetSecret: "pmi_abc_secret_1",
	}
}

func TestPayNowCardFlowChargesFeeInclusiveAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)
	require.Equal(t, StateAwaitingTokenization, a.State())
	require.True(t, f.orch.Widget.Mounted())

	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_card", MethodType: payment.MethodCard}))

	require.Equal(t, StateSucceeded, a.State())
	// $14.97 cart + $1.00 fee = 1597 cents.
	require.Len(t, f.gw.intentReqs, 1)
	require.InDelta(t, 15.97, f.gw.intentReqs[0].Amount, 1e-9)
	require.Equal(t, int64(1597), a.Snapshot(100).AmountCents)

	require.Len(t, f.gw.payReqs, 1)
	require.Equal(t, "pi_1", f.gw.payReqs[0].PaymentIntentID)
	require.Equal(t, "tok_card", f.gw.payReqs[0].PaymentMethodID)

	snap, err := f.cart.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, snap.Items)

	require.False(t, f.orch.Widget.Mounted())
	require.Zero(t, f.notices.Failures())
}

func TestStoredMethodSkipsWidget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, StartPaymentInput{
		PartnerID:      "partner_1",
		AccountID:      "acct_1",
		CartID:         "c1",
		StoredMethodID: "pm_123",
		WidgetSecret:   "pmi_abc_secret_1",
	})
	require.NoError(t, err)

	require.Equal(t, StateSucceeded, a.State())
	require.Equal(t, []string{"pm_123"}, f.gw.methodGets)
	require.Len(t, f.gw.payReqs, 1)
	require.Equal(t, "pm_123", f.gw.payReqs[0].PaymentMethodID)
	require.False(t, f.orch.Widget.Mounted())
	require.Empty(t, f.gw.intentGets)
}

func TestBankTokenParksUntilConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_bank", MethodType: payment.MethodBank}))
	require.Equal(t, StateReadyToCharge, a.State())
	require.Empty(t, f.gw.payReqs)

	require.NoError(t, f.orch.Confirm(ctx, a))
	require.Equal(t, StateSucceeded, a.State())
	require.Len(t, f.gw.payReqs, 1)
	require.Equal(t, "tok_bank", f.gw.payReqs[0].PaymentMethodID)
}

func TestConfirmedChargeCanStillFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")
	f.gw.payErr = errors.New("declined")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)
	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_bank", MethodType: payment.MethodBank}))

	require.NoError(t, f.orch.Confirm(ctx, a))
	require.Equal(t, StateFailed, a.State())
	require.Equal(t, 1, f.notices.Failures())
}

func TestConfirmOutsideReadyToChargeIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	err = f.orch.Confirm(ctx, a)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.gw.payReqs)
}

func TestOverlappingConfirmsChargeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")
	f.gw.payEntered = make(chan struct{}, 1)
	f.gw.payGate = make(chan struct{})

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)
	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_bank", MethodType: payment.MethodBank}))
	require.Equal(t, StateReadyToCharge, a.State())

	first := make(chan error, 1)
	go func() { first <- f.orch.Confirm(ctx, a) }()
	<-f.gw.payEntered

	// A double-submit while the first charge is still in flight.
	err = f.orch.Confirm(ctx, a)
	require.ErrorIs(t, err, ErrInvalidInput)

	close(f.gw.payGate)
	require.NoError(t, <-first)

	require.Len(t, f.gw.payReqs, 1)
	require.Equal(t, "tok_bank", f.gw.payReqs[0].PaymentMethodID)
	require.Equal(t, StateSucceeded, a.State())
}

func TestDoubleSuccessHonorsFirstEventOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_1", MethodType: payment.MethodCard}))
	// The widget unmounts on the terminal transition, so the relay rejects
	// the duplicate; a straggler delivered straight to the orchestrator is
	// dropped too.
	f.orch.HandleEvent(ctx, a, widget.Event{Kind: widget.EventSuccess, Token: "tok_2", MethodType: payment.MethodCard})

	require.Len(t, f.gw.payReqs, 1)
	require.Equal(t, "tok_1", f.gw.payReqs[0].PaymentMethodID)
	require.Equal(t, StateSucceeded, a.State())
}

func TestCancelReturnsToIdleWithoutNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventCancel}))

	require.Equal(t, StateIdle, a.State())
	require.Zero(t, f.notices.Failures())
	require.Empty(t, f.notices.Notices())
	require.False(t, f.orch.Widget.Mounted())
}

func TestWidgetErrorFailsWithExactlyOneNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventError, Message: "vendor exploded"}))
	f.orch.HandleEvent(ctx, a, widget.Event{Kind: widget.EventError, Message: "vendor exploded again"})

	require.Equal(t, StateFailed, a.State())
	require.Equal(t, 1, f.notices.Failures())
	// Raw vendor text never reaches the user.
	for _, n := range f.notices.Notices() {
		require.NotContains(t, n.Description, "vendor exploded")
	}
}

func TestIntentFailureNeverReachesCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")
	f.gw.intentErr = errors.New("upstream down")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.Equal(t, StateFailed, a.State())
	require.Empty(t, f.gw.payReqs)
	require.Equal(t, 1, f.notices.Failures())
}

func TestResolveFailureFailsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")
	f.gw.intentGetErr = errors.New("not found")

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.Equal(t, StateFailed, a.State())
	require.Empty(t, f.gw.intentReqs)
	require.Equal(t, 1, f.notices.Failures())
}

func TestUnparseableSecretIsRejectedBeforeAnyCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	in := payNowInput("c1")
	in.WidgetSecret = "not-a-secret!"
	a, err := f.orch.StartPayment(ctx, in)
	require.NoError(t, err)

	require.Equal(t, StateFailed, a.State())
	require.Empty(t, f.gw.intentGets)
	require.Empty(t, f.gw.intentReqs)
}

func TestMissingPartnerIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.StartPayment(context.Background(), StartPaymentInput{AccountID: "acct_1", WidgetSecret: "pmi_a_secret"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestEmptyCartIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.StartPayment(context.Background(), payNowInput("empty-cart"))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoreFlowPersistsExactlyOneMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.methodIntent = payment.PaymentMethodIntent{
		ID:           "pmi_store1",
		ClientSecret: "pmi_store1_secret_xyz",
		Status:       "active",
		CreatedAt:    "2026-08-29T00:00:00Z",
		PaymentMethod: &payment.MethodDetail{
			ID:   "pm_new",
			Type: payment.MethodCard,
			Card: &payment.Card{LastFourDigits: "4242", Brand: "visa"},
		},
	}

	a, err := f.orch.StartStore(ctx, StartStoreInput{PartnerID: "partner_1", AccountID: "acct_1", Validate: true})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingTokenization, a.State())
	require.Len(t, f.gw.methodIntentReqs, 1)
	require.Equal(t, payment.BillToMerchant, f.gw.methodIntentReqs[0].BillTo)
	require.Equal(t, []payment.MethodType{payment.MethodCard, payment.MethodBank}, f.gw.methodIntentReqs[0].PaymentMethodTypes)

	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_store", MethodType: payment.MethodCard}))

	require.Equal(t, StateSucceeded, a.State())
	records, err := f.methods.List(ctx, "acct_1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "pm_new", records[0].ID)
	// Store flow never charges.
	require.Empty(t, f.gw.payReqs)
	require.Empty(t, f.gw.intentReqs)
}

func TestStoreFlowNarrowsToSelectedMethodType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.orch.StartStore(ctx, StartStoreInput{
		PartnerID:  "partner_1",
		AccountID:  "acct_1",
		MethodType: payment.MethodBank,
	})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingTokenization, a.State())
	require.Len(t, f.gw.methodIntentReqs, 1)
	require.Equal(t, []payment.MethodType{payment.MethodBank}, f.gw.methodIntentReqs[0].PaymentMethodTypes)
}

func TestStoreFlowRejectsUnknownMethodType(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.StartStore(context.Background(), StartStoreInput{
		PartnerID:  "partner_1",
		AccountID:  "acct_1",
		MethodType: "crypto",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.gw.methodIntentReqs)
}

func TestStoreFlowFailsWhenNoMethodAttached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.methodIntent = payment.PaymentMethodIntent{ID: "pmi_store1", Status: "created"}

	a, err := f.orch.StartStore(ctx, StartStoreInput{PartnerID: "partner_1", AccountID: "acct_1"})
	require.NoError(t, err)
	require.NoError(t, f.relay.Deliver(widget.Event{Kind: widget.EventSuccess, Token: "tok_store", MethodType: payment.MethodCard}))

	require.Equal(t, StateFailed, a.State())
	require.Equal(t, 1, f.notices.Failures())
	records, err := f.methods.List(ctx, "acct_1")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRegistryKeepsFinishedAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")

	a, err := f.orch.StartPayment(ctx, StartPaymentInput{
		PartnerID:      "partner_1",
		AccountID:      "acct_1",
		CartID:         "c1",
		StoredMethodID: "pm_123",
	})
	require.NoError(t, err)

	got, ok := f.orch.Registry.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, StateSucceeded, got.State())
	require.NotNil(t, got.Snapshot(100).Result)
}

func TestAttemptAddressableOnlyAfterStartReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "c1")
	f.gw.onCreateIntent = func() {
		require.Zero(t, f.orch.Registry.Len())
	}

	a, err := f.orch.StartPayment(ctx, payNowInput("c1"))
	require.NoError(t, err)

	require.Equal(t, 1, f.orch.Registry.Len())
	_, ok := f.orch.Registry.Get(a.ID)
	require.True(t, ok)
}
