// Package checkout drives a single payment attempt through its states: from
// resolving the allowed method types, through intent creation and
// tokenization, to the final charge or the stored-method write.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fwdshop/checkout/internal/cart"
	"github.com/fwdshop/checkout/internal/methods"
	"github.com/fwdshop/checkout/internal/notify"
	"github.com/fwdshop/checkout/internal/obs"
	"github.com/fwdshop/checkout/internal/payment"
	"github.com/fwdshop/checkout/internal/widget"
)

// Gateway is the slice of the proxy gateway the orchestrator consumes.
// *payment.Client satisfies it.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req payment.CreatePaymentIntentRequest) (payment.PaymentIntent, error)
	CreateMethodIntent(ctx context.Context, req payment.CreateMethodIntentRequest) (payment.PaymentMethodIntent, error)
	GetPaymentMethod(ctx context.Context, id, partnerID, accountID string) (payment.StoredPaymentMethod, error)
	GetMethodIntent(ctx context.Context, id, secret, partnerID, accountID string) (payment.PaymentMethodIntent, error)
	Pay(ctx context.Context, req payment.PayRequest) (payment.PaymentResult, error)
}

// ErrInvalidInput marks configuration problems caught before any network
// call: missing partner or account, empty cart, unparseable widget secret.
var ErrInvalidInput = errors.New("checkout: invalid input")

// Orchestrator owns the checkout state machines. One attempt is active on the
// widget at a time; finished attempts stay readable through the registry.
type Orchestrator struct {
	Gateway             Gateway
	Cart                *cart.Store
	Methods             *methods.Store
	Widget              *widget.Adapter
	Notifier            notify.Notifier
	Registry            *Registry
	Logger              zerolog.Logger
	FeeCents            int64
	WidgetAPIKey        string
	GooglePayMerchantID string

	mountMu  sync.Mutex
	activeID string
}

// ActiveAttemptID reports which attempt currently owns the mounted widget,
// or "" when nothing is mounted.
func (o *Orchestrator) ActiveAttemptID() string {
	o.mountMu.Lock()
	defer o.mountMu.Unlock()
	return o.activeID
}

// StartPaymentInput begins a pay-now attempt. Exactly one of StoredMethodID
// or WidgetSecret selects how the method is provided; when both are set the
// stored method wins and the widget is never mounted.
type StartPaymentInput struct {
	PartnerID      string
	AccountID      string
	CartID         string
	StoredMethodID string
	WidgetSecret   string
}

// StartStoreInput begins a store-for-later attempt: collect a method through
// the widget and persist it without charging. MethodType narrows the widget
// to the user's selected type; empty offers both.
type StartStoreInput struct {
	PartnerID  string
	AccountID  string
	MethodType payment.MethodType
	Validate   bool
	BillTo     payment.BillTo
}

var tracer = otel.Tracer("checkout")

// StartPayment runs a pay-now attempt up to its first wait point: terminal
// for the stored-method path, AwaitingTokenization (or Failed) otherwise.
func (o *Orchestrator) StartPayment(ctx context.Context, in StartPaymentInput) (*Attempt, error) {
	if in.PartnerID == "" || in.AccountID == "" {
		return nil, fmt.Errorf("%w: partner and account are required", ErrInvalidInput)
	}
	if in.StoredMethodID == "" && in.WidgetSecret == "" {
		return nil, fmt.Errorf("%w: a stored method or a widget secret is required", ErrInvalidInput)
	}

	snap, err := o.Cart.Snapshot(ctx, in.CartID)
	if err != nil {
		return nil, err
	}
	if len(snap.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}

	a := o.newAttempt(FlowPayNow, in.PartnerID, in.AccountID)
	defer o.publish(a)
	a.cartID = in.CartID
	a.cartTotal = snap.TotalAmount
	a.storedMethodID = in.StoredMethodID

	ctx, span := tracer.Start(ctx, "Checkout.StartPayment")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.flow", string(FlowPayNow)))

	a.setState(StateResolvingMethodTypes)
	types, ok := o.resolveMethodTypes(ctx, a, in)
	if !ok {
		return a, nil
	}
	a.methodTypes = types

	a.setState(StateCreatingPaymentIntent)
	intent, err := o.Gateway.CreatePaymentIntent(ctx, payment.CreatePaymentIntentRequest{
		PartnerID:          in.PartnerID,
		AccountID:          in.AccountID,
		Amount:             a.cartTotal + float64(o.FeeCents)/100,
		PaymentMethodTypes: types,
	})
	if err != nil {
		o.fail(a, "Payment failed", "We could not start your payment. Please try again.")
		return a, nil
	}
	a.intent = intent

	if a.storedMethodID != "" {
		o.charge(ctx, a, a.storedMethodID)
		return a, nil
	}
	o.mount(a, a.clientSecret)
	return a, nil
}

// StartStore runs a store-for-later attempt up to AwaitingTokenization.
func (o *Orchestrator) StartStore(ctx context.Context, in StartStoreInput) (*Attempt, error) {
	if in.PartnerID == "" || in.AccountID == "" {
		return nil, fmt.Errorf("%w: partner and account are required", ErrInvalidInput)
	}
	billTo := in.BillTo
	if billTo == "" {
		billTo = payment.BillToMerchant
	}
	types := []payment.MethodType{payment.MethodCard, payment.MethodBank}
	switch in.MethodType {
	case "":
	case payment.MethodCard, payment.MethodBank:
		types = []payment.MethodType{in.MethodType}
	default:
		return nil, fmt.Errorf("%w: unknown method type %q", ErrInvalidInput, in.MethodType)
	}

	a := o.newAttempt(FlowStore, in.PartnerID, in.AccountID)
	defer o.publish(a)
	a.methodTypes = types

	ctx, span := tracer.Start(ctx, "Checkout.StartStore")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.flow", string(FlowStore)))

	a.setState(StateCreatingPaymentIntent)
	intent, err := o.Gateway.CreateMethodIntent(ctx, payment.CreateMethodIntentRequest{
		PartnerID:          in.PartnerID,
		AccountID:          in.AccountID,
		PaymentMethodTypes: types,
		Validate:           in.Validate,
		BillTo:             billTo,
	})
	if err != nil {
		o.fail(a, "Could not save payment method", "We could not start the save flow. Please try again.")
		return a, nil
	}
	a.methodIntentID = intent.ID
	a.clientSecret = intent.ClientSecret

	o.mount(a, intent.ClientSecret)
	return a, nil
}

// HandleEvent applies one widget event to the attempt. Ready and change
// events are informational; success, error and cancel drive transitions.
func (o *Orchestrator) HandleEvent(ctx context.Context, a *Attempt, ev widget.Event) {
	if obs.WidgetEventTotal != nil {
		obs.WidgetEventTotal.WithLabelValues(string(ev.Kind)).Inc()
	}
	switch ev.Kind {
	case widget.EventReady, widget.EventChange:
		o.Logger.Debug().Str("attempt", a.ID).Str("event", string(ev.Kind)).Msg("widget event")
	case widget.EventCancel:
		o.cancel(a)
	case widget.EventError:
		msg := "The payment form reported a problem. Please try again."
		if a.flow() == FlowStore {
			o.fail(a, "Could not save payment method", msg)
		} else {
			o.fail(a, "Payment failed", msg)
		}
	case widget.EventSuccess:
		o.onTokenized(ctx, a, payment.TokenizationResult{Token: ev.Token, Type: ev.MethodType})
	default:
		o.Logger.Warn().Str("attempt", a.ID).Str("event", string(ev.Kind)).Msg("unknown widget event")
	}
}

// Confirm completes a bank-debit pay-now attempt parked in ReadyToCharge.
// Only one confirmation may issue the charge; overlapping calls are rejected
// while it is in flight. The charge itself can still fail, which fails the
// attempt as usual.
func (o *Orchestrator) Confirm(ctx context.Context, a *Attempt) error {
	a.mu.Lock()
	if a.state != StateReadyToCharge {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: attempt is %s, not awaiting confirmation", ErrInvalidInput, state)
	}
	if a.charging {
		a.mu.Unlock()
		return fmt.Errorf("%w: a charge is already in flight", ErrInvalidInput)
	}
	a.charging = true
	token := a.token
	a.mu.Unlock()

	o.charge(ctx, a, token)
	return nil
}

func (o *Orchestrator) newAttempt(flow Flow, partnerID, accountID string) *Attempt {
	a := &Attempt{
		ID:          uuid.NewString(),
		startedAt:   time.Now().UTC(),
		attemptFlow: flow,
		partnerID:   partnerID,
		accountID:   accountID,
		state:       StateIdle,
	}
	return a
}

// publish registers the attempt once its setup writes are done; until then
// no other goroutine can reach it.
func (o *Orchestrator) publish(a *Attempt) {
	if o.Registry != nil {
		o.Registry.Put(a)
	}
}

// resolveMethodTypes learns which method types the attempt may use. Stored
// methods resolve through the method record; new methods through the intent
// behind the widget secret.
func (o *Orchestrator) resolveMethodTypes(ctx context.Context, a *Attempt, in StartPaymentInput) ([]payment.MethodType, bool) {
	if in.StoredMethodID != "" {
		record, err := o.Gateway.GetPaymentMethod(ctx, in.StoredMethodID, in.PartnerID, in.AccountID)
		if err != nil {
			o.fail(a, "Payment failed", "We could not load your saved payment method. Please try again.")
			return nil, false
		}
		if record.PaymentMethod.Type != "" {
			return []payment.MethodType{record.PaymentMethod.Type}, true
		}
		return []payment.MethodType{payment.MethodCard}, true
	}

	id, ok := payment.MethodIntentIDFromSecret(in.WidgetSecret)
	if !ok {
		o.fail(a, "Payment failed", "The payment form could not be prepared. Please try again.")
		return nil, false
	}
	intent, err := o.Gateway.GetMethodIntent(ctx, id, in.WidgetSecret, in.PartnerID, in.AccountID)
	if err != nil {
		o.fail(a, "Payment failed", "The payment form could not be prepared. Please try again.")
		return nil, false
	}
	a.methodIntentID = intent.ID
	a.clientSecret = in.WidgetSecret
	if len(intent.PaymentMethodTypes) > 0 {
		return intent.PaymentMethodTypes, true
	}
	return []payment.MethodType{payment.MethodCard}, true
}

func (o *Orchestrator) mount(a *Attempt, clientSecret string) {
	a.setState(StateAwaitingTokenization)
	err := o.Widget.Configure(widget.Options{
		APIKey:              o.WidgetAPIKey,
		ClientSecret:        clientSecret,
		MethodTypes:         a.methodTypes,
		ShowLabels:          true,
		GooglePayMerchantID: o.GooglePayMerchantID,
		ManualBankConfirm:   a.flow() == FlowPayNow,
	}, "payment-element", func(ev widget.Event) {
		o.HandleEvent(context.Background(), a, ev)
	})
	if err != nil {
		o.fail(a, "Payment failed", "The payment form could not be displayed. Please try again.")
		return
	}
	o.mountMu.Lock()
	o.activeID = a.ID
	o.mountMu.Unlock()
}

// onTokenized handles the widget's success event. Only the first success per
// mount is honored; repeats are dropped.
func (o *Orchestrator) onTokenized(ctx context.Context, a *Attempt, result payment.TokenizationResult) {
	a.mu.Lock()
	if a.state != StateAwaitingTokenization || a.consumed {
		a.mu.Unlock()
		o.Logger.Warn().Str("attempt", a.ID).Msg("ignoring duplicate tokenization success")
		return
	}
	a.consumed = true
	a.token = result.Token
	a.mu.Unlock()

	if a.flow() == FlowStore {
		o.fetchAndPersist(ctx, a)
		return
	}
	if result.Type == payment.MethodBank {
		a.setState(StateReadyToCharge)
		return
	}
	o.charge(ctx, a, result.Token)
}

// charge submits the payment. It never runs without a payment intent id
// recorded on the attempt.
func (o *Orchestrator) charge(ctx context.Context, a *Attempt, methodID string) {
	a.mu.Lock()
	intentID := a.intent.ID
	a.mu.Unlock()
	if intentID == "" {
		o.fail(a, "Payment failed", "We could not complete your payment. Please try again.")
		return
	}

	ctx, span := tracer.Start(ctx, "Checkout.Charge")
	defer span.End()

	start := time.Now()
	result, err := o.Gateway.Pay(ctx, payment.PayRequest{
		PaymentIntentID: intentID,
		PaymentMethodID: methodID,
		PartnerID:       a.partnerID,
		AccountID:       a.accountID,
	})
	if obs.ChargeLatency != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		obs.ChargeLatency.WithLabelValues(outcome).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		o.fail(a, "Payment failed", "Your payment could not be completed. You have not been charged.")
		return
	}

	a.mu.Lock()
	a.result = &result
	a.mu.Unlock()
	o.succeed(a)

	if a.cartID != "" {
		if err := o.Cart.Clear(ctx, a.cartID); err != nil {
			o.Logger.Error().Err(err).Str("cart", a.cartID).Msg("failed to clear cart after payment")
		}
	}
	o.notifySuccess(a, "Payment successful", fmt.Sprintf("Your payment of $%.2f was processed.", float64(result.Amount)/100))
}

// fetchAndPersist finishes a store attempt: read the now-attached method off
// the intent and append it to the local method store.
func (o *Orchestrator) fetchAndPersist(ctx context.Context, a *Attempt) {
	intent, err := o.Gateway.GetMethodIntent(ctx, a.methodIntentID, a.clientSecret, a.partnerID, a.accountID)
	if err != nil || intent.PaymentMethod == nil {
		o.fail(a, "Could not save payment method", "Your payment method could not be saved. Please try again.")
		return
	}
	record := payment.StoredPaymentMethod{
		ID:                       intent.PaymentMethod.ID,
		Status:                   intent.Status,
		AccountID:                a.accountID,
		CreatedAt:                intent.CreatedAt,
		PaymentMethod:            *intent.PaymentMethod,
		Validate:                 intent.Validate,
		BillTo:                   intent.BillTo,
		LatestValidationResponse: intent.LatestValidationResponse,
	}
	if err := o.Methods.Append(ctx, a.accountID, record); err != nil {
		o.fail(a, "Could not save payment method", "Your payment method could not be saved. Please try again.")
		return
	}

	a.mu.Lock()
	a.storedRecord = &record
	a.mu.Unlock()
	o.succeed(a)
	o.notifySuccess(a, "Payment method saved", "Your payment method is ready to use.")
}

func (o *Orchestrator) succeed(a *Attempt) {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = StateSucceeded
	a.mu.Unlock()
	o.unmount()
	o.count(a, "succeeded")
}

// fail moves the attempt to Failed and raises exactly one notification.
// Calls after a terminal state are ignored.
func (o *Orchestrator) fail(a *Attempt, title, description string) {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.failure = description
	a.mu.Unlock()

	o.unmount()
	if o.Notifier != nil {
		o.Notifier.Notify(notify.Notice{Title: title, Description: description, Variant: notify.VariantDestructive})
	}
	o.count(a, "failed")
	o.Logger.Info().Str("attempt", a.ID).Str("flow", string(a.flow())).Msg("checkout attempt failed")
}

// cancel returns the attempt to Idle. It is not a failure: no notification.
func (o *Orchestrator) cancel(a *Attempt) {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = StateIdle
	a.mu.Unlock()
	o.unmount()
	o.count(a, "cancelled")
	o.Logger.Info().Str("attempt", a.ID).Msg("checkout attempt cancelled")
}

func (o *Orchestrator) notifySuccess(a *Attempt, title, description string) {
	if o.Notifier != nil {
		o.Notifier.Notify(notify.Notice{Title: title, Description: description, Variant: notify.VariantSuccess})
	}
}

func (o *Orchestrator) unmount() {
	o.mountMu.Lock()
	o.activeID = ""
	o.mountMu.Unlock()
	if o.Widget != nil {
		o.Widget.Unmount()
	}
}

func (o *Orchestrator) count(a *Attempt, result string) {
	if obs.CheckoutAttemptTotal != nil {
		obs.CheckoutAttemptTotal.WithLabelValues(string(a.flow()), result).Inc()
	}
}
