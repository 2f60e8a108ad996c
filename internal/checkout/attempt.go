package checkout

import (
	"sync"
	"time"

	"github.com/fwdshop/checkout/internal/payment"
)

// State is a checkout attempt's position in the state machine.
type State string

const (
	StateIdle                  State = "idle"
	StateResolvingMethodTypes  State = "resolving_method_types"
	StateCreatingPaymentIntent State = "creating_payment_intent"
	StateAwaitingTokenization  State = "awaiting_tokenization"
	StateReadyToCharge         State = "ready_to_charge"
	StateSucceeded             State = "succeeded"
	StateFailed                State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Flow distinguishes paying now from storing a method for later.
type Flow string

const (
	FlowPayNow Flow = "pay_now"
	FlowStore  Flow = "store"
)

// Attempt is one checkout run. Fields below mu are guarded by it from the
// moment the attempt is published to the registry; the intent and method
// records created during the run are discarded with the attempt and never
// persisted.
type Attempt struct {
	ID          string
	attemptFlow Flow
	partnerID   string
	accountID   string
	cartID      string
	startedAt   time.Time

	mu             sync.Mutex
	state          State
	cartTotal      float64
	storedMethodID string
	methodIntentID string
	clientSecret   string
	methodTypes    []payment.MethodType
	token          string
	consumed       bool
	charging       bool
	intent         payment.PaymentIntent
	result         *payment.PaymentResult
	storedRecord   *payment.StoredPaymentMethod
	failure        string
}

func (a *Attempt) flow() Flow { return a.attemptFlow }

func (a *Attempt) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the attempt's current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot is the read-only view handlers serve to the storefront.
type Snapshot struct {
	ID              string                       `json:"id"`
	Flow            Flow                         `json:"flow"`
	State           State                        `json:"state"`
	CartTotal       float64                      `json:"cart_total,omitempty"`
	FeeCents        int64                        `json:"fee_cents,omitempty"`
	AmountCents     int64                        `json:"amount_cents,omitempty"`
	PaymentIntentID string                       `json:"payment_intent_id,omitempty"`
	MethodIntentID  string                       `json:"method_intent_id,omitempty"`
	Result          *payment.PaymentResult       `json:"result,omitempty"`
	StoredMethod    *payment.StoredPaymentMethod `json:"stored_method,omitempty"`
	Failure         string                       `json:"failure,omitempty"`
	StartedAt       time.Time                    `json:"started_at"`
}

// Snapshot captures the attempt's current public view.
func (a *Attempt) Snapshot(feeCents int64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := Snapshot{
		ID:              a.ID,
		Flow:            a.attemptFlow,
		State:           a.state,
		CartTotal:       a.cartTotal,
		PaymentIntentID: a.intent.ID,
		MethodIntentID:  a.methodIntentID,
		Result:          a.result,
		StoredMethod:    a.storedRecord,
		Failure:         a.failure,
		StartedAt:       a.startedAt,
	}
	if a.attemptFlow == FlowPayNow {
		snap.FeeCents = feeCents
		snap.AmountCents = a.intent.Amount
	}
	return snap
}

// Registry keeps attempts addressable by id for the lifetime of the process.
// Finished attempts stay readable so the storefront can poll terminal state.
type Registry struct {
	mu       sync.RWMutex
	attempts map[string]*Attempt
}

func NewRegistry() *Registry {
	return &Registry{attempts: make(map[string]*Attempt)}
}

func (r *Registry) Put(a *Attempt) {
	r.mu.Lock()
	r.attempts[a.ID] = a
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Attempt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[id]
	return a, ok
}

// Len reports how many attempts are addressable.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}
