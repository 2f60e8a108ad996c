package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/fwdshop/checkout/internal/payment"
	"github.com/fwdshop/checkout/internal/resilience"
)

type upstreamCall struct {
	method    string
	path      string
	apiKey    string
	accountID string
	body      map[string]any
}

func newTestHandler(t *testing.T, upstream http.HandlerFunc) (*Handler, *[]upstreamCall) {
	t.Helper()
	calls := &[]upstreamCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := upstreamCall{
			method:    r.Method,
			path:      r.URL.Path,
			apiKey:    r.Header.Get("x-api-key"),
			accountID: r.Header.Get("x-account-id"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&call.body)
		}
		*calls = append(*calls, call)
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	h := &Handler{
		Creds: NewCredentialTable(map[string]string{"partner_a": "key_a"}),
		Upstream: &Upstream{
			BaseURL: srv.URL,
			HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, Timeout: 2 * time.Second},
		},
		Validate: validator.New(),
	}
	return h, calls
}

func router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	return r
}

func TestCreatePaymentIntentForwardsCents(t *testing.T) {
	h, calls := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(payment.PaymentIntent{ID: "pi_1", Status: "requires_payment_method", Amount: 1597})
	})

	body := `{"partner_id":"partner_a","account_id":"acct_1","amount":15.97,"payment_method_types":["card"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment_intent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "/payment_intents", call.path)
	require.Equal(t, "key_a", call.apiKey)
	require.Equal(t, "acct_1", call.accountID)
	require.Equal(t, float64(1597), call.body["amount"])
	require.Equal(t, "USD", call.body["currency"])
	require.Equal(t, true, call.body["capture"])

	var intent payment.PaymentIntent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intent))
	require.Equal(t, int64(1597), intent.Amount)
}

func TestCreatePaymentIntentUnknownPartner(t *testing.T) {
	h, calls := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {})

	body := `{"partner_id":"nope","account_id":"acct_1","amount":10}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment_intent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Invalid partner ID"}`, rec.Body.String())
	require.Empty(t, *calls, "unknown partners must not reach the upstream")
}

func TestCreatePaymentIntentRejectsNegativeAmount(t *testing.T) {
	h, calls := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {})

	body := `{"partner_id":"partner_a","account_id":"acct_1","amount":-3}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment_intent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, *calls)
}

func TestCreateMethodIntentRequiresTypes(t *testing.T) {
	h, calls := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {})

	body := `{"partner_id":"partner_a","account_id":"acct_1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment_method_intent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Missing required parameters"}`, rec.Body.String())
	require.Empty(t, *calls)
}

func TestCreateMethodIntentDefaultsBillTo(t *testing.T) {
	h, calls := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(payment.PaymentMethodIntent{ID: "pmi_1", ClientSecret: "pmi_1_secret"})
	})

	body := `{"partner_id":"partner_a","account_id":"acct_1","payment_method_types":["bank"],"validate":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment_method_intent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *calls, 1)
	require.Equal(t, "/payment_method_intents", (*calls)[0].path)
	require.Equal(t, "merchant", (*calls)[0].body["bill_to"])
	require.Equal(t, true, (*calls)[0].body["validate"])
}

func TestGetPaymentMethodUpstreamFailure(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such payment method"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/payment_method/pm_404?partner_id=partner_a&account_id=acct_1", nil)
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	// upstream error text is normalised away
	require.JSONEq(t, `{"error":"Failed to retrieve payment method"}`, rec.Body.String())
}

func TestPayForwardsToNestedPaymentsPath(t *testing.T) {
	h, calls := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(payment.PaymentResult{ID: "pay_1", Status: "succeeded", Amount: 1597})
	})

	body := `{"payment_intent_id":"pi_1","payment_method_id":"pm_123","partner_id":"partner_a","account_id":"acct_1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pay", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *calls, 1)
	require.Equal(t, "/payment_intents/pi_1/payments", (*calls)[0].path)
	require.Equal(t, "pm_123", (*calls)[0].body["payment_method_id"])
}

func TestGetMethodIntentPassesSecretThrough(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "s3cret", r.URL.Query().Get("secret"))
		_ = json.NewEncoder(w).Encode(payment.PaymentMethodIntent{ID: "pmi_1"})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/payment_method_intent/pmi_1?partner_id=partner_a&account_id=acct_1&secret=s3cret", nil)
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
