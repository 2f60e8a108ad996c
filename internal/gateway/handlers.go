package gateway

import (
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fwdshop/checkout/internal/common"
	"github.com/fwdshop/checkout/internal/payment"
)

// Handler exposes the proxy gateway endpoints consumed by the storefront.
// Each operation resolves partner credentials and forwards the request to the
// payment API; upstream failures surface as a generic 500.
type Handler struct {
	Creds    CredentialTable
	Upstream *Upstream
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// CreatePaymentIntent handles POST /api/payment_intent.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentIntentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if err := h.validate(req); err != nil {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount < 0 {
		flatError(w, http.StatusBadRequest, "Invalid amount")
		return
	}
	apiKey, ok := h.Creds.Lookup(req.PartnerID)
	if !ok {
		flatError(w, http.StatusBadRequest, "Invalid partner ID")
		return
	}

	types := req.PaymentMethodTypes
	if len(types) == 0 {
		types = []payment.MethodType{payment.MethodCard}
	}
	body := upstreamPaymentIntent{
		Currency:           "USD",
		Amount:             int64(math.Round(req.Amount * 100)),
		Capture:            true,
		ReferenceID:        "internal-id",
		Description:        "Paying for services",
		PaymentMethodTypes: types,
	}

	var intent payment.PaymentIntent
	if err := h.Upstream.CreatePaymentIntent(r.Context(), apiKey, req.AccountID, body, &intent); err != nil {
		h.Logger.Error().Err(err).Str("partner_id", req.PartnerID).Msg("create payment intent")
		flatError(w, http.StatusInternalServerError, "Failed to create payment intent")
		return
	}
	common.JSON(w, http.StatusOK, intent)
}

// CreateMethodIntent handles POST /api/payment_method_intent.
func (h *Handler) CreateMethodIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateMethodIntentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if err := h.validate(req); err != nil {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	apiKey, ok := h.Creds.Lookup(req.PartnerID)
	if !ok {
		flatError(w, http.StatusBadRequest, "Invalid partner ID")
		return
	}
	billTo := req.BillTo
	if billTo == "" {
		billTo = payment.BillToMerchant
	}

	var intent payment.PaymentMethodIntent
	body := upstreamMethodIntent{
		PaymentMethodTypes: req.PaymentMethodTypes,
		Validate:           req.Validate,
		BillTo:             billTo,
	}
	if err := h.Upstream.CreateMethodIntent(r.Context(), apiKey, req.AccountID, body, &intent); err != nil {
		h.Logger.Error().Err(err).Str("partner_id", req.PartnerID).Msg("create payment method intent")
		flatError(w, http.StatusInternalServerError, "Failed to create payment method intent")
		return
	}
	common.JSON(w, http.StatusOK, intent)
}

// GetPaymentMethod handles GET /api/payment_method/{id}.
func (h *Handler) GetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	partnerID := r.URL.Query().Get("partner_id")
	accountID := r.URL.Query().Get("account_id")
	apiKey, ok := h.Creds.Lookup(partnerID)
	if !ok {
		flatError(w, http.StatusBadRequest, "Invalid partner ID")
		return
	}

	var method payment.StoredPaymentMethod
	if err := h.Upstream.GetPaymentMethod(r.Context(), apiKey, accountID, id, &method); err != nil {
		h.Logger.Error().Err(err).Str("payment_method_id", id).Msg("retrieve payment method")
		flatError(w, http.StatusInternalServerError, "Failed to retrieve payment method")
		return
	}
	common.JSON(w, http.StatusOK, method)
}

// GetMethodIntent handles GET /api/payment_method_intent/{id}.
func (h *Handler) GetMethodIntent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	partnerID := r.URL.Query().Get("partner_id")
	accountID := r.URL.Query().Get("account_id")
	secret := r.URL.Query().Get("secret")
	apiKey, ok := h.Creds.Lookup(partnerID)
	if !ok {
		flatError(w, http.StatusBadRequest, "Invalid partner ID")
		return
	}

	var intent payment.PaymentMethodIntent
	if err := h.Upstream.GetMethodIntent(r.Context(), apiKey, accountID, id, secret, &intent); err != nil {
		h.Logger.Error().Err(err).Str("payment_method_intent_id", id).Msg("retrieve payment method intent")
		flatError(w, http.StatusInternalServerError, "Failed to retrieve payment method intent")
		return
	}
	common.JSON(w, http.StatusOK, intent)
}

// Pay handles POST /api/pay.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if err := h.validate(req); err != nil {
		flatError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	apiKey, ok := h.Creds.Lookup(req.PartnerID)
	if !ok {
		flatError(w, http.StatusBadRequest, "Invalid partner ID")
		return
	}

	var result payment.PaymentResult
	body := upstreamPayment{PaymentMethodID: req.PaymentMethodID}
	if err := h.Upstream.CreatePayment(r.Context(), apiKey, req.AccountID, req.PaymentIntentID, body, &result); err != nil {
		h.Logger.Error().Err(err).Str("payment_intent_id", req.PaymentIntentID).Msg("create payment")
		flatError(w, http.StatusInternalServerError, "Failed to create payment")
		return
	}
	common.JSON(w, http.StatusOK, result)
}

// Routes mounts the gateway endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/payment_intent", h.CreatePaymentIntent)
	r.Post("/payment_method_intent", h.CreateMethodIntent)
	r.Get("/payment_method_intent/{id}", h.GetMethodIntent)
	r.Get("/payment_method/{id}", h.GetPaymentMethod)
	r.Post("/pay", h.Pay)
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

// flatError keeps the gateway's outward error contract: a flat object with a
// single generic message.
func flatError(w http.ResponseWriter, status int, message string) {
	common.JSON(w, status, map[string]string{"error": message})
}
