package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fwdshop/checkout/internal/common"
	"github.com/fwdshop/checkout/internal/payment"
	"github.com/fwdshop/checkout/internal/widget"
)

// Handler exposes the checkout surface: start attempts, feed widget events,
// confirm bank charges, read attempt state.
type Handler struct {
	Orch     *Orchestrator
	Relay    *widget.Relay
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type startPaymentRequest struct {
	PartnerID      string `json:"partner_id" validate:"required"`
	AccountID      string `json:"account_id" validate:"required"`
	CartID         string `json:"cart_id" validate:"required"`
	StoredMethodID string `json:"stored_method_id"`
	WidgetSecret   string `json:"widget_secret"`
}

type startStoreRequest struct {
	PartnerID  string             `json:"partner_id" validate:"required"`
	AccountID  string             `json:"account_id" validate:"required"`
	MethodType payment.MethodType `json:"method_type" validate:"omitempty,oneof=card bank"`
	Validate   bool               `json:"validate"`
	BillTo     payment.BillTo     `json:"bill_to" validate:"omitempty,oneof=merchant partner"`
}

// StartPayment handles POST /api/checkout/payments.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req startPaymentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Missing required parameters", nil)
		return
	}

	a, err := h.Orch.StartPayment(r.Context(), StartPaymentInput{
		PartnerID:      req.PartnerID,
		AccountID:      req.AccountID,
		CartID:         req.CartID,
		StoredMethodID: req.StoredMethodID,
		WidgetSecret:   req.WidgetSecret,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
		h.Logger.Error().Err(err).Msg("start payment failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to start checkout", nil)
		return
	}
	common.JSON(w, http.StatusCreated, a.Snapshot(h.Orch.FeeCents))
}

// StartStore handles POST /api/checkout/stored-methods.
func (h *Handler) StartStore(w http.ResponseWriter, r *http.Request) {
	var req startStoreRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Missing required parameters", nil)
		return
	}

	a, err := h.Orch.StartStore(r.Context(), StartStoreInput{
		PartnerID:  req.PartnerID,
		AccountID:  req.AccountID,
		MethodType: req.MethodType,
		Validate:   req.Validate,
		BillTo:     req.BillTo,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
		h.Logger.Error().Err(err).Msg("start store failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to start save flow", nil)
		return
	}
	common.JSON(w, http.StatusCreated, a.Snapshot(h.Orch.FeeCents))
}

// GetAttempt handles GET /api/checkout/attempts/{id}.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.Orch.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "Unknown checkout attempt", nil)
		return
	}
	common.JSON(w, http.StatusOK, a.Snapshot(h.Orch.FeeCents))
}

// PostEvent handles POST /api/checkout/attempts/{id}/events: the browser
// relays widget callbacks here, and they flow into the mounted element. The
// event is rejected unless the addressed attempt owns the mounted widget, so
// a straggler cannot drive a later attempt.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.Orch.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "Unknown checkout attempt", nil)
		return
	}

	var ev widget.Event
	if err := common.DecodeJSON(r, &ev); err != nil || ev.Kind == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid widget event", nil)
		return
	}
	if h.Orch.ActiveAttemptID() != a.ID {
		common.JSONError(w, http.StatusConflict, "NOT_MOUNTED", "No payment form is active for this attempt", nil)
		return
	}
	if err := h.Relay.Deliver(ev); err != nil {
		common.JSONError(w, http.StatusConflict, "NOT_MOUNTED", "No payment form is active", nil)
		return
	}
	common.JSON(w, http.StatusOK, a.Snapshot(h.Orch.FeeCents))
}

// Confirm handles POST /api/checkout/attempts/{id}/confirm for bank-debit
// attempts parked in ready_to_charge.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	a, ok := h.Orch.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "Unknown checkout attempt", nil)
		return
	}
	if err := h.Orch.Confirm(r.Context(), a); err != nil {
		common.JSONError(w, http.StatusConflict, "NOT_CONFIRMABLE", "Attempt is not awaiting confirmation", nil)
		return
	}
	common.JSON(w, http.StatusOK, a.Snapshot(h.Orch.FeeCents))
}

// Routes mounts the checkout endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout/payments", h.StartPayment)
	r.Post("/checkout/stored-methods", h.StartStore)
	r.Get("/checkout/attempts/{id}", h.GetAttempt)
	r.Post("/checkout/attempts/{id}/events", h.PostEvent)
	r.Post("/checkout/attempts/{id}/confirm", h.Confirm)
}
