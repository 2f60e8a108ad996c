package cart

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fwdshop/checkout/internal/common"
)

// Handler exposes the cart endpoints used by the storefront.
type Handler struct {
	Store    *Store
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type addItemRequest struct {
	ID        string  `json:"id" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
	Quantity  int     `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// Get handles GET /api/carts/{cartID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Store.Snapshot(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		h.Logger.Error().Err(err).Msg("cart read failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, snap)
}

// AddItem handles POST /api/carts/{cartID}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Missing required parameters", nil)
		return
	}
	cartID := chi.URLParam(r, "cartID")
	if err := h.Store.AddItem(r.Context(), cartID, Item(req)); err != nil {
		h.Logger.Error().Err(err).Msg("cart add failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to update cart", nil)
		return
	}
	h.respondSnapshot(w, r, cartID)
}

// UpdateQuantity handles PUT /api/carts/{cartID}/items/{itemID}. A quantity
// of zero or less removes the line.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil)
		return
	}
	cartID := chi.URLParam(r, "cartID")
	if err := h.Store.UpdateQuantity(r.Context(), cartID, chi.URLParam(r, "itemID"), req.Quantity); err != nil {
		h.Logger.Error().Err(err).Msg("cart update failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to update cart", nil)
		return
	}
	h.respondSnapshot(w, r, cartID)
}

// RemoveItem handles DELETE /api/carts/{cartID}/items/{itemID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	if err := h.Store.RemoveItem(r.Context(), cartID, chi.URLParam(r, "itemID")); err != nil {
		h.Logger.Error().Err(err).Msg("cart remove failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to update cart", nil)
		return
	}
	h.respondSnapshot(w, r, cartID)
}

// Clear handles DELETE /api/carts/{cartID}.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Clear(r.Context(), chi.URLParam(r, "cartID")); err != nil {
		h.Logger.Error().Err(err).Msg("cart clear failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to clear cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, Snapshot{Items: []Item{}})
}

func (h *Handler) respondSnapshot(w http.ResponseWriter, r *http.Request, cartID string) {
	snap, err := h.Store.Snapshot(r.Context(), cartID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("cart read failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, snap)
}

// Routes mounts the cart endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/carts/{cartID}", h.Get)
	r.Delete("/carts/{cartID}", h.Clear)
	r.Post("/carts/{cartID}/items", h.AddItem)
	r.Put("/carts/{cartID}/items/{itemID}", h.UpdateQuantity)
	r.Delete("/carts/{cartID}/items/{itemID}", h.RemoveItem)
}
