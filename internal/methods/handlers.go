package methods

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fwdshop/checkout/internal/common"
	"github.com/fwdshop/checkout/internal/payment"
)

// Handler exposes the saved-method endpoints used by the storefront.
type Handler struct {
	Store  *Store
	Logger zerolog.Logger
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type listResponse struct {
	Methods []payment.StoredPaymentMethod `json:"methods"`
	Page    int                           `json:"page"`
	Limit   int                           `json:"limit"`
	Total   int                           `json:"total"`
}

// List handles GET /api/methods?account_id=&page=&limit=. Results keep
// insertion order; page and limit window the full list.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "account_id is required", nil)
		return
	}

	records, err := h.Store.List(r.Context(), accountID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("method list failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load payment methods", nil)
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	start := (page - 1) * limit
	if start > len(records) {
		start = len(records)
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}
	window := records[start:end]
	if window == nil {
		window = []payment.StoredPaymentMethod{}
	}

	common.JSON(w, http.StatusOK, listResponse{
		Methods: window,
		Page:    page,
		Limit:   limit,
		Total:   len(records),
	})
}

// Delete handles DELETE /api/methods/{id}?account_id=. Deleting an absent id
// succeeds without changes.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "account_id is required", nil)
		return
	}
	if err := h.Store.Remove(r.Context(), accountID, chi.URLParam(r, "id")); err != nil {
		h.Logger.Error().Err(err).Msg("method delete failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to delete payment method", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes mounts the saved-method endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/methods", h.List)
	r.Delete("/methods/{id}", h.Delete)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
