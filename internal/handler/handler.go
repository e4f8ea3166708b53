// Package handler exposes the discount engine over a thin JSON/HTTP
// surface. All business logic lives in the domain packages; handlers only
// decode requests, delegate, and map domain errors to responses.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// Handler carries the engine services the HTTP surface fronts.
type Handler struct {
	catalog discount.Catalog
	engine  *discount.Engine
	ledger  redemption.Ledger
}

// New creates a Handler.
func New(catalog discount.Catalog, engine *discount.Engine, ledger redemption.Ledger) *Handler {
	return &Handler{catalog: catalog, engine: engine, ledger: ledger}
}

// Routes mounts every engine endpoint on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", h.Evaluate)
		r.Post("/redeem", h.Redeem)
		r.Post("/cancel", h.Cancel)

		r.Get("/discounts", h.ListDiscounts)
		r.Get("/discounts/{id}", h.GetDiscount)
		r.Get("/discounts/{id}/coupons", h.ListCoupons)
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeDomainError maps domain sentinel errors to structured responses.
// Redemption conflicts are client-visible outcomes, not server faults.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, discount.ErrNotFound), errors.Is(err, redemption.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "discount or coupon not found")
	case errors.Is(err, redemption.ErrCouponAlreadyUsed):
		writeError(w, http.StatusConflict, "coupon_already_used", "coupon has already been used")
	case errors.Is(err, redemption.ErrLimitExceeded):
		writeError(w, http.StatusConflict, "limit_exceeded", "discount usage limit exceeded")
	case errors.Is(err, discount.ErrInUse):
		writeError(w, http.StatusConflict, "in_use", "record is referenced by usage history")
	case errors.Is(err, discount.ErrInvalidModel):
		writeError(w, http.StatusUnprocessableEntity, "invalid_model", err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	return true
}
