package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

type discountResponse struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	UsePercentage   bool       `json:"usePercentage"`
	Percentage      float64    `json:"percentage"`
	FixedAmount     float64    `json:"fixedAmount"`
	MaxAmount       *float64   `json:"maxAmount,omitempty"`
	StartsAt        *time.Time `json:"startsAt,omitempty"`
	EndsAt          *time.Time `json:"endsAt,omitempty"`
	RequiresCoupon  bool       `json:"requiresCoupon"`
	Cumulative      bool       `json:"cumulative"`
	Limitation      string     `json:"limitation"`
	LimitationTimes int        `json:"limitationTimes,omitempty"`
	Active          bool       `json:"active"`
}

type couponResponse struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Used bool   `json:"used"`
}

// ListDiscounts returns discounts matching the optional query filters.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := discount.Filter{
		Type:       discount.Type(q.Get("type")),
		StoreID:    q.Get("storeId"),
		Currency:   q.Get("currency"),
		CouponCode: q.Get("couponCode"),
		Name:       q.Get("name"),
	}

	discounts, err := h.catalog.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := make([]discountResponse, len(discounts))
	for i := range discounts {
		resp[i] = toDiscountResponse(&discounts[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDiscount returns one discount by ID.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.catalog.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountResponse(d))
}

// ListCoupons returns one page of a discount's coupon codes.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))

	coupons, err := h.catalog.CouponsByDiscount(r.Context(), id, page, perPage)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := make([]couponResponse, len(coupons))
	for i, c := range coupons {
		resp[i] = couponResponse{ID: c.ID, Code: c.Code, Used: c.Used}
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid discount id")
		return 0, false
	}
	return id, true
}

func toDiscountResponse(d *discount.Discount) discountResponse {
	resp := discountResponse{
		ID:              d.ID,
		Name:            d.Name,
		Type:            string(d.Type),
		UsePercentage:   d.UsePercentage,
		Percentage:      d.Percentage.InexactFloat64(),
		FixedAmount:     d.FixedAmount.InexactFloat64(),
		StartsAt:        d.StartsAt,
		EndsAt:          d.EndsAt,
		RequiresCoupon:  d.RequiresCoupon,
		Cumulative:      d.Cumulative,
		Limitation:      string(d.Limitation),
		LimitationTimes: d.LimitationTimes,
		Active:          d.Active,
	}
	if d.MaxAmount != nil {
		v := d.MaxAmount.InexactFloat64()
		resp.MaxAmount = &v
	}
	return resp
}
