package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/customer"
	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

type cartItemRequest struct {
	ProductID  string  `json:"productId"`
	CategoryID string  `json:"categoryId,omitempty"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
}

type evaluateRequest struct {
	Type        string            `json:"type"`
	CustomerID  string            `json:"customerId"`
	StoreID     string            `json:"storeId,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	CouponCodes []string          `json:"couponCodes,omitempty"`
	Items       []cartItemRequest `json:"items,omitempty"`
	BaseAmount  float64           `json:"baseAmount"`
}

type appliedResponse struct {
	DiscountID int64   `json:"discountId"`
	CouponCode string  `json:"couponCode,omitempty"`
	Amount     float64 `json:"amount"`
}

type evaluateResponse struct {
	Applied  []appliedResponse           `json:"applied"`
	Total    float64                     `json:"total"`
	Rejected map[int64][]discount.Reason `json:"rejected,omitempty"`
}

// Evaluate runs the full pipeline for one pricing context: candidate
// query, validation, pricing, and preferred selection.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BaseAmount < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "baseAmount must not be negative")
		return
	}

	t := discount.Type(req.Type)
	if t == "" {
		t = discount.TypeAssignedToOrderTotal
	}

	ec := discount.Context{
		Customer:    customer.Customer{ID: req.CustomerID},
		StoreID:     req.StoreID,
		Currency:    req.Currency,
		CouponCodes: req.CouponCodes,
		Items:       toDomainItems(req.Items),
	}

	eval, err := h.engine.Evaluate(r.Context(), t, ec, decimal.NewFromFloat(req.BaseAmount))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := evaluateResponse{
		Applied:  make([]appliedResponse, 0, len(eval.Selection.Applied)),
		Total:    eval.Selection.Total.InexactFloat64(),
		Rejected: eval.Rejected,
	}
	for _, a := range eval.Selection.Applied {
		resp.Applied = append(resp.Applied, appliedResponse{
			DiscountID: a.DiscountID,
			CouponCode: a.CouponCode,
			Amount:     a.Amount.InexactFloat64(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	DiscountID int64  `json:"discountId"`
	CouponCode string `json:"couponCode,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	OrderID    string `json:"orderId"`
}

type redeemResponse struct {
	UsageID    int64  `json:"usageId"`
	DiscountID int64  `json:"discountId"`
	CouponCode string `json:"couponCode,omitempty"`
	OrderID    string `json:"orderId"`
}

// Redeem records one redemption through the atomic ledger.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.DiscountID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "orderId and discountId are required")
		return
	}

	res, err := h.ledger.TryRedeem(r.Context(), redemption.RedeemRequest{
		DiscountID: req.DiscountID,
		CouponCode: req.CouponCode,
		CustomerID: req.CustomerID,
		OrderID:    req.OrderID,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		UsageID:    res.UsageID,
		DiscountID: res.DiscountID,
		CouponCode: res.CouponCode,
		OrderID:    res.OrderID,
	})
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

// Cancel releases every redemption recorded for an order.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "orderId is required")
		return
	}

	if err := h.ledger.Cancel(r.Context(), req.OrderID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDomainItems(items []cartItemRequest) []discount.CartItem {
	out := make([]discount.CartItem, len(items))
	for i, it := range items {
		out[i] = discount.CartItem{
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			Price:      decimal.NewFromFloat(it.Price),
			Quantity:   it.Quantity,
		}
	}
	return out
}
