// Package inmem provides an in-memory discount catalog and redemption
// ledger. It backs unit tests and single-node deployments; the PostgreSQL
// implementation in internal/repository is the production store.
package inmem

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

var (
	_ discount.Catalog = (*Store)(nil)
	_ redemption.Ledger = (*Store)(nil)
)

// Store holds all engine state behind one mutex. The single lock is what
// makes TryRedeem an atomic unit here, mirroring the transaction the
// PostgreSQL ledger uses.
type Store struct {
	mu sync.Mutex

	discounts map[int64]*discount.Discount
	coupons   map[int64]*discount.Coupon
	byCode    map[string]int64
	usages    []discount.UsageRecord

	nextDiscountID int64
	nextCouponID   int64
	nextUsageID    int64

	now func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		discounts: make(map[int64]*discount.Discount),
		coupons:   make(map[int64]*discount.Coupon),
		byCode:    make(map[string]int64),
		now:       time.Now,
	}
}

// GetByID returns a copy of the discount, or discount.ErrNotFound.
func (s *Store) GetByID(_ context.Context, id int64) (*discount.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discounts[id]
	if !ok {
		return nil, errors.Wrapf(discount.ErrNotFound, "discount %d", id)
	}
	cp := *d
	return &cp, nil
}

// Query returns discounts matching the filter, ordered by ID. Zero filter
// values are skipped; set values are AND-combined.
func (s *Store) Query(_ context.Context, f discount.Filter) ([]discount.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var couponDiscount int64 = -1
	if f.CouponCode != "" {
		id, ok := s.byCode[normalizeCode(f.CouponCode)]
		if !ok {
			return nil, nil
		}
		couponDiscount = s.coupons[id].DiscountID
	}

	var out []discount.Discount
	for _, d := range s.discounts {
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		if f.StoreID != "" && len(d.StoreIDs) > 0 && !slices.Contains(d.StoreIDs, f.StoreID) {
			continue
		}
		if f.Currency != "" && len(d.CurrencyCodes) > 0 && !slices.Contains(d.CurrencyCodes, f.Currency) {
			continue
		}
		if f.Name != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.Name)) {
			continue
		}
		if couponDiscount >= 0 && d.ID != couponDiscount {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Insert stores a new discount after model checks and assigns its ID.
func (s *Store) Insert(_ context.Context, d *discount.Discount) error {
	if err := d.CheckModel(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDiscountID++
	d.ID = s.nextDiscountID
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	cp := *d
	s.discounts[d.ID] = &cp
	return nil
}

// Update replaces an existing discount after model checks.
func (s *Store) Update(_ context.Context, d *discount.Discount) error {
	if err := d.CheckModel(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discounts[d.ID]; !ok {
		return errors.Wrapf(discount.ErrNotFound, "discount %d", d.ID)
	}
	cp := *d
	s.discounts[d.ID] = &cp
	return nil
}

// Delete removes a discount and its coupons. It is rejected with
// discount.ErrInUse while non-canceled usage history references the
// discount, protecting audit integrity.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discounts[id]; !ok {
		return errors.Wrapf(discount.ErrNotFound, "discount %d", id)
	}
	for _, u := range s.usages {
		if u.DiscountID == id && !u.Canceled {
			return errors.Wrapf(discount.ErrInUse, "discount %d", id)
		}
	}
	for cid, c := range s.coupons {
		if c.DiscountID == id {
			delete(s.byCode, normalizeCode(c.Code))
			delete(s.coupons, cid)
		}
	}
	delete(s.discounts, id)
	return nil
}

// CouponByCode looks up a coupon by code, case-insensitively.
func (s *Store) CouponByCode(_ context.Context, code string) (*discount.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[normalizeCode(code)]
	if !ok {
		return nil, errors.Wrapf(discount.ErrNotFound, "coupon %q", code)
	}
	cp := *s.coupons[id]
	return &cp, nil
}

// CouponsByDiscount returns one page of a discount's coupons, ordered by
// ID. Pages are 1-based.
func (s *Store) CouponsByDiscount(_ context.Context, discountID int64, page, perPage int) ([]discount.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []discount.Coupon
	for _, c := range s.coupons {
		if c.DiscountID == discountID {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = len(all)
	}
	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, nil
	}
	end := min(start+perPage, len(all))
	return all[start:end], nil
}

// InsertCoupon stores a new coupon. Codes are unique across the store.
func (s *Store) InsertCoupon(_ context.Context, c *discount.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discounts[c.DiscountID]; !ok {
		return errors.Wrapf(discount.ErrNotFound, "discount %d", c.DiscountID)
	}
	key := normalizeCode(c.Code)
	if _, ok := s.byCode[key]; ok {
		return errors.Wrapf(discount.ErrInvalidModel, "coupon code %q already exists", c.Code)
	}

	s.nextCouponID++
	c.ID = s.nextCouponID
	cp := *c
	s.coupons[c.ID] = &cp
	s.byCode[key] = c.ID
	return nil
}

// DeleteCoupon removes a coupon unless usage history references its code.
func (s *Store) DeleteCoupon(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[id]
	if !ok {
		return errors.Wrapf(discount.ErrNotFound, "coupon %d", id)
	}
	for _, u := range s.usages {
		if u.DiscountID == c.DiscountID && normalizeCode(u.CouponCode) == normalizeCode(c.Code) {
			return errors.Wrapf(discount.ErrInUse, "coupon %q", c.Code)
		}
	}
	delete(s.byCode, normalizeCode(c.Code))
	delete(s.coupons, id)
	return nil
}

// InsertUsage appends a usage row.
func (s *Store) InsertUsage(_ context.Context, u *discount.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendUsageLocked(u)
	return nil
}

func (s *Store) appendUsageLocked(u *discount.UsageRecord) {
	s.nextUsageID++
	u.ID = s.nextUsageID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.usages = append(s.usages, *u)
}

// UsageCount counts usage rows for a discount, optionally scoped to one
// customer, excluding canceled rows unless asked.
func (s *Store) UsageCount(_ context.Context, discountID int64, customerID string, includeCanceled bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.usageCountLocked(discountID, customerID, includeCanceled), nil
}

func (s *Store) usageCountLocked(discountID int64, customerID string, includeCanceled bool) int {
	count := 0
	for _, u := range s.usages {
		if u.DiscountID != discountID {
			continue
		}
		if customerID != "" && u.CustomerID != customerID {
			continue
		}
		if u.Canceled && !includeCanceled {
			continue
		}
		count++
	}
	return count
}

// UsagesByOrder returns all usage rows recorded for an order.
func (s *Store) UsagesByOrder(_ context.Context, orderID string) ([]discount.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []discount.UsageRecord
	for _, u := range s.usages {
		if u.OrderID == orderID {
			out = append(out, u)
		}
	}
	return out, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
