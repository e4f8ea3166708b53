package discount

// ReasonCode is a machine-readable validation failure code.
type ReasonCode string

const (
	ReasonNotActive          ReasonCode = "not_active"
	ReasonNotStarted         ReasonCode = "not_started"
	ReasonExpired            ReasonCode = "expired"
	ReasonCouponRequired     ReasonCode = "coupon_required"
	ReasonCouponUsed         ReasonCode = "coupon_used"
	ReasonLimitReached       ReasonCode = "limit_reached"
	ReasonStoreRestricted    ReasonCode = "store_restricted"
	ReasonCurrencyRestricted ReasonCode = "currency_restricted"
	ReasonRequirementFailed  ReasonCode = "requirement_failed"
	// ReasonRequirementMisconfigured marks a requirement that references
	// an unknown provider. The discount is treated as never satisfied.
	ReasonRequirementMisconfigured ReasonCode = "requirement_misconfigured"
)

// Reason is one user-displayable validation failure.
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// ValidationResult aggregates the outcome of validating one discount
// against a pricing context. A discount is applicable iff Valid reports
// true; Reasons enumerates every failed check for user display.
type ValidationResult struct {
	Reasons []Reason `json:"reasons,omitempty"`
	// MatchedCoupon is the supplied code that unlocked a coupon-bearing
	// discount. Snapshotted onto the applied record for audit.
	MatchedCoupon string `json:"matchedCoupon,omitempty"`
}

// Valid reports whether the discount passed every check.
func (r *ValidationResult) Valid() bool {
	return len(r.Reasons) == 0
}

func (r *ValidationResult) fail(code ReasonCode, message string) {
	r.Reasons = append(r.Reasons, Reason{Code: code, Message: message})
}
