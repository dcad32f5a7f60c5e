package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes Amount percent off the price.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts Amount from the price, capped at the price.
	DiscountFixed DiscountType = "fixed"
)

// Reason explains why a coupon cannot be used.
type Reason string

const (
	ReasonMissingCode       Reason = "missing_code"
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
)

// Message returns the customer-facing text for the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonMissingCode:
		return "Coupon code is required"
	case ReasonNotFound:
		return "Coupon not found"
	case ReasonInactive:
		return "Coupon is not active"
	case ReasonExpired:
		return "Coupon has expired"
	case ReasonUsageLimitReached:
		return "Coupon usage limit reached"
	default:
		return "Coupon is not valid"
	}
}

// ErrNotFound is returned by a Repository when no coupon has the given code.
var ErrNotFound = errors.New("coupon not found")

// ErrNotRedeemable is returned by Repository.Redeem when the conditional
// increment matched no coupon.
var ErrNotRedeemable = errors.New("coupon not redeemable")

// RejectedError reports a coupon that failed validation or redemption.
type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return "coupon " + e.Code + ": " + string(e.Reason)
}

// Coupon is a discount rule. A zero UsageLimit means unlimited uses.
type Coupon struct {
	Code           string
	DiscountType   DiscountType
	DiscountAmount decimal.Decimal
	ExpiresAt      *time.Time
	UsageLimit     int
	UsedCount      int
	Active         bool
}

// Check returns the reason the coupon is unusable at now, or "" when usable.
func (c *Coupon) Check(now time.Time) Reason {
	if !c.Active {
		return ReasonInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ReasonExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return ReasonUsageLimitReached
	}
	return ""
}

// Discount is the minimal descriptor handed out to callers.
type Discount struct {
	Type   DiscountType
	Amount decimal.Decimal
}

// Of returns the discount applied to price, never more than price.
func (d Discount) Of(price decimal.Decimal) decimal.Decimal {
	var off decimal.Decimal
	switch d.Type {
	case DiscountPercentage:
		off = price.Mul(d.Amount).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		off = d.Amount
	default:
		return decimal.Zero
	}
	if off.IsNegative() {
		return decimal.Zero
	}
	if off.GreaterThan(price) {
		return price
	}
	return off.Round(2)
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and atomic usage accounting of coupons.
type Repository interface {
	// FindByCode returns the coupon regardless of its active flag.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Redeem increments UsedCount iff the coupon is active, unexpired at now
	// and under its usage limit, in a single conditional update.
	Redeem(ctx context.Context, code string, now time.Time) (*Coupon, error)
	// Release undoes one redemption, never dropping UsedCount below zero.
	Release(ctx context.Context, code string) error
}
