package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Result is the outcome of a read-only validation.
type Result struct {
	Valid    bool
	Code     string
	Reason   Reason
	Discount *Discount
}

// Validator checks coupon codes against their rules and performs redemptions.
// Expected rejections are reported as values, not errors.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate reports whether code is currently usable without consuming it.
// The returned error is non-nil only for storage failures.
func (v *Validator) Validate(ctx context.Context, code string) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return &Result{Reason: ReasonMissingCode}, nil
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Result{Code: code, Reason: ReasonNotFound}, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if reason := c.Check(v.now()); reason != "" {
		return &Result{Code: code, Reason: reason}, nil
	}

	return &Result{
		Valid:    true,
		Code:     code,
		Discount: &Discount{Type: c.DiscountType, Amount: c.DiscountAmount},
	}, nil
}

// Redeem validates code and atomically consumes one use of it. A coupon that
// loses a race for its last use is rejected with ReasonUsageLimitReached.
func (v *Validator) Redeem(ctx context.Context, code string) (*Discount, error) {
	res, err := v.Validate(ctx, code)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &RejectedError{Code: res.Code, Reason: res.Reason}
	}

	c, err := v.repo.Redeem(ctx, res.Code, v.now())
	if err != nil {
		if errors.Is(err, ErrNotRedeemable) {
			// State changed between the read and the conditional update.
			again, verr := v.Validate(ctx, res.Code)
			reason := ReasonUsageLimitReached
			if verr == nil && !again.Valid {
				reason = again.Reason
			}
			return nil, &RejectedError{Code: res.Code, Reason: reason}
		}
		return nil, errors.Wrap(err, "redeem coupon")
	}

	return &Discount{Type: c.DiscountType, Amount: c.DiscountAmount}, nil
}

// Release returns a previously redeemed use of code.
func (v *Validator) Release(ctx context.Context, code string) error {
	if err := v.repo.Release(ctx, NormalizeCode(code)); err != nil {
		return errors.Wrap(err, "release coupon")
	}
	return nil
}
