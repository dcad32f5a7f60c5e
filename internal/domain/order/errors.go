package order

import (
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// Sentinel errors for order operations.
var (
	ErrNotFound         = errors.New("order not found")
	ErrConflict         = errors.New("order state changed concurrently")
	ErrStorage          = errors.New("order storage failure")
	ErrInvalidCoupon    = errors.New("invalid coupon")
	ErrEmptyProduct     = errors.New("product id required")
	ErrMissingCustomer  = errors.New("customer name and phone required")
	ErrEmptyDelivery    = errors.New("download link or access notes required")
	ErrDeliveredContent = errors.New("delivered content must be set exactly when completing")
)

// ProductNotFoundError indicates the ordered product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product " + e.ProductID + " not found"
}

// InvalidCouponError carries the reason a coupon was refused at checkout.
type InvalidCouponError struct {
	Code   string
	Reason coupon.Reason
}

func (e *InvalidCouponError) Error() string {
	return "coupon " + e.Code + ": " + string(e.Reason)
}

func (e *InvalidCouponError) Is(target error) bool { return target == ErrInvalidCoupon }

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// IllegalTransitionError reports a move the state machine forbids.
type IllegalTransitionError struct {
	From, To State
}

func (e *IllegalTransitionError) Error() string {
	return "illegal transition " + e.From.String() + " -> " + e.To.String()
}
