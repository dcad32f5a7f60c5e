// Package gateway is the outbound adapter to the external payment gateway.
//
// The gateway speaks loosely structured JSON. Every response is normalized at
// this boundary into Checkout or Verification so that schema drift on the
// gateway side never leaks into order or settlement code.
package gateway

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrGateway matches every error produced by this package: transport
// failures, timeouts, non-2xx responses and malformed bodies.
var ErrGateway = errors.New("payment gateway error")

// Error describes a failed gateway call.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := "gateway " + e.Op
	if e.StatusCode != 0 {
		msg += ": status " + strconv.Itoa(e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGateway) true for every *Error.
func (e *Error) Is(target error) bool { return target == ErrGateway }

// Status is the normalized payment status reported by the gateway.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
	StatusUnknown   Status = "unknown"
)

// CheckoutRequest is the input of Initiate.
type CheckoutRequest struct {
	Amount        decimal.Decimal
	TransactionID string
	CustomerName  string
	CustomerPhone string
}

// Checkout is the normalized result of Initiate.
type Checkout struct {
	URL string
	Raw []byte
}

// Verification is the normalized result of Verify.
type Verification struct {
	Status Status
	// GatewayStatus is the status text as the gateway sent it.
	GatewayStatus string
	// TransactionID is the merchant transaction id echoed by the gateway,
	// empty when the response does not carry one.
	TransactionID string
	// Amount is nil when the response does not carry one.
	Amount *decimal.Decimal
	Raw    []byte
}

// Completed reports whether the gateway confirmed the payment.
func (v *Verification) Completed() bool {
	return v != nil && v.Status == StatusCompleted
}
