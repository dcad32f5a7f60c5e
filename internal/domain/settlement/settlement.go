// Package settlement reconciles payment gateway callbacks into order state.
//
// A callback is only a hint. Completion is decided by asking the gateway to
// verify the payment, and the order is moved with a single conditional
// transition so duplicate or concurrent callbacks apply at most once.
package settlement

import (
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/gateway"
)

// Sentinel errors returned by Reconciler.Settle. Gateway and storage failures
// are returned wrapped and match gateway.ErrGateway or order.ErrStorage.
var (
	ErrInvalidCallback    = errors.New("invalid settlement callback")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrOrderNotFound      = errors.New("order not found")
)

// VerificationError explains why the gateway did not confirm a payment.
type VerificationError struct {
	Status gateway.Status
	Reason string
}

func (e *VerificationError) Error() string {
	return "verification failed: " + e.Reason + " (status " + string(e.Status) + ")"
}

func (e *VerificationError) Is(target error) bool { return target == ErrVerificationFailed }

// Callback is the untrusted input delivered by the gateway redirect.
type Callback struct {
	// TransactionID is the merchant transaction id embedded in the
	// callback URL.
	TransactionID string
	// GatewayRef is the gateway's payment id. It is advisory and only used
	// to ask the gateway for verification.
	GatewayRef string
}

// Outcome describes what a successful Settle did.
type Outcome struct {
	Order *order.Order
	// Replayed is true when the order had already been paid and nothing
	// was changed.
	Replayed bool
	// Delivered is true when the order was auto-delivered.
	Delivered bool
}
