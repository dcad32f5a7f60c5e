package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfillment status of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus records whether the gateway confirmed payment.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// State is the pair an order moves through.
type State struct {
	Status  Status
	Payment PaymentStatus
}

var (
	StatePending       = State{StatusPending, PaymentUnpaid}
	StateProcessing    = State{StatusProcessing, PaymentPaid}
	StateCompleted     = State{StatusCompleted, PaymentPaid}
	StateCancelled     = State{StatusCancelled, PaymentUnpaid}
	StateCancelledPaid = State{StatusCancelled, PaymentPaid}
)

func (s State) String() string {
	return string(s.Status) + "/" + string(s.Payment)
}

// Paid reports whether the payment has been settled.
func (s State) Paid() bool {
	return s.Payment == PaymentPaid
}

// allowed lists every legal move. Payment goes unpaid -> paid at most once
// and nothing ever moves back to pending.
var allowed = map[State][]State{
	StatePending:    {StateCompleted, StateProcessing, StateCancelled},
	StateCancelled:  {StateCancelledPaid},
	StateProcessing: {StateCompleted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Customer is the contact data passed to the payment gateway.
type Customer struct {
	Name  string
	Phone string
	Email string
}

// DeliveredContent is attached when an order is completed.
type DeliveredContent struct {
	DownloadLink string
	AccessNotes  string
}

// Order is a persisted purchase intent and its payment/fulfillment state.
type Order struct {
	// ID is assigned by the store.
	ID string
	// TransactionID is generated by the service and is the settlement
	// idempotency key.
	TransactionID string
	ProductID     string
	// UserID is empty for guest checkout.
	UserID     string
	Customer   Customer
	Amount     decimal.Decimal
	Discount   decimal.Decimal
	CouponCode string

	Status        Status
	PaymentStatus PaymentStatus

	DeliveredContent *DeliveredContent
	// GatewayRef and GatewayResponse are recorded at settlement for admin
	// debugging.
	GatewayRef      string
	GatewayResponse []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State returns the order's current state pair.
func (o *Order) State() State {
	return State{Status: o.Status, Payment: o.PaymentStatus}
}

// Transition is a conditional state change applied by Repository.Transition.
type Transition struct {
	From State
	To   State
	// DeliveredContent must be set iff To is completed.
	DeliveredContent *DeliveredContent
	// GatewayRef and GatewayResponse are stored when non-empty.
	GatewayRef      string
	GatewayResponse []byte
}

// Validate checks the transition against the state machine.
func (t Transition) Validate() error {
	if !CanTransition(t.From, t.To) {
		return &IllegalTransitionError{From: t.From, To: t.To}
	}
	if (t.To.Status == StatusCompleted) != (t.DeliveredContent != nil) {
		return ErrDeliveredContent
	}
	return nil
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a new order and sets its ID and timestamps.
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	// Transition applies t iff the order is still in t.From, as one atomic
	// conditional update. It returns false when the precondition failed,
	// which signals a race or a replay. Missing orders also yield false.
	Transition(ctx context.Context, transactionID string, t Transition) (bool, error)
}
