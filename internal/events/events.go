// Package events publishes order settlement events to a message broker.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// TypeOrderSettled is the event type published after a first payment.
const TypeOrderSettled = "order.settled"

// Publisher delivers settlement events.
type Publisher interface {
	Settled(ctx context.Context, o *order.Order) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

var _ Publisher = Noop{}

func (Noop) Settled(context.Context, *order.Order) error { return nil }

func (Noop) Close() error { return nil }

// Encode renders the settled event of o. Delivered content is reduced to a
// flag so access links never leave the service.
func Encode(o *order.Order, at time.Time) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(TypeOrderSettled) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("transaction_id", func(e *jx.Encoder) { e.Str(o.TransactionID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(o.ProductID) })
		if o.UserID != "" {
			e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		}
		e.Field("amount", func(e *jx.Encoder) { e.Str(o.Amount.StringFixed(2)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("delivered", func(e *jx.Encoder) { e.Bool(o.DeliveredContent != nil) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
