package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/gateway"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/settlement"

const (
	// settleTimeout bounds one shared settlement, verification included.
	settleTimeout = 30 * time.Second
	// transitionAttempts bounds how often the transition is re-decided after
	// losing the conditional update to a concurrent writer.
	transitionAttempts = 3
)

// Verifier asks the gateway for the authoritative payment status.
type Verifier interface {
	Verify(ctx context.Context, gatewayRef string) (*gateway.Verification, error)
}

// Publisher is notified after an order was paid for the first time.
type Publisher interface {
	Settled(ctx context.Context, o *order.Order) error
}

// Reconciler applies verified gateway callbacks to orders.
type Reconciler struct {
	gateway  Verifier
	orders   order.Repository
	products product.Repository
	events   Publisher

	group    singleflight.Group
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(
	gw Verifier,
	orders order.Repository,
	products product.Repository,
	events Publisher,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Reconciler, error) {
	outcomes, err := mp.Meter(instrumentationName).Int64Counter("shop.settlement.outcomes",
		metric.WithDescription("Settlement callbacks by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	return &Reconciler{
		gateway:  gw,
		orders:   orders,
		products: products,
		events:   events,
		tracer:   tp.Tracer(instrumentationName),
		outcomes: outcomes,
	}, nil
}

// Settle verifies the payment behind cb and moves its order to a paid state
// exactly once. A callback for an already paid order returns an Outcome with
// Replayed set. On any error the order is left as it was.
//
// Concurrent callbacks for the same transaction and gateway reference share a
// single verification within the process. Across processes the conditional
// store transition decides the winner.
func (r *Reconciler) Settle(ctx context.Context, cb Callback) (*Outcome, error) {
	cb.TransactionID = strings.TrimSpace(cb.TransactionID)
	cb.GatewayRef = strings.TrimSpace(cb.GatewayRef)

	ctx, span := r.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(
		attribute.String("shop.transaction_id", cb.TransactionID),
		attribute.String("shop.gateway_ref", cb.GatewayRef),
	))
	defer span.End()

	out, led, err := r.settleOnce(ctx, cb)
	if err == nil && !led {
		// Another callback did the work; this one observed it.
		shared := *out
		shared.Replayed, shared.Delivered = true, false
		out = &shared
	}
	label := outcomeLabel(out, err)
	span.SetAttributes(attribute.String("shop.settlement.outcome", label))
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", label)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
		return nil, err
	}
	return out, nil
}

// settleOnce runs settle for cb, joining an in-flight settlement of the same
// callback if there is one. led reports whether this caller did the work.
// The shared work is detached from the caller's cancellation so one client
// going away does not fail the callbacks joined to it.
func (r *Reconciler) settleOnce(ctx context.Context, cb Callback) (out *Outcome, led bool, err error) {
	if cb.TransactionID == "" || cb.GatewayRef == "" {
		return nil, false, ErrInvalidCallback
	}
	key := cb.TransactionID + "\x00" + cb.GatewayRef
	ch := r.group.DoChan(key, func() (any, error) {
		led = true
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		return r.settle(ctx, cb)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, led, res.Err
		}
		return res.Val.(*Outcome), led, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (r *Reconciler) settle(ctx context.Context, cb Callback) (*Outcome, error) {
	lg := zctx.From(ctx).With(
		zap.String("transaction_id", cb.TransactionID),
		zap.String("gateway_ref", cb.GatewayRef),
	)

	v, err := r.gateway.Verify(ctx, cb.GatewayRef)
	if err != nil {
		lg.Warn("Payment verification unavailable", zap.Error(err))
		return nil, errors.Wrap(err, "verify payment")
	}
	lg.Debug("Payment verified",
		zap.String("gateway_status", v.GatewayStatus),
		zap.String("status", string(v.Status)),
		zap.ByteString("response", v.Raw),
	)
	if !v.Completed() {
		lg.Info("Payment not completed", zap.String("status", string(v.Status)))
		return nil, &VerificationError{Status: v.Status, Reason: "payment not completed"}
	}

	o, err := r.orders.FindByTransactionID(ctx, cb.TransactionID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Verified payment for unknown order")
			return nil, ErrOrderNotFound
		}
		return nil, &order.StorageError{Op: "find order", Err: err}
	}

	if err := crossCheck(v, o); err != nil {
		lg.Warn("Verification does not match order", zap.Error(err))
		return nil, err
	}

	var t order.Transition
	for attempt := 1; ; attempt++ {
		if o.State().Paid() {
			lg.Info("Replayed callback", zap.Stringer("state", o.State()), zap.Int("attempt", attempt))
			return &Outcome{Order: o, Replayed: true}, nil
		}
		t, err = r.decide(ctx, lg, o, cb, v)
		if err != nil {
			return nil, err
		}

		ok, err := r.orders.Transition(ctx, o.TransactionID, t)
		if err != nil {
			return nil, &order.StorageError{Op: "transition order", Err: err}
		}
		if ok {
			break
		}

		// Lost a race with another writer. Decide again from the state it left.
		cur, err := r.orders.FindByTransactionID(ctx, o.TransactionID)
		if err != nil {
			return nil, &order.StorageError{Op: "reload order", Err: err}
		}
		lg.Info("Order changed concurrently",
			zap.Stringer("expected", t.From),
			zap.Stringer("state", cur.State()),
			zap.Int("attempt", attempt),
		)
		if attempt == transitionAttempts && !cur.State().Paid() {
			return nil, errors.Wrapf(order.ErrConflict, "order moved to %s", cur.State())
		}
		o = cur
	}

	o.Status, o.PaymentStatus = t.To.Status, t.To.Payment
	o.DeliveredContent = t.DeliveredContent
	o.GatewayRef = t.GatewayRef
	o.GatewayResponse = t.GatewayResponse
	lg.Info("Order settled",
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
	)

	if r.events != nil {
		if err := r.events.Settled(ctx, o); err != nil {
			lg.Error("Publish settled event", zap.Error(err))
		}
	}
	return &Outcome{Order: o, Delivered: t.DeliveredContent != nil}, nil
}

// decide picks the paid state for o given its current state.
func (r *Reconciler) decide(ctx context.Context, lg *zap.Logger, o *order.Order, cb Callback, v *gateway.Verification) (order.Transition, error) {
	t := order.Transition{
		From:            o.State(),
		GatewayRef:      cb.GatewayRef,
		GatewayResponse: v.Raw,
	}
	switch t.From {
	case order.StatePending:
		delivery, err := r.delivery(ctx, lg, o.ProductID)
		if err != nil {
			return t, err
		}
		if delivery.HasLink() {
			t.To = order.StateCompleted
			t.DeliveredContent = &order.DeliveredContent{
				DownloadLink: delivery.AccessLink,
				AccessNotes:  delivery.AccessNote,
			}
		} else {
			t.To = order.StateProcessing
		}
	case order.StateCancelled:
		// Paid after cancellation: record the payment for a refund, never deliver.
		t.To = order.StateCancelledPaid
	default:
		return t, errors.Wrapf(order.ErrConflict, "order is %s", t.From)
	}
	return t, nil
}

// delivery loads the restricted delivery fields of the ordered product. A
// product that no longer exists is held for manual fulfillment.
func (r *Reconciler) delivery(ctx context.Context, lg *zap.Logger, productID string) (product.Delivery, error) {
	p, err := r.products.GetWithDelivery(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			lg.Warn("Product missing at settlement", zap.String("product_id", productID))
			return product.Delivery{}, nil
		}
		return product.Delivery{}, &order.StorageError{Op: "get product delivery", Err: err}
	}
	return p.Delivery, nil
}

// crossCheck rejects a verification whose echoed merchant fields belong to a
// different order.
func crossCheck(v *gateway.Verification, o *order.Order) error {
	if v.TransactionID != "" && v.TransactionID != o.TransactionID {
		return &VerificationError{Status: v.Status, Reason: "transaction id mismatch"}
	}
	if v.Amount != nil && !v.Amount.Round(2).Equal(o.Amount.Round(2)) {
		return &VerificationError{Status: v.Status, Reason: "amount mismatch"}
	}
	return nil
}

func outcomeLabel(out *Outcome, err error) string {
	switch {
	case err == nil && out.Replayed:
		return "replayed"
	case err == nil:
		return string(out.Order.Status)
	case errors.Is(err, ErrInvalidCallback):
		return "invalid_callback"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, gateway.ErrGateway):
		return "gateway_error"
	case errors.Is(err, order.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
