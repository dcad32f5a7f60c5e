package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/gateway"
)

// cleanupTimeout bounds compensation work that must outlive the request.
const cleanupTimeout = 5 * time.Second

// Coupons consumes and returns coupon uses.
type Coupons interface {
	Redeem(ctx context.Context, code string) (*coupon.Discount, error)
	Release(ctx context.Context, code string) error
}

// Initiator starts a payment with the gateway.
type Initiator interface {
	Initiate(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Checkout, error)
}

// CreateRequest holds the input for creating an order. There is no amount
// field: the amount is always computed from the catalog.
type CreateRequest struct {
	ProductID  string
	UserID     string
	Customer   Customer
	CouponCode string
}

// CheckoutResult is a persisted order and where to pay for it.
type CheckoutResult struct {
	Order       *Order
	CheckoutURL string
}

// Service encapsulates order creation and administration.
type Service struct {
	products product.Repository
	coupons  Coupons
	orders   Repository
	gateway  Initiator
	newID    func() string
}

// NewService creates an order Service with the required dependencies.
func NewService(
	products product.Repository,
	coupons Coupons,
	orders Repository,
	gw Initiator,
) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		orders:   orders,
		gateway:  gw,
		newID:    uuid.NewString,
	}
}

// CreateOrder prices the product, redeems the coupon and persists a
// pending/unpaid order. No gateway call is made.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, ErrEmptyProduct
	}
	customer := Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Phone: strings.TrimSpace(req.Customer.Phone),
		Email: strings.TrimSpace(req.Customer.Email),
	}
	if customer.Name == "" || customer.Phone == "" {
		return nil, ErrMissingCustomer
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, &StorageError{Op: "get product", Err: err}
	}

	price := p.Price.Round(2)
	discount := decimal.Zero
	code := coupon.NormalizeCode(req.CouponCode)
	if code != "" {
		d, err := s.coupons.Redeem(ctx, code)
		if err != nil {
			var rejected *coupon.RejectedError
			if errors.As(err, &rejected) {
				return nil, &InvalidCouponError{Code: rejected.Code, Reason: rejected.Reason}
			}
			return nil, &StorageError{Op: "redeem coupon", Err: err}
		}
		discount = d.Of(price)
	}

	amount := price.Sub(discount)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	o := &Order{
		TransactionID: s.newID(),
		ProductID:     productID,
		UserID:        strings.TrimSpace(req.UserID),
		Customer:      customer,
		Amount:        amount.Round(2),
		Discount:      discount.Round(2),
		CouponCode:    code,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if code != "" {
			s.releaseCoupon(ctx, code)
		}
		return nil, &StorageError{Op: "create order", Err: err}
	}
	return o, nil
}

// Checkout creates an order and initiates its payment. When the gateway
// refuses, the order is cancelled and its coupon use returned.
func (s *Service) Checkout(ctx context.Context, req CreateRequest) (*CheckoutResult, error) {
	o, err := s.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	checkout, err := s.gateway.Initiate(ctx, gateway.CheckoutRequest{
		Amount:        o.Amount,
		TransactionID: o.TransactionID,
		CustomerName:  o.Customer.Name,
		CustomerPhone: o.Customer.Phone,
	})
	if err != nil {
		s.abort(ctx, o)
		return nil, errors.Wrap(err, "initiate payment")
	}
	return &CheckoutResult{Order: o, CheckoutURL: checkout.URL}, nil
}

// abort cancels an order whose payment could not be started.
func (s *Service) abort(ctx context.Context, o *Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	lg := zctx.From(ctx).With(zap.String("transaction_id", o.TransactionID))
	ok, err := s.orders.Transition(ctx, o.TransactionID, Transition{From: StatePending, To: StateCancelled})
	if err != nil {
		lg.Error("Cancel aborted order", zap.Error(err))
		return
	}
	if !ok {
		lg.Warn("Aborted order left pending state concurrently")
		return
	}
	o.Status, o.PaymentStatus = StatusCancelled, PaymentUnpaid
	if o.CouponCode != "" {
		s.releaseCoupon(ctx, o.CouponCode)
	}
}

func (s *Service) releaseCoupon(ctx context.Context, code string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.coupons.Release(ctx, code); err != nil {
		zctx.From(ctx).Error("Release coupon",
			zap.String("coupon", code),
			zap.Error(err),
		)
	}
}

// Get returns the order with the given transaction id.
func (s *Service) Get(ctx context.Context, transactionID string) (*Order, error) {
	o, err := s.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "find order", Err: err}
	}
	return o, nil
}

// Cancel moves an unpaid pending order to cancelled and returns its coupon use.
func (s *Service) Cancel(ctx context.Context, transactionID string) (*Order, error) {
	o, err := s.apply(ctx, transactionID, Transition{From: StatePending, To: StateCancelled})
	if err != nil {
		return nil, err
	}
	if o.CouponCode != "" {
		s.releaseCoupon(ctx, o.CouponCode)
	}
	return o, nil
}

// Fulfill completes a paid order held for manual delivery.
func (s *Service) Fulfill(ctx context.Context, transactionID string, content DeliveredContent) (*Order, error) {
	content.DownloadLink = strings.TrimSpace(content.DownloadLink)
	content.AccessNotes = strings.TrimSpace(content.AccessNotes)
	if content.DownloadLink == "" && content.AccessNotes == "" {
		return nil, ErrEmptyDelivery
	}
	return s.apply(ctx, transactionID, Transition{
		From:             StateProcessing,
		To:               StateCompleted,
		DeliveredContent: &content,
	})
}

// apply runs an admin transition and returns the updated order. A failed
// precondition on an existing order is ErrConflict.
func (s *Service) apply(ctx context.Context, transactionID string, t Transition) (*Order, error) {
	ok, err := s.orders.Transition(ctx, transactionID, t)
	if err != nil {
		return nil, &StorageError{Op: "transition order", Err: err}
	}
	o, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrConflict, "order is %s", o.State())
	}
	return o, nil
}
