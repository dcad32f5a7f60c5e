package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/order/ordertest"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/gateway"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetWithDelivery(ctx context.Context, id string) (*product.WithDelivery, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &product.WithDelivery{Product: *p}, nil
}

type mockCoupons struct {
	mu       sync.Mutex
	discount *coupon.Discount
	err      error
	redeemed []string
	released []string
}

func (m *mockCoupons) Redeem(_ context.Context, code string) (*coupon.Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.redeemed = append(m.redeemed, code)
	return m.discount, nil
}

func (m *mockCoupons) Release(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, code)
	return nil
}

type mockGateway struct {
	got      []gateway.CheckoutRequest
	checkout *gateway.Checkout
	err      error
}

func (m *mockGateway) Initiate(_ context.Context, req gateway.CheckoutRequest) (*gateway.Checkout, error) {
	m.got = append(m.got, req)
	return m.checkout, m.err
}

// --- Helpers ---

var customer = order.Customer{Name: "Ada Lovelace", Phone: "+8801700000000"}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

type fixture struct {
	svc     *order.Service
	orders  *ordertest.Memory
	coupons *mockCoupons
	gw      *mockGateway
}

func newFixture(products ...product.Product) *fixture {
	f := &fixture{
		orders:  ordertest.NewMemory(),
		coupons: &mockCoupons{},
		gw:      &mockGateway{checkout: &gateway.Checkout{URL: "https://pay.test/session"}},
	}
	f.svc = order.NewService(newProductRepo(products...), f.coupons, f.orders, f.gw)
	return f
}

func ebook(price string) product.Product {
	return product.Product{ID: "p1", Name: "E-book", Price: decimal.RequireFromString(price), Category: "books"}
}

// --- Tests ---

func TestCreateOrder_NoCoupon(t *testing.T) {
	f := newFixture(ebook("1000"))

	o, err := f.svc.CreateOrder(context.Background(), order.CreateRequest{ProductID: "p1", Customer: customer})
	require.NoError(t, err)

	assert.NotEmpty(t, o.TransactionID)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, order.StatePending, o.State())
	assert.True(t, decimal.NewFromInt(1000).Equal(o.Amount))
	assert.Nil(t, o.DeliveredContent)

	stored := f.orders.Get(o.TransactionID)
	require.NotNil(t, stored)
	assert.Equal(t, order.StatePending, stored.State())
	assert.True(t, decimal.NewFromInt(1000).Equal(stored.Amount))
	assert.Empty(t, f.gw.got, "order creation must not call the gateway")
}

func TestCreateOrder_UniqueTransactionIDs(t *testing.T) {
	f := newFixture(ebook("10"))

	seen := make(map[string]bool)
	for range 20 {
		o, err := f.svc.CreateOrder(context.Background(), order.CreateRequest{ProductID: "p1", Customer: customer})
		require.NoError(t, err)
		require.False(t, seen[o.TransactionID])
		seen[o.TransactionID] = true
	}
}

func TestCreateOrder_Discounts(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount coupon.Discount
		want     string
	}{
		{"percentage", "1000", coupon.Discount{Type: coupon.DiscountPercentage, Amount: decimal.NewFromInt(10)}, "900"},
		{"fixed", "1000", coupon.Discount{Type: coupon.DiscountFixed, Amount: decimal.NewFromInt(150)}, "850"},
		{"fixed above price floors at zero", "100", coupon.Discount{Type: coupon.DiscountFixed, Amount: decimal.NewFromInt(500)}, "0"},
		{"rounded to cents", "9.99", coupon.Discount{Type: coupon.DiscountPercentage, Amount: decimal.NewFromInt(15)}, "8.49"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(ebook(tt.price))
			f.coupons.discount = &tt.discount

			o, err := f.svc.CreateOrder(context.Background(), order.CreateRequest{
				ProductID:  "p1",
				Customer:   customer,
				CouponCode: " save10 ",
			})
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(o.Amount), "amount %s", o.Amount)
			assert.Equal(t, "SAVE10", o.CouponCode)
			assert.Equal(t, []string{"SAVE10"}, f.coupons.redeemed)
		})
	}
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     order.CreateRequest
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "empty product",
			req:     order.CreateRequest{ProductID: "  ", Customer: customer},
			wantErr: order.ErrEmptyProduct,
		},
		{
			name:    "missing customer phone",
			req:     order.CreateRequest{ProductID: "p1", Customer: order.Customer{Name: "Ada"}},
			wantErr: order.ErrMissingCustomer,
		},
		{
			name: "coupon rejected",
			req:  order.CreateRequest{ProductID: "p1", Customer: customer, CouponCode: "SAVE10"},
			setup: func(f *fixture) {
				f.coupons.err = &coupon.RejectedError{Code: "SAVE10", Reason: coupon.ReasonUsageLimitReached}
			},
			wantErr: order.ErrInvalidCoupon,
		},
		{
			name: "coupon storage failure",
			req:  order.CreateRequest{ProductID: "p1", Customer: customer, CouponCode: "SAVE10"},
			setup: func(f *fixture) {
				f.coupons.err = errors.New("connection reset")
			},
			wantErr: order.ErrStorage,
		},
		{
			name: "order storage failure",
			req:  order.CreateRequest{ProductID: "p1", Customer: customer},
			setup: func(f *fixture) {
				f.orders.Err = errors.New("disk full")
			},
			wantErr: order.ErrStorage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(ebook("1000"))
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.svc.CreateOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			f.orders.Err = nil
			assert.Zero(t, f.orders.Len(), "no order may be created")
		})
	}
}

func TestCreateOrder_InvalidCouponReason(t *testing.T) {
	f := newFixture(ebook("1000"))
	f.coupons.err = &coupon.RejectedError{Code: "OLD", Reason: coupon.ReasonExpired}

	_, err := f.svc.CreateOrder(context.Background(), order.CreateRequest{ProductID: "p1", Customer: customer, CouponCode: "old"})

	var ice *order.InvalidCouponError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, coupon.ReasonExpired, ice.Reason)
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrder(context.Background(), order.CreateRequest{ProductID: "missing", Customer: customer})

	var pnf *order.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "missing", pnf.ProductID)
}

func TestCreateOrder_StorageFailureReleasesCoupon(t *testing.T) {
	f := newFixture(ebook("1000"))
	f.coupons.discount = &coupon.Discount{Type: coupon.DiscountFixed, Amount: decimal.NewFromInt(10)}
	f.orders.Err = errors.New("disk full")

	_, err := f.svc.CreateOrder(context.Background(), order.CreateRequest{ProductID: "p1", Customer: customer, CouponCode: "SAVE10"})
	require.ErrorIs(t, err, order.ErrStorage)
	assert.Equal(t, []string{"SAVE10"}, f.coupons.released)
}

func TestCheckout(t *testing.T) {
	f := newFixture(ebook("1000"))

	res, err := f.svc.Checkout(context.Background(), order.CreateRequest{ProductID: "p1", Customer: customer})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/session", res.CheckoutURL)

	require.Len(t, f.gw.got, 1)
	sent := f.gw.got[0]
	assert.Equal(t, res.Order.TransactionID, sent.TransactionID)
	assert.True(t, res.Order.Amount.Equal(sent.Amount))
	assert.Equal(t, customer.Name, sent.CustomerName)
	assert.Equal(t, customer.Phone, sent.CustomerPhone)

	// Persisted before the gateway was contacted.
	assert.Equal(t, order.StatePending, f.orders.Get(sent.TransactionID).State())
}

func TestCheckout_GatewayFailure(t *testing.T) {
	f := newFixture(ebook("1000"))
	f.coupons.discount = &coupon.Discount{Type: coupon.DiscountFixed, Amount: decimal.NewFromInt(10)}
	f.gw.err = &gateway.Error{Op: "initiate", Err: context.DeadlineExceeded}

	_, err := f.svc.Checkout(context.Background(), order.CreateRequest{ProductID: "p1", Customer: customer, CouponCode: "SAVE10"})
	require.ErrorIs(t, err, gateway.ErrGateway)

	require.Len(t, f.gw.got, 1)
	o := f.orders.Get(f.gw.got[0].TransactionID)
	require.NotNil(t, o)
	assert.Equal(t, order.StateCancelled, o.State())
	assert.Equal(t, []string{"SAVE10"}, f.coupons.released)
}

func TestCancel(t *testing.T) {
	f := newFixture(ebook("1000"))
	f.coupons.discount = &coupon.Discount{Type: coupon.DiscountFixed, Amount: decimal.NewFromInt(10)}
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, order.CreateRequest{ProductID: "p1", Customer: customer, CouponCode: "SAVE10"})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, o.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, order.StateCancelled, cancelled.State())
	assert.Equal(t, []string{"SAVE10"}, f.coupons.released)

	_, err = f.svc.Cancel(ctx, o.TransactionID)
	require.ErrorIs(t, err, order.ErrConflict)
	assert.Len(t, f.coupons.released, 1, "coupon released once")

	_, err = f.svc.Cancel(ctx, "unknown")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestFulfill(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.orders.Put(&order.Order{TransactionID: "T1", Status: order.StatusProcessing, PaymentStatus: order.PaymentPaid})
	f.orders.Put(&order.Order{TransactionID: "T2", Status: order.StatusPending, PaymentStatus: order.PaymentUnpaid})

	_, err := f.svc.Fulfill(ctx, "T1", order.DeliveredContent{})
	require.ErrorIs(t, err, order.ErrEmptyDelivery)

	o, err := f.svc.Fulfill(ctx, "T1", order.DeliveredContent{DownloadLink: " https://cdn.test/file "})
	require.NoError(t, err)
	assert.Equal(t, order.StateCompleted, o.State())
	require.NotNil(t, o.DeliveredContent)
	assert.Equal(t, "https://cdn.test/file", o.DeliveredContent.DownloadLink)

	_, err = f.svc.Fulfill(ctx, "T2", order.DeliveredContent{AccessNotes: "key: 123"})
	require.ErrorIs(t, err, order.ErrConflict, "unpaid order cannot be fulfilled")
	assert.Equal(t, order.StatePending, f.orders.Get("T2").State())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to order.State
		want     bool
	}{
		{order.StatePending, order.StateCompleted, true},
		{order.StatePending, order.StateProcessing, true},
		{order.StatePending, order.StateCancelled, true},
		{order.StateCancelled, order.StateCancelledPaid, true},
		{order.StateProcessing, order.StateCompleted, true},
		{order.StateCompleted, order.StatePending, false},
		{order.StateCompleted, order.StateCompleted, false},
		{order.StateProcessing, order.StateCancelled, false},
		{order.StatePending, order.State{Status: order.StatusCompleted, Payment: order.PaymentUnpaid}, false},
		{order.StateCancelledPaid, order.StateCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, order.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_Validate(t *testing.T) {
	content := &order.DeliveredContent{DownloadLink: "https://cdn.test/x"}

	require.NoError(t, order.Transition{From: order.StatePending, To: order.StateCompleted, DeliveredContent: content}.Validate())
	require.NoError(t, order.Transition{From: order.StatePending, To: order.StateProcessing}.Validate())

	require.ErrorIs(t,
		order.Transition{From: order.StatePending, To: order.StateCompleted}.Validate(),
		order.ErrDeliveredContent)
	require.ErrorIs(t,
		order.Transition{From: order.StatePending, To: order.StateProcessing, DeliveredContent: content}.Validate(),
		order.ErrDeliveredContent)

	var ite *order.IllegalTransitionError
	require.ErrorAs(t, order.Transition{From: order.StateCompleted, To: order.StatePending}.Validate(), &ite)
}
