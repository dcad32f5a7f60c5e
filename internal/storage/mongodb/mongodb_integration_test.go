//go:build integration

package mongodb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

func startMongo(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	c, err := Connect(ctx, endpoint, fmt.Sprintf("shop_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	require.NoError(t, c.EnsureIndexes(ctx))
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestMongo(t *testing.T) {
	c := startMongo(t)
	ctx := context.Background()

	products := NewProductRepository(c)
	require.NoError(t, products.Upsert(ctx, []product.WithDelivery{
		{
			Product:  product.Product{ID: "ebook", Name: "E-book", Price: decimal.RequireFromString("1000.00")},
			Delivery: product.Delivery{AccessLink: "https://cdn.test/ebook.pdf"},
		},
	}))

	t.Run("products hide delivery fields", func(t *testing.T) {
		p, err := products.GetByID(ctx, "ebook")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(p.Price))

		wd, err := products.GetWithDelivery(ctx, "ebook")
		require.NoError(t, err)
		assert.True(t, wd.Delivery.HasLink())

		_, err = products.GetWithDelivery(ctx, "missing")
		require.ErrorIs(t, err, product.ErrNotFound)
	})

	t.Run("order transitions are compare-and-set", func(t *testing.T) {
		orders := NewOrderRepository(c)
		o := &order.Order{
			TransactionID: "T1",
			ProductID:     "ebook",
			Customer:      order.Customer{Name: "Ada", Phone: "+100"},
			Amount:        decimal.RequireFromString("999.50"),
			Status:        order.StatusPending,
			PaymentStatus: order.PaymentUnpaid,
		}
		require.NoError(t, orders.Create(ctx, o))

		byID, err := orders.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, o.Amount.Equal(byID.Amount))

		processing := order.Transition{From: order.StatePending, To: order.StateProcessing, GatewayRef: "gw_1"}
		var (
			wg  sync.WaitGroup
			won atomic.Int32
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := orders.Transition(ctx, "T1", processing)
				assert.NoError(t, err)
				if ok {
					won.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), won.Load())

		ok, err := orders.Transition(ctx, "T1", order.Transition{
			From:             order.StateProcessing,
			To:               order.StateCompleted,
			DeliveredContent: &order.DeliveredContent{AccessNotes: "sent by email"},
		})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := orders.FindByTransactionID(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, order.StateCompleted, got.State())
		assert.Equal(t, "gw_1", got.GatewayRef)
		require.NotNil(t, got.DeliveredContent)
		assert.Equal(t, "sent by email", got.DeliveredContent.AccessNotes)

		_, err = orders.FindByID(ctx, "not-an-object-id")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("coupon redemption respects usage limit", func(t *testing.T) {
		coupons := NewCouponRepository(c)
		past := time.Now().Add(-time.Hour)
		require.NoError(t, coupons.Upsert(ctx, []coupon.Coupon{
			{Code: "last", DiscountType: coupon.DiscountFixed, DiscountAmount: decimal.NewFromInt(5), UsageLimit: 3, UsedCount: 2, Active: true},
			{Code: "old", DiscountType: coupon.DiscountFixed, DiscountAmount: decimal.NewFromInt(5), ExpiresAt: &past, Active: true},
		}))

		var (
			wg      sync.WaitGroup
			success atomic.Int32
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := coupons.Redeem(ctx, "LAST", time.Now()); err == nil {
					success.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), success.Load())

		_, err := coupons.Redeem(ctx, "old", time.Now())
		require.ErrorIs(t, err, coupon.ErrNotRedeemable)

		require.NoError(t, coupons.Release(ctx, "last"))
		got, err := coupons.FindByCode(ctx, "last")
		require.NoError(t, err)
		assert.Equal(t, 2, got.UsedCount)
	})

	t.Run("api keys", func(t *testing.T) {
		keys := NewAPIKeyRepository(c)
		require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{ID: "admin", KeyHash: "abc", Name: "Admin", Scopes: []string{auth.ScopeAdmin}}))

		info, err := keys.FindByHash(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "Admin", info.Name)

		_, err = keys.FindByHash(ctx, "nope")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}
