//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
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

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	products := NewProductRepository(pool)
	require.NoError(t, products.Upsert(ctx, []product.WithDelivery{
		{
			Product:  product.Product{ID: "ebook", Name: "E-book", Price: decimal.NewFromInt(1000), Category: "books"},
			Delivery: product.Delivery{AccessLink: "https://cdn.test/ebook.pdf", AccessNote: "enjoy"},
		},
	}))

	t.Run("products hide delivery fields", func(t *testing.T) {
		p, err := products.GetByID(ctx, "ebook")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(p.Price))

		wd, err := products.GetWithDelivery(ctx, "ebook")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.test/ebook.pdf", wd.Delivery.AccessLink)

		_, err = products.GetByID(ctx, "missing")
		require.ErrorIs(t, err, product.ErrNotFound)
	})

	t.Run("order transitions are compare-and-set", func(t *testing.T) {
		orders := NewOrderRepository(pool)
		o := &order.Order{
			TransactionID: "T1",
			ProductID:     "ebook",
			Customer:      order.Customer{Name: "Ada", Phone: "+100"},
			Amount:        decimal.NewFromInt(1000),
			Status:        order.StatusPending,
			PaymentStatus: order.PaymentUnpaid,
		}
		require.NoError(t, orders.Create(ctx, o))
		require.NotEmpty(t, o.ID)

		byID, err := orders.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "T1", byID.TransactionID)
		assert.Nil(t, byID.DeliveredContent)

		complete := order.Transition{
			From:             order.StatePending,
			To:               order.StateCompleted,
			DeliveredContent: &order.DeliveredContent{DownloadLink: "https://cdn.test/ebook.pdf"},
			GatewayRef:       "gw_1",
			GatewayResponse:  []byte(`{"status":"COMPLETED"}`),
		}

		var (
			wg  sync.WaitGroup
			won atomic.Int32
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := orders.Transition(ctx, "T1", complete)
				assert.NoError(t, err)
				if ok {
					won.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), won.Load())

		got, err := orders.FindByTransactionID(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, order.StateCompleted, got.State())
		require.NotNil(t, got.DeliveredContent)
		assert.Equal(t, "https://cdn.test/ebook.pdf", got.DeliveredContent.DownloadLink)
		assert.Equal(t, "gw_1", got.GatewayRef)
		assert.JSONEq(t, `{"status":"COMPLETED"}`, string(got.GatewayResponse))

		ok, err := orders.Transition(ctx, "missing", complete)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = orders.FindByTransactionID(ctx, "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("coupon redemption respects usage limit", func(t *testing.T) {
		coupons := NewCouponRepository(pool)
		require.NoError(t, coupons.Upsert(ctx, []coupon.Coupon{
			{Code: "last", DiscountType: coupon.DiscountPercentage, DiscountAmount: decimal.NewFromInt(10), UsageLimit: 5, UsedCount: 4, Active: true},
		}))

		var (
			wg      sync.WaitGroup
			success atomic.Int32
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := coupons.Redeem(ctx, "LAST", time.Now())
				if err == nil {
					success.Add(1)
					return
				}
				assert.True(t, errors.Is(err, coupon.ErrNotRedeemable), "unexpected error: %v", err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), success.Load())

		require.NoError(t, coupons.Release(ctx, "last"))
		c, err := coupons.FindByCode(ctx, "last")
		require.NoError(t, err)
		assert.Equal(t, 4, c.UsedCount)

		_, err = coupons.FindByCode(ctx, "nope")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("api keys", func(t *testing.T) {
		keys := NewAPIKeyRepository(pool)
		require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{ID: "admin", KeyHash: "abc", Name: "Admin", Scopes: []string{auth.ScopeAdmin}}))

		info, err := keys.FindByHash(ctx, "abc")
		require.NoError(t, err)
		assert.True(t, info.HasScope(auth.ScopeAdmin))

		_, err = keys.FindByHash(ctx, "nope")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}
