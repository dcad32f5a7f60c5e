// Command seed-db creates the schema and seeds products, coupons and an admin
// API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/mongodb"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type seedFile struct {
	Products []struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Price      decimal.Decimal `json:"price"`
		Category   string          `json:"category"`
		AccessLink string          `json:"accessLink"`
		AccessNote string          `json:"accessNote"`
	} `json:"products"`
	Coupons []struct {
		Code           string          `json:"code"`
		DiscountType   string          `json:"discountType"`
		DiscountAmount decimal.Decimal `json:"discountAmount"`
		ExpiresAt      *time.Time      `json:"expiresAt"`
		UsageLimit     int             `json:"usageLimit"`
		Active         bool            `json:"active"`
	} `json:"coupons"`
}

// target is the store being seeded.
type target struct {
	products interface {
		Upsert(ctx context.Context, products []product.WithDelivery) error
	}
	coupons interface {
		Upsert(ctx context.Context, coupons []coupon.Coupon) error
	}
	apikeys interface {
		Upsert(ctx context.Context, key auth.APIKeyInfo) error
	}
}

type options struct {
	driver        string
	databaseURL   string
	mongoURI      string
	mongoDatabase string
	seedFile      string
	apiKey        string
	apiKeyPepper  string
}

func main() {
	var opts options
	flag.StringVar(&opts.driver, "driver", "postgres", "storage driver: postgres or mongo")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.mongoURI, "mongo-uri", "", "MongoDB connection URI (or SHOP_STORAGE_MONGO_URI env)")
	flag.StringVar(&opts.mongoDatabase, "mongo-database", "shop", "MongoDB database name")
	flag.StringVar(&opts.seedFile, "file", "", "path to seed JSON file (default: embedded sample catalog)")
	flag.StringVar(&opts.apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.fromEnv()
	if opts.apiKey == "" || opts.apiKeyPepper == "" {
		lg.Fatal("API key and pepper are required: set --api-key and --api-key-pepper")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func (o *options) fromEnv() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&o.databaseURL, "DATABASE_URL")
	fallback(&o.mongoURI, "SHOP_STORAGE_MONGO_URI")
	fallback(&o.apiKey, "SHOP_SEED_API_KEY")
	fallback(&o.apiKeyPepper, "SHOP_API_KEY_PEPPER")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data := db.Seed
	if opts.seedFile != "" {
		var err error
		if data, err = os.ReadFile(opts.seedFile); err != nil {
			return errors.Wrap(err, "read seed file")
		}
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	switch opts.driver {
	case "postgres":
		if opts.databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		lg.Info("Running migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		return seed.apply(ctx, lg, target{
			products: postgres.NewProductRepository(pool),
			coupons:  postgres.NewCouponRepository(pool),
			apikeys:  postgres.NewAPIKeyRepository(pool),
		}, opts)
	case "mongo":
		if opts.mongoURI == "" {
			return errors.New("mongo URI is required: set --mongo-uri")
		}
		client, err := mongodb.Connect(ctx, opts.mongoURI, opts.mongoDatabase)
		if err != nil {
			return errors.Wrap(err, "connect to mongo")
		}
		defer func() { _ = client.Close(context.Background()) }()

		lg.Info("Ensuring indexes")
		if err := client.EnsureIndexes(ctx); err != nil {
			return errors.Wrap(err, "ensure indexes")
		}
		return seed.apply(ctx, lg, target{
			products: mongodb.NewProductRepository(client),
			coupons:  mongodb.NewCouponRepository(client),
			apikeys:  mongodb.NewAPIKeyRepository(client),
		}, opts)
	default:
		return errors.Errorf("unknown driver %q", opts.driver)
	}
}

func (s *seedFile) apply(ctx context.Context, lg *zap.Logger, t target, opts options) error {
	products := make([]product.WithDelivery, 0, len(s.Products))
	for _, p := range s.Products {
		products = append(products, product.WithDelivery{
			Product: product.Product{
				ID:       p.ID,
				Name:     p.Name,
				Price:    p.Price,
				Category: p.Category,
			},
			Delivery: product.Delivery{AccessLink: p.AccessLink, AccessNote: p.AccessNote},
		})
	}
	if err := t.products.Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Upserted products", zap.Int("count", len(products)))

	coupons := make([]coupon.Coupon, 0, len(s.Coupons))
	for _, c := range s.Coupons {
		coupons = append(coupons, coupon.Coupon{
			Code:           coupon.NormalizeCode(c.Code),
			DiscountType:   coupon.DiscountType(c.DiscountType),
			DiscountAmount: c.DiscountAmount,
			ExpiresAt:      c.ExpiresAt,
			UsageLimit:     c.UsageLimit,
			Active:         c.Active,
		})
	}
	if err := t.coupons.Upsert(ctx, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Upserted coupons", zap.Int("count", len(coupons)))

	if err := t.apikeys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("id", "admin"))
	return nil
}
