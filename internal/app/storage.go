package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/storage/mongodb"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
)

// stores holds the repositories of the selected storage driver.
type stores struct {
	products product.Repository
	coupons  coupon.Repository
	orders   order.Repository
	apikeys  auth.Repository
	pinger   health.Pinger
	close    func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg StorageConfig) (*stores, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &stores{
			products: postgres.NewProductRepository(pool),
			coupons:  postgres.NewCouponRepository(pool),
			orders:   postgres.NewOrderRepository(pool),
			apikeys:  postgres.NewAPIKeyRepository(pool),
			pinger:   pool,
			close:    pool.Close,
		}, nil
	case DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		if err := client.EnsureIndexes(ctx); err != nil {
			_ = client.Close(context.Background())
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return &stores{
			products: mongodb.NewProductRepository(client),
			coupons:  mongodb.NewCouponRepository(client),
			orders:   mongodb.NewOrderRepository(client),
			apikeys:  mongodb.NewAPIKeyRepository(client),
			pinger:   client,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := client.Close(ctx); err != nil {
					lg.Warn("Close mongo client", zap.Error(err))
				}
			},
		}, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openEvents(ctx context.Context, cfg EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case EventsNone, "":
		return events.Noop{}, nil
	case EventsKafka:
		p, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, errors.Wrap(err, "kafka publisher")
		}
		return p, nil
	case EventsSNS:
		p, err := events.NewSNS(ctx, cfg.SNSTopicARN)
		if err != nil {
			return nil, errors.Wrap(err, "sns publisher")
		}
		return p, nil
	default:
		return nil, errors.Errorf("unknown events driver %q", cfg.Driver)
	}
}
