// Command coupon-import bulk loads coupons from gzipped JSON-lines files.
//
// Every *.jsonl.gz file in the data directory is read concurrently. A line is
// one coupon object:
//
//	{"code":"SAVE10","discountType":"percentage","discountAmount":"10","usageLimit":100}
//
// The first occurrence of a code wins; later duplicates are dropped.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/mongodb"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir       string
		driver        string
		databaseURL   string
		mongoURI      string
		mongoDatabase string
		capacity      uint
		batchSize     int
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz coupon files")
	flag.StringVar(&driver, "driver", "postgres", "storage driver: postgres or mongo")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or SHOP_STORAGE_MONGO_URI env)")
	flag.StringVar(&mongoDatabase, "mongo-database", "shop", "MongoDB database name")
	flag.UintVar(&capacity, "expected-codes", 1_000_000, "expected number of distinct codes, sizes the bloom filter")
	flag.IntVar(&batchSize, "batch-size", 1000, "coupons per upsert batch")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if mongoURI == "" {
		mongoURI = os.Getenv("SHOP_STORAGE_MONGO_URI")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		lg.Fatal("List coupon files", zap.Error(err))
	}
	if len(files) == 0 {
		lg.Fatal("No *.jsonl.gz files found", zap.String("dir", dataDir))
	}

	var store upserter
	switch driver {
	case "postgres":
		if databaseURL == "" {
			lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			lg.Fatal("Connect to database", zap.Error(err))
		}
		defer pool.Close()
		store = postgres.NewCouponRepository(pool)
	case "mongo":
		if mongoURI == "" {
			lg.Fatal("mongo URI is required: set --mongo-uri")
		}
		client, err := mongodb.Connect(ctx, mongoURI, mongoDatabase)
		if err != nil {
			lg.Fatal("Connect to mongo", zap.Error(err))
		}
		defer func() { _ = client.Close(context.Background()) }()
		store = mongodb.NewCouponRepository(client)
	default:
		lg.Fatal("Unknown driver", zap.String("driver", driver))
	}

	imp := &importer{
		lg:        lg,
		store:     store,
		dedup:     newDedup(capacity),
		batchSize: batchSize,
	}
	stats, err := imp.Run(ctx, files)
	if err != nil {
		lg.Fatal("Coupon import failed", zap.Error(errors.Wrap(err, "import")))
	}
	lg.Info("Coupon import completed",
		zap.Int("files", len(files)),
		zap.Int64("lines", stats.Lines),
		zap.Int64("imported", stats.Imported),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("invalid", stats.Invalid),
	)
}

// upserter is the coupon store written to.
type upserter interface {
	Upsert(ctx context.Context, coupons []coupon.Coupon) error
}
