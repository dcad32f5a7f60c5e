package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	bloomFPR   = 0.001
	maxLineLen = 64 << 10
)

// Stats counts what an import did.
type Stats struct {
	Lines      int64
	Imported   int64
	Duplicates int64
	Invalid    int64
}

// dedup reports codes seen before. The bloom filter answers most first
// sightings without touching the exact set.
type dedup struct {
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDedup(capacity uint) *dedup {
	if capacity == 0 {
		capacity = 1
	}
	return &dedup{
		filter: bloom.NewWithEstimates(capacity, bloomFPR),
		seen:   make(map[string]struct{}, min(capacity, 1<<20)),
	}
}

// add records code and reports whether it was new.
func (d *dedup) add(code string) bool {
	if !d.filter.TestAndAddString(code) {
		d.seen[code] = struct{}{}
		return true
	}
	if _, ok := d.seen[code]; ok {
		return false
	}
	d.seen[code] = struct{}{}
	return true
}

type importer struct {
	lg        *zap.Logger
	store     upserter
	dedup     *dedup
	batchSize int
}

type line struct {
	file   string
	number int
	data   []byte
}

// Run reads files concurrently and writes unique valid coupons in batches.
// Decoding and deduplication happen on one goroutine so the first line of a
// code read wins.
func (imp *importer) Run(ctx context.Context, files []string) (Stats, error) {
	var stats Stats
	batchSize := max(imp.batchSize, 1)
	lines := make(chan line, 1024)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for _, path := range files {
		readers.Go(func() error {
			return readFile(rctx, path, lines)
		})
	}
	g.Go(func() error {
		defer close(lines)
		return readers.Wait()
	})

	g.Go(func() error {
		batch := make([]coupon.Coupon, 0, batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := imp.store.Upsert(gctx, batch); err != nil {
				return errors.Wrapf(err, "upsert batch of %d", len(batch))
			}
			stats.Imported += int64(len(batch))
			batch = batch[:0]
			return nil
		}

		for l := range lines {
			stats.Lines++
			c, err := decodeCoupon(l.data)
			if err != nil {
				stats.Invalid++
				imp.lg.Debug("Skip invalid coupon line",
					zap.String("file", l.file),
					zap.Int("line", l.number),
					zap.Error(err),
				)
				continue
			}
			if !imp.dedup.add(c.Code) {
				stats.Duplicates++
				continue
			}
			batch = append(batch, c)
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
				imp.lg.Info("Import progress", zap.Int64("imported", stats.Imported))
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func readFile(ctx context.Context, path string, out chan<- line) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return scanLines(ctx, path, gz, out)
}

func scanLines(ctx context.Context, path string, r io.Reader, out chan<- line) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLen)
	n := 0
	for scanner.Scan() {
		n++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		l := line{file: path, number: n, data: append([]byte(nil), scanner.Bytes()...)}
		select {
		case out <- l:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// decodeCoupon parses one JSON line. Amounts may be strings or numbers;
// active defaults to true.
func decodeCoupon(data []byte) (coupon.Coupon, error) {
	c := coupon.Coupon{Active: true}
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			s, err := d.Str()
			c.Code = coupon.NormalizeCode(s)
			return err
		case "discountType":
			s, err := d.Str()
			c.DiscountType = coupon.DiscountType(s)
			return err
		case "discountAmount":
			amount, err := decodeAmount(d)
			c.DiscountAmount = amount
			return err
		case "expiresAt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return errors.Wrap(err, "expiresAt")
			}
			c.ExpiresAt = &t
			return nil
		case "usageLimit":
			n, err := d.Int()
			c.UsageLimit = n
			return err
		case "active":
			b, err := d.Bool()
			c.Active = b
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return coupon.Coupon{}, err
	}

	switch {
	case c.Code == "":
		return coupon.Coupon{}, errors.New("empty code")
	case c.DiscountType != coupon.DiscountPercentage && c.DiscountType != coupon.DiscountFixed:
		return coupon.Coupon{}, errors.Errorf("unknown discount type %q", c.DiscountType)
	case c.DiscountAmount.IsNegative():
		return coupon.Coupon{}, errors.New("negative discount")
	case c.DiscountType == coupon.DiscountPercentage && c.DiscountAmount.GreaterThan(decimal.NewFromInt(100)):
		return coupon.Coupon{}, errors.New("percentage above 100")
	case c.UsageLimit < 0:
		return coupon.Coupon{}, errors.New("negative usage limit")
	}
	return c, nil
}

func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.New("discountAmount must be a string or number")
	}
}
