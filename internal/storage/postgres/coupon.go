package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `code, discount_type, discount_amount, expires_at, usage_limit, used_count, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	// redeemCouponSQL re-checks every usability rule inside the UPDATE so
	// concurrent redemptions cannot exceed usage_limit.
	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = UPPER($1)
		AND active
		AND (expires_at IS NULL OR expires_at >= $2)
		AND (usage_limit = 0 OR used_count < usage_limit)
		RETURNING ` + couponColumns

	releaseCouponSQL = `UPDATE coupons SET used_count = used_count - 1
		WHERE code = UPPER($1) AND used_count > 0`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_amount = EXCLUDED.discount_amount,
			expires_at = EXCLUDED.expires_at,
			usage_limit = EXCLUDED.usage_limit,
			active = EXCLUDED.active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, active or not.
// Returns coupon.ErrNotFound when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, nil
}

// Redeem consumes one use of the coupon if it is usable at now.
// Returns coupon.ErrNotRedeemable when the conditional update matched nothing.
func (r *CouponRepository) Redeem(ctx context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, redeemCouponSQL, code, now)
	if err != nil {
		return nil, fmt.Errorf("redeeming coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotRedeemable
		}
		return nil, fmt.Errorf("redeeming coupon %q: %w", code, err)
	}
	return c, nil
}

// Release returns one use of the coupon.
func (r *CouponRepository) Release(ctx context.Context, code string) error {
	if _, err := r.pool.Exec(ctx, releaseCouponSQL, code); err != nil {
		return fmt.Errorf("releasing coupon %q: %w", code, err)
	}
	return nil
}

// Upsert inserts or updates coupons in a single batch. used_count of existing
// coupons is preserved.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			c.Code, string(c.DiscountType), c.DiscountAmount, c.ExpiresAt,
			c.UsageLimit, c.UsedCount, c.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (*coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		usageLimit   int32
		usedCount    int32
	)
	err := row.Scan(
		&c.Code, &discountType, &c.DiscountAmount, &c.ExpiresAt,
		&usageLimit, &usedCount, &c.Active,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.UsageLimit = int(usageLimit)
	c.UsedCount = int(usedCount)
	return &c, err
}
