package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront/internal/domain/coupon"
)

type couponDoc struct {
	Code           string               `bson:"_id"`
	DiscountType   string               `bson:"discount_type"`
	DiscountAmount primitive.Decimal128 `bson:"discount_amount"`
	ExpiresAt      *time.Time           `bson:"expires_at"`
	UsageLimit     int                  `bson:"usage_limit"`
	UsedCount      int                  `bson:"used_count"`
	Active         bool                 `bson:"active"`
}

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by MongoDB. The
// normalized code is the document id.
type CouponRepository struct {
	collection *mongo.Collection
}

// NewCouponRepository returns a CouponRepository on the client's database.
func NewCouponRepository(c *Client) *CouponRepository {
	return &CouponRepository{collection: c.db.Collection(couponsCollection)}
}

// FindByCode looks up a coupon by its code, active or not.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var doc couponDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": coupon.NormalizeCode(code)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return doc.toDomain()
}

// Redeem increments used_count with a FindOneAndUpdate whose filter encodes
// every usability rule.
func (r *CouponRepository) Redeem(ctx context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	filter := bson.M{
		"_id":    coupon.NormalizeCode(code),
		"active": true,
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"expires_at": nil},
				bson.M{"expires_at": bson.M{"$gte": now}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"usage_limit": 0},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$used_count", "$usage_limit"}}},
			}},
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc couponDoc
	err := r.collection.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"used_count": 1}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotRedeemable
		}
		return nil, errors.Wrapf(err, "redeem coupon %q", code)
	}
	return doc.toDomain()
}

// Release returns one use of the coupon, never going below zero.
func (r *CouponRepository) Release(ctx context.Context, code string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": coupon.NormalizeCode(code), "used_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"used_count": -1}},
	)
	if err != nil {
		return errors.Wrapf(err, "release coupon %q", code)
	}
	return nil
}

// Upsert inserts or updates coupons in one bulk write. used_count of existing
// coupons is preserved.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(coupons))
	for _, c := range coupons {
		amount, err := toDecimal128(c.DiscountAmount)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": coupon.NormalizeCode(c.Code)}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"discount_type":   string(c.DiscountType),
					"discount_amount": amount,
					"expires_at":      c.ExpiresAt,
					"usage_limit":     c.UsageLimit,
					"active":          c.Active,
				},
				"$setOnInsert": bson.M{"used_count": c.UsedCount},
			}).
			SetUpsert(true))
	}
	if _, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return errors.Wrapf(err, "upsert %d coupons", len(coupons))
	}
	return nil
}

func (d *couponDoc) toDomain() (*coupon.Coupon, error) {
	amount, err := fromDecimal128(d.DiscountAmount)
	if err != nil {
		return nil, err
	}
	return &coupon.Coupon{
		Code:           d.Code,
		DiscountType:   coupon.DiscountType(d.DiscountType),
		DiscountAmount: amount,
		ExpiresAt:      d.ExpiresAt,
		UsageLimit:     d.UsageLimit,
		UsedCount:      d.UsedCount,
		Active:         d.Active,
	}, nil
}
