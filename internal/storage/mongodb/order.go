package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/storefront/internal/domain/order"
)

type orderDoc struct {
	ID               primitive.ObjectID   `bson:"_id,omitempty"`
	TransactionID    string               `bson:"transaction_id"`
	ProductID        string               `bson:"product_id"`
	UserID           string               `bson:"user_id,omitempty"`
	Customer         customerDoc          `bson:"customer"`
	Amount           primitive.Decimal128 `bson:"amount"`
	Discount         primitive.Decimal128 `bson:"discount"`
	CouponCode       string               `bson:"coupon_code,omitempty"`
	Status           string               `bson:"status"`
	PaymentStatus    string               `bson:"payment_status"`
	DeliveredContent *deliveredDoc        `bson:"delivered_content,omitempty"`
	GatewayRef       string               `bson:"gateway_ref,omitempty"`
	GatewayResponse  string               `bson:"gateway_response,omitempty"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

type customerDoc struct {
	Name  string `bson:"name"`
	Phone string `bson:"phone"`
	Email string `bson:"email,omitempty"`
}

type deliveredDoc struct {
	DownloadLink string `bson:"download_link,omitempty"`
	AccessNotes  string `bson:"access_notes,omitempty"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by MongoDB.
type OrderRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewOrderRepository returns an OrderRepository on the client's database.
func NewOrderRepository(c *Client) *OrderRepository {
	return &OrderRepository{
		collection: c.db.Collection(ordersCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new order and fills in its store-assigned fields.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	amount, err := toDecimal128(o.Amount)
	if err != nil {
		return err
	}
	discount, err := toDecimal128(o.Discount)
	if err != nil {
		return err
	}

	now := r.now()
	doc := orderDoc{
		TransactionID: o.TransactionID,
		ProductID:     o.ProductID,
		UserID:        o.UserID,
		Customer:      customerDoc{Name: o.Customer.Name, Phone: o.Customer.Phone, Email: o.Customer.Email},
		Amount:        amount,
		Discount:      discount,
		CouponCode:    o.CouponCode,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.TransactionID)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		o.ID = id.Hex()
	}
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

// FindByID returns the order with the given hex ObjectID.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, order.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByTransactionID returns the order with the given transaction id.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"transaction_id": transactionID})
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	return doc.toDomain()
}

// Transition applies t with a single UpdateOne whose filter includes the
// expected current state.
func (r *OrderRepository) Transition(ctx context.Context, transactionID string, t order.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	set := bson.M{
		"status":         string(t.To.Status),
		"payment_status": string(t.To.Payment),
		"updated_at":     r.now(),
	}
	if dc := t.DeliveredContent; dc != nil {
		set["delivered_content"] = deliveredDoc{DownloadLink: dc.DownloadLink, AccessNotes: dc.AccessNotes}
	}
	if t.GatewayRef != "" {
		set["gateway_ref"] = t.GatewayRef
	}
	if len(t.GatewayResponse) > 0 {
		set["gateway_response"] = string(t.GatewayResponse)
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{
			"transaction_id": transactionID,
			"status":         string(t.From.Status),
			"payment_status": string(t.From.Payment),
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, errors.Wrapf(err, "transition order %q %s -> %s", transactionID, t.From, t.To)
	}
	return res.MatchedCount == 1, nil
}

func (d *orderDoc) toDomain() (*order.Order, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return nil, err
	}
	discount, err := fromDecimal128(d.Discount)
	if err != nil {
		return nil, err
	}
	o := &order.Order{
		ID:            d.ID.Hex(),
		TransactionID: d.TransactionID,
		ProductID:     d.ProductID,
		UserID:        d.UserID,
		Customer:      order.Customer{Name: d.Customer.Name, Phone: d.Customer.Phone, Email: d.Customer.Email},
		Amount:        amount,
		Discount:      discount,
		CouponCode:    d.CouponCode,
		Status:        order.Status(d.Status),
		PaymentStatus: order.PaymentStatus(d.PaymentStatus),
		GatewayRef:    d.GatewayRef,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.GatewayResponse != "" {
		o.GatewayResponse = []byte(d.GatewayResponse)
	}
	if d.DeliveredContent != nil {
		o.DeliveredContent = &order.DeliveredContent{
			DownloadLink: d.DeliveredContent.DownloadLink,
			AccessNotes:  d.DeliveredContent.AccessNotes,
		}
	}
	return o, nil
}
