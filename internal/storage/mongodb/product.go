package mongodb

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront/internal/domain/product"
)

type productDoc struct {
	ID         string               `bson:"_id"`
	Name       string               `bson:"name"`
	Price      primitive.Decimal128 `bson:"price"`
	Category   string               `bson:"category"`
	AccessLink string               `bson:"access_link,omitempty"`
	AccessNote string               `bson:"access_note,omitempty"`
}

// catalogProjection keeps the restricted delivery fields out of catalog reads.
var catalogProjection = bson.M{"access_link": 0, "access_note": 0}

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by MongoDB.
type ProductRepository struct {
	collection *mongo.Collection
}

// NewProductRepository returns a ProductRepository on the client's database.
func NewProductRepository(c *Client) *ProductRepository {
	return &ProductRepository{collection: c.db.Collection(productsCollection)}
}

// GetByID returns a product without its delivery fields.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	doc, err := r.find(ctx, id, options.FindOne().SetProjection(catalogProjection))
	if err != nil {
		return nil, err
	}
	return &doc.Product, nil
}

// GetWithDelivery returns a product including its access link and note.
func (r *ProductRepository) GetWithDelivery(ctx context.Context, id string) (*product.WithDelivery, error) {
	return r.find(ctx, id, options.FindOne())
}

func (r *ProductRepository) find(ctx context.Context, id string, opts *options.FindOneOptions) (*product.WithDelivery, error) {
	var doc productDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find product %q", id)
	}
	price, err := fromDecimal128(doc.Price)
	if err != nil {
		return nil, err
	}
	return &product.WithDelivery{
		Product: product.Product{
			ID:       doc.ID,
			Name:     doc.Name,
			Price:    price,
			Category: doc.Category,
		},
		Delivery: product.Delivery{AccessLink: doc.AccessLink, AccessNote: doc.AccessNote},
	}, nil
}

// Upsert inserts or replaces products in one bulk write.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.WithDelivery) error {
	if len(products) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(products))
	for _, p := range products {
		price, err := toDecimal128(p.Price)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": p.ID}).
			SetReplacement(productDoc{
				ID:         p.ID,
				Name:       p.Name,
				Price:      price,
				Category:   p.Category,
				AccessLink: p.Delivery.AccessLink,
				AccessNote: p.Delivery.AccessNote,
			}).
			SetUpsert(true))
	}
	if _, err := r.collection.BulkWrite(ctx, models); err != nil {
		return errors.Wrapf(err, "upsert %d products", len(products))
	}
	return nil
}
