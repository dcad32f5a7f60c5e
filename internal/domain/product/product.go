package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
}

// Delivery holds the access-restricted fulfillment fields of a product.
// They are never part of catalog reads and must be requested explicitly.
type Delivery struct {
	AccessLink string
	AccessNote string
}

// HasLink reports whether the product can be delivered automatically.
func (d Delivery) HasLink() bool {
	return d.AccessLink != ""
}

// WithDelivery is a product together with its restricted delivery fields.
type WithDelivery struct {
	Product
	Delivery Delivery
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetWithDelivery returns the product including AccessLink/AccessNote.
	GetWithDelivery(ctx context.Context, id string) (*WithDelivery, error)
}
