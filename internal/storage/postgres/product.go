package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, name, price, category FROM products WHERE id = $1`

	// getProductWithDeliverySQL is the only query that reads the restricted
	// access columns.
	getProductWithDeliverySQL = `SELECT id, name, price, category, access_link, access_note
		FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, access_link, access_note)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			access_link = EXCLUDED.access_link,
			access_note = EXCLUDED.access_note`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier, without delivery fields.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[product.Product])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetWithDelivery returns a product including its access link and note.
func (r *ProductRepository) GetWithDelivery(ctx context.Context, id string) (*product.WithDelivery, error) {
	rows, err := r.pool.Query(ctx, getProductWithDeliverySQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product delivery %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (product.WithDelivery, error) {
		var p product.WithDelivery
		err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.Delivery.AccessLink, &p.Delivery.AccessNote)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product delivery %q: %w", id, err)
	}
	return &p, nil
}

// Upsert inserts or replaces products in a single batch.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.WithDelivery) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL,
			p.ID, p.Name, p.Price, p.Category, p.Delivery.AccessLink, p.Delivery.AccessNote,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d products: %w", len(products), err)
	}
	return nil
}
