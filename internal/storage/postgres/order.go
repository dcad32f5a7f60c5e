package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id::text, transaction_id, product_id, user_id,
		customer_name, customer_phone, customer_email,
		amount, discount, coupon_code, status, payment_status,
		delivered_link, delivered_notes, gateway_ref, gateway_response,
		created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (transaction_id, product_id, user_id,
		customer_name, customer_phone, customer_email,
		amount, discount, coupon_code, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text, created_at, updated_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id::text = $1`

	getOrderByTransactionIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE transaction_id = $1`

	// transitionOrderSQL is the compare-and-set on (status, payment_status).
	transitionOrderSQL = `UPDATE orders SET
		status = $4,
		payment_status = $5,
		delivered_link = COALESCE($6::text, delivered_link),
		delivered_notes = COALESCE($7::text, delivered_notes),
		gateway_ref = COALESCE(NULLIF($8::text, ''), gateway_ref),
		gateway_response = COALESCE($9::jsonb, gateway_response),
		updated_at = now()
		WHERE transaction_id = $1 AND status = $2 AND payment_status = $3`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new order and fills in its store-assigned fields.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.pool.QueryRow(ctx, createOrderSQL,
		o.TransactionID, o.ProductID, o.UserID,
		o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.Amount, o.Discount, o.CouponCode, string(o.Status), string(o.PaymentStatus),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.TransactionID, err)
	}
	return nil
}

// FindByID returns the order with the given store id.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

// FindByTransactionID returns the order with the given transaction id.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByTransactionIDSQL, transactionID)
}

func (r *OrderRepository) findOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", arg, err)
	}
	return o, nil
}

// Transition applies t in a single conditional UPDATE. Zero affected rows
// means the order is missing or no longer in t.From.
func (r *OrderRepository) Transition(ctx context.Context, transactionID string, t order.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	var link, notes *string
	if dc := t.DeliveredContent; dc != nil {
		link, notes = &dc.DownloadLink, &dc.AccessNotes
	}
	var response []byte
	if len(t.GatewayResponse) > 0 {
		response = t.GatewayResponse
	}

	tag, err := r.pool.Exec(ctx, transitionOrderSQL,
		transactionID,
		string(t.From.Status), string(t.From.Payment),
		string(t.To.Status), string(t.To.Payment),
		link, notes, t.GatewayRef, response,
	)
	if err != nil {
		return false, fmt.Errorf("transitioning order %q %s -> %s: %w", transactionID, t.From, t.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
		link, notes   *string
	)
	err := row.Scan(
		&o.ID, &o.TransactionID, &o.ProductID, &o.UserID,
		&o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.Amount, &o.Discount, &o.CouponCode, &status, &paymentStatus,
		&link, &notes, &o.GatewayRef, &o.GatewayResponse,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	if link != nil || notes != nil {
		o.DeliveredContent = &order.DeliveredContent{}
		if link != nil {
			o.DeliveredContent.DownloadLink = *link
		}
		if notes != nil {
			o.DeliveredContent.AccessNotes = *notes
		}
	}
	return &o, nil
}
