// Package ordertest provides an in-memory order.Repository for tests.
package ordertest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/order"
)

// Memory is a mutex-guarded order.Repository with the same conditional
// transition semantics as the real stores.
type Memory struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*order.Order

	// Transitions counts successful transitions.
	Transitions int
	// Err, when set, is returned by every method.
	Err error
}

var _ order.Repository = (*Memory)(nil)

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*order.Order)}
}

func (m *Memory) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.seq++
	o.ID = strconv.Itoa(m.seq)
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.orders[o.TransactionID] = clone(o)
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, o := range m.orders {
		if o.ID == id {
			return clone(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *Memory) FindByTransactionID(_ context.Context, transactionID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.orders[transactionID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return clone(o), nil
}

func (m *Memory) Transition(_ context.Context, transactionID string, t order.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	o, ok := m.orders[transactionID]
	if !ok || o.State() != t.From {
		return false, nil
	}
	o.Status, o.PaymentStatus = t.To.Status, t.To.Payment
	if t.DeliveredContent != nil {
		dc := *t.DeliveredContent
		o.DeliveredContent = &dc
	}
	if t.GatewayRef != "" {
		o.GatewayRef = t.GatewayRef
	}
	if len(t.GatewayResponse) > 0 {
		o.GatewayResponse = append([]byte(nil), t.GatewayResponse...)
	}
	o.UpdatedAt = time.Now()
	m.Transitions++
	return true, nil
}

// Put stores o as is, bypassing Create.
func (m *Memory) Put(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.TransactionID] = clone(o)
}

// Get returns the stored order or nil.
func (m *Memory) Get(transactionID string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[transactionID]
	if !ok {
		return nil
	}
	return clone(o)
}

// Len returns the number of stored orders.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func clone(o *order.Order) *order.Order {
	c := *o
	if o.DeliveredContent != nil {
		dc := *o.DeliveredContent
		c.DeliveredContent = &dc
	}
	c.GatewayResponse = append([]byte(nil), o.GatewayResponse...)
	return &c
}
