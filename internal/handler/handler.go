// Package handler implements the storefront HTTP API.
package handler

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/settlement"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 64 << 10

// Orders is the order service used by the checkout and admin endpoints.
type Orders interface {
	Checkout(ctx context.Context, req order.CreateRequest) (*order.CheckoutResult, error)
	Get(ctx context.Context, transactionID string) (*order.Order, error)
	Cancel(ctx context.Context, transactionID string) (*order.Order, error)
	Fulfill(ctx context.Context, transactionID string, content order.DeliveredContent) (*order.Order, error)
}

// Coupons validates coupon codes without consuming them.
type Coupons interface {
	Validate(ctx context.Context, code string) (*coupon.Result, error)
}

// Settler reconciles payment callbacks.
type Settler interface {
	Settle(ctx context.Context, cb settlement.Callback) (*settlement.Outcome, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// CheckoutURL receives failed and cancelled payment redirects.
	CheckoutURL string
	// DashboardURL receives successful payment redirects.
	DashboardURL string
	// APIKeyPepper is the HMAC key used to hash admin API keys.
	APIKeyPepper []byte
}

// Handler serves the storefront API.
type Handler struct {
	orders  Orders
	coupons Coupons
	settler Settler
	apikeys auth.Repository

	checkoutURL  string
	dashboardURL string
	pepper       []byte
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	orders Orders,
	coupons Coupons,
	settler Settler,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		orders:       orders,
		coupons:      coupons,
		settler:      settler,
		apikeys:      apikeys,
		checkoutURL:  cfg.CheckoutURL,
		dashboardURL: cfg.DashboardURL,
		pepper:       cfg.APIKeyPepper,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.Checkout)
	mux.HandleFunc("POST /api/coupons/validate", h.ValidateCoupon)
	mux.HandleFunc("GET /api/payment/success", h.PaymentSuccess)
	mux.HandleFunc("GET /api/payment/cancel", h.PaymentCancel)

	admin := h.RequireAPIKey(auth.ScopeAdmin)
	mux.Handle("GET /api/admin/orders/{transactionId}", admin(http.HandlerFunc(h.GetOrder)))
	mux.Handle("POST /api/admin/orders/{transactionId}/fulfill", admin(http.HandlerFunc(h.FulfillOrder)))
	mux.Handle("POST /api/admin/orders/{transactionId}/cancel", admin(http.HandlerFunc(h.CancelOrder)))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return data, nil
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	writeJSON(w, code, &e)
}

// internalError logs err and answers 500 without exposing it.
func internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	zctx.From(ctx).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// redirect sends the browser to base with params merged into its query.
func redirect(w http.ResponseWriter, r *http.Request, base string, params url.Values) {
	u, err := url.Parse(base)
	if err != nil {
		internalError(r.Context(), w, "Parse redirect URL", err)
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
