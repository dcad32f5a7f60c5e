package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// maxBody caps how much of a gateway response is read.
const maxBody = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the gateway API root, e.g. https://pay.example.com/api/v1.
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CallbackURL is the public root of this service's payment callbacks.
	// Success and cancel URLs are derived from it.
	CallbackURL string
}

// Client talks to the payment gateway over HTTP/JSON.
type Client struct {
	base     *url.URL
	callback *url.URL
	apiKey   string
	http     *http.Client
}

// New creates a Client. Outbound requests are traced through otelhttp with the
// given providers.
func New(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid gateway base url %q", cfg.BaseURL)
	}
	callback, err := url.Parse(strings.TrimSuffix(cfg.CallbackURL, "/"))
	if err != nil || callback.Scheme == "" || callback.Host == "" {
		return nil, errors.Errorf("invalid callback url %q", cfg.CallbackURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:     base,
		callback: callback,
		apiKey:   cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
	}, nil
}

// SuccessURL is the callback the gateway redirects to after payment. The
// transaction id is embedded so the callback needs no server-side session.
func (c *Client) SuccessURL(transactionID string) string {
	return c.callbackURL("success", transactionID)
}

// CancelURL is the callback the gateway redirects to on abandonment.
func (c *Client) CancelURL(transactionID string) string {
	return c.callbackURL("cancel", transactionID)
}

func (c *Client) callbackURL(action, transactionID string) string {
	u := *c.callback
	u.Path += "/" + action
	q := u.Query()
	q.Set("order_id", transactionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Initiate registers a checkout with the gateway and returns where to send
// the customer.
func (c *Client) Initiate(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Raw([]byte(req.Amount.StringFixed(2))) })
		e.Field("success_url", func(e *jx.Encoder) { e.Str(c.SuccessURL(req.TransactionID)) })
		e.Field("cancel_url", func(e *jx.Encoder) { e.Str(c.CancelURL(req.TransactionID)) })
		e.Field("metadata", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("transaction_id", func(e *jx.Encoder) { e.Str(req.TransactionID) })
				e.Field("customer_name", func(e *jx.Encoder) { e.Str(req.CustomerName) })
				e.Field("customer_phone", func(e *jx.Encoder) { e.Str(req.CustomerPhone) })
			})
		})
	})

	body, err := c.post(ctx, "/checkout", e.Bytes())
	if err != nil {
		return nil, &Error{Op: "initiate", StatusCode: statusOf(err), Err: err}
	}
	checkout, err := decodeCheckout(body)
	if err != nil {
		return nil, &Error{Op: "initiate", Err: err}
	}
	return checkout, nil
}

// Verify asks the gateway for the authoritative status of a gateway
// transaction. Transport and decoding failures are errors, never a status.
func (c *Client) Verify(ctx context.Context, gatewayRef string) (*Verification, error) {
	if gatewayRef == "" {
		return nil, &Error{Op: "verify", Err: errors.New("empty gateway reference")}
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("transaction_id", func(e *jx.Encoder) { e.Str(gatewayRef) })
	})

	body, err := c.post(ctx, "/verify", e.Bytes())
	if err != nil {
		return nil, &Error{Op: "verify", StatusCode: statusOf(err), Err: err}
	}
	v, err := decodeVerification(body)
	if err != nil {
		return nil, &Error{Op: "verify", Err: err}
	}
	return v, nil
}

// statusError carries a non-2xx HTTP status out of post.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "unexpected response: " + e.body
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &statusError{code: resp.StatusCode, body: snippet}
	}
	return body, nil
}
