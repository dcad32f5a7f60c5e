package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/settlement"
	"github.com/xenking/storefront/internal/gateway"
)

// Redirect status values sent to the checkout page.
const (
	StatusInvalidCallback    = "invalid_callback"
	StatusVerificationFailed = "verification_failed"
	StatusOrderNotFound      = "order_not_found"
	StatusGatewayError       = "gateway_error"
	StatusProcessingError    = "processing_error"
	StatusCancelled          = "cancelled"
)

// gatewayRefParams are the accepted names of the gateway payment id.
var gatewayRefParams = []string{"transaction_id", "payment_id"}

// PaymentSuccess settles the order named by the callback and redirects the
// customer. The redirect itself is untrusted; Settle verifies with the
// gateway.
func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := settlement.Callback{TransactionID: strings.TrimSpace(q.Get("order_id"))}
	for _, name := range gatewayRefParams {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			cb.GatewayRef = v
			break
		}
	}

	out, err := h.settler.Settle(r.Context(), cb)
	if err != nil {
		status := callbackStatus(err)
		lg := zctx.From(r.Context()).With(
			zap.String("transaction_id", cb.TransactionID),
			zap.String("gateway_ref", cb.GatewayRef),
			zap.String("redirect_status", status),
			zap.Error(err),
		)
		switch status {
		case StatusInvalidCallback, StatusVerificationFailed, StatusOrderNotFound:
			lg.Warn("Payment callback rejected")
		default:
			lg.Error("Payment callback failed")
		}
		redirect(w, r, h.checkoutURL, url.Values{
			"status":   {status},
			"order_id": {cb.TransactionID},
		})
		return
	}

	redirect(w, r, h.dashboardURL, url.Values{
		"order_id": {out.Order.TransactionID},
		"status":   {string(out.Order.Status)},
	})
}

// callbackStatus maps a settlement error to a coarse redirect status.
func callbackStatus(err error) string {
	switch {
	case errors.Is(err, settlement.ErrInvalidCallback):
		return StatusInvalidCallback
	case errors.Is(err, settlement.ErrVerificationFailed):
		return StatusVerificationFailed
	case errors.Is(err, settlement.ErrOrderNotFound):
		return StatusOrderNotFound
	case errors.Is(err, gateway.ErrGateway):
		return StatusGatewayError
	default:
		return StatusProcessingError
	}
}

// PaymentCancel redirects a customer who abandoned payment. It never changes
// order state since anyone can call it.
func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	redirect(w, r, h.checkoutURL, url.Values{
		"status":   {StatusCancelled},
		"order_id": {strings.TrimSpace(r.URL.Query().Get("order_id"))},
	})
}
