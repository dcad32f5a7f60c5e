package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// GetOrder returns an order with its raw gateway response.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("transactionId"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	writeOrder(w, o)
}

// FulfillOrder completes a paid order that is waiting for manual delivery.
func (h *Handler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var content order.DeliveredContent
	if err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "downloadLink":
			content.DownloadLink, err = optStr(d)
		case "accessNotes":
			content.AccessNotes, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.Fulfill(r.Context(), r.PathValue("transactionId"), content)
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Order fulfilled", zap.String("transaction_id", o.TransactionID))
	writeOrder(w, o)
}

// CancelOrder cancels an unpaid pending order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), r.PathValue("transactionId"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Order cancelled", zap.String("transaction_id", o.TransactionID))
	writeOrder(w, o)
}

func (h *Handler) adminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrEmptyDelivery):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		internalError(r.Context(), w, "Admin order operation", err)
	}
}

func writeOrder(w http.ResponseWriter, o *order.Order) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("transactionId", func(e *jx.Encoder) { e.Str(o.TransactionID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(o.ProductID) })
		if o.UserID != "" {
			e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		}
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(o.Customer.Phone) })
				if o.Customer.Email != "" {
					e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
				}
			})
		})
		e.Field("amount", func(e *jx.Encoder) { e.Str(o.Amount.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		if dc := o.DeliveredContent; dc != nil {
			e.Field("deliveredContent", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("downloadLink", func(e *jx.Encoder) { e.Str(dc.DownloadLink) })
					e.Field("accessNotes", func(e *jx.Encoder) { e.Str(dc.AccessNotes) })
				})
			})
		}
		if o.GatewayRef != "" {
			e.Field("gatewayRef", func(e *jx.Encoder) { e.Str(o.GatewayRef) })
		}
		if raw := strings.TrimSpace(string(o.GatewayResponse)); raw != "" {
			e.Field("gatewayResponse", func(e *jx.Encoder) {
				if jx.Valid([]byte(raw)) {
					e.Raw([]byte(raw))
				} else {
					e.Str(raw)
				}
			})
		}
		if !o.CreatedAt.IsZero() {
			e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		}
		if !o.UpdatedAt.IsZero() {
			e.Field("updatedAt", func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339)) })
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
