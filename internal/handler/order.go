package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/gateway"
)

// decodeCheckout reads a checkout request. Unknown fields, including any
// client supplied amount, are skipped.
func decodeCheckout(data []byte) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			req.ProductID, err = d.Str()
		case "couponCode":
			req.CouponCode, err = optStr(d)
		case "userId":
			req.UserID, err = optStr(d)
		case "customer":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "name":
					req.Customer.Name, err = d.Str()
				case "phone":
					req.Customer.Phone, err = d.Str()
				case "email":
					req.Customer.Email, err = optStr(d)
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
	return req, err
}

// Checkout creates an order and returns the gateway checkout URL.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := decodeCheckout(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.orders.Checkout(ctx, req)
	if err != nil {
		h.checkoutError(w, r, err)
		return
	}
	o := res.Order
	zctx.From(ctx).Info("Order created",
		zap.String("transaction_id", o.TransactionID),
		zap.String("product_id", o.ProductID),
		zap.String("amount", o.Amount.StringFixed(2)),
	)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("transactionId", func(e *jx.Encoder) { e.Str(o.TransactionID) })
		e.Field("checkoutUrl", func(e *jx.Encoder) { e.Str(res.CheckoutURL) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(o.Amount.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
	})
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) checkoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound  *order.ProductNotFoundError
		badCoupon *order.InvalidCouponError
	)
	switch {
	case errors.Is(err, order.ErrEmptyProduct), errors.Is(err, order.ErrMissingCustomer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &badCoupon):
		writeError(w, http.StatusUnprocessableEntity, badCoupon.Reason.Message())
	case errors.Is(err, gateway.ErrGateway):
		zctx.From(r.Context()).Warn("Payment initiation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		internalError(r.Context(), w, "Checkout", err)
	}
}
