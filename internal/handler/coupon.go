package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// ValidateCoupon reports whether a coupon code can be used right now.
// A rejected code is a 200 response with valid=false.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var code string
	if err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) == "code" {
			var err error
			code, err = optStr(d)
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.coupons.Validate(r.Context(), code)
	if err != nil {
		internalError(r.Context(), w, "Validate coupon", err)
		return
	}
	writeCouponResult(w, res)
}

func writeCouponResult(w http.ResponseWriter, res *coupon.Result) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(res.Valid) })
		if !res.Valid {
			e.Field("message", func(e *jx.Encoder) { e.Str(res.Reason.Message()) })
			e.Field("reason", func(e *jx.Encoder) { e.Str(string(res.Reason)) })
			return
		}
		e.Field("message", func(e *jx.Encoder) { e.Str("Coupon is valid") })
		e.Field("coupon", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(res.Code) })
				e.Field("discountType", func(e *jx.Encoder) { e.Str(string(res.Discount.Type)) })
				e.Field("discountAmount", func(e *jx.Encoder) { e.Str(res.Discount.Amount.String()) })
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}
