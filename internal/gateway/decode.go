package gateway

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// maxDepth bounds how deep nested objects are flattened.
const maxDepth = 3

var (
	checkoutURLKeys = []string{
		"checkout_url", "checkoutUrl", "payment_url", "paymentUrl",
		"redirect_url", "redirectUrl", "url",
	}
	statusKeys = []string{
		"status", "payment_status", "paymentStatus", "state",
	}
	merchantTxKeys = []string{
		"metadata.transaction_id", "metadata.transactionId",
		"merchant_transaction_id", "merchantTransactionId",
	}
	amountKeys  = []string{"amount", "total_amount", "totalAmount"}
	successKeys = []string{"success"}
	// containers are checked after the top level, in order.
	containers = []string{"", "data.", "result.", "payment."}
)

// scalar is a flattened JSON leaf.
type scalar struct {
	typ jx.Type
	str string
	b   bool
}

type fields map[string]scalar

func (f fields) str(keys []string) (string, bool) {
	for _, prefix := range containers {
		for _, k := range keys {
			v, ok := f[prefix+k]
			if !ok {
				continue
			}
			if (v.typ == jx.String || v.typ == jx.Number) && v.str != "" {
				return v.str, true
			}
		}
	}
	return "", false
}

func (f fields) flag(keys []string) (value, ok bool) {
	for _, prefix := range containers {
		for _, k := range keys {
			if v, found := f[prefix+k]; found && v.typ == jx.Bool {
				return v.b, true
			}
		}
	}
	return false, false
}

// flatten decodes a JSON object into dotted-path leaves.
func flatten(data []byte) (fields, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errors.New("response is not a JSON object")
	}
	out := make(fields)
	if err := flattenObj(d, "", 0, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenObj(d *jx.Decoder, prefix string, depth int, out fields) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		name := prefix + string(key)
		switch t := d.Next(); t {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			out[name] = scalar{typ: t, str: s}
		case jx.Number:
			n, err := d.Num()
			if err != nil {
				return err
			}
			out[name] = scalar{typ: t, str: strings.Trim(n.String(), `"`)}
		case jx.Bool:
			b, err := d.Bool()
			if err != nil {
				return err
			}
			out[name] = scalar{typ: t, b: b}
		case jx.Object:
			if depth+1 >= maxDepth {
				return d.Skip()
			}
			return flattenObj(d, name+".", depth+1, out)
		default:
			return d.Skip()
		}
		return nil
	})
}

// decodeCheckout extracts the checkout URL from any known response shape.
func decodeCheckout(data []byte) (*Checkout, error) {
	f, err := flatten(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode checkout")
	}
	u, ok := f.str(checkoutURLKeys)
	if !ok {
		return nil, errors.New("checkout url missing from response")
	}
	return &Checkout{URL: u, Raw: data}, nil
}

// decodeVerification maps any known verify response shape to a Verification.
func decodeVerification(data []byte) (*Verification, error) {
	f, err := flatten(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode verification")
	}

	v := &Verification{Status: StatusUnknown, Raw: data}
	if s, ok := f.str(statusKeys); ok {
		v.GatewayStatus = s
		v.Status = normalizeStatus(s)
	} else if ok, found := f.flag(successKeys); found {
		// The success flag is consulted only when no status text is present.
		if ok {
			v.Status = StatusCompleted
		} else {
			v.Status = StatusFailed
		}
	}
	if tx, ok := f.str(merchantTxKeys); ok {
		v.TransactionID = tx
	}
	if a, ok := f.str(amountKeys); ok {
		amount, err := decimal.NewFromString(a)
		if err != nil {
			return nil, errors.Wrapf(err, "parse amount %q", a)
		}
		v.Amount = &amount
	}
	return v, nil
}

func normalizeStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED":
		return StatusCompleted
	case "FAILED", "FAILURE", "CANCELLED", "CANCELED", "DECLINED", "EXPIRED", "REJECTED":
		return StatusFailed
	case "PENDING", "PROCESSING", "INITIATED", "CREATED":
		return StatusPending
	default:
		return StatusUnknown
	}
}
