package partner

import (
	"time"

	"github.com/orderingest/core/internal/apperr"
)

// plausibilityFloor is the earliest transaction instant accepted from
// partner A.
var plausibilityFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// plausibilityYears is how far into the future a partner A timestamp may
// sit before it is rejected.
const plausibilityYears = 100

// aValidator implements Validator for partner A's wire shape.
type aValidator struct{}

func (aValidator) Validate(raw RawPayload) (any, []apperr.FieldError) {
	c := &fieldCollector{}
	m, ok := c.asMapping(raw)
	if !ok {
		return nil, c.errs
	}

	orderID, _ := c.requireString(m, "orderId")
	skuID, _ := c.requireString(m, "skuId")
	customerID, _ := c.requireString(m, "customerId")
	quantity, _ := c.requirePositiveInt(m, "quantity")
	unitPrice, _ := c.requirePositivePrice(m, "unitPrice")
	taxRate, _ := c.requireRange(m, "taxRate", 0, 1)
	txMs, txOK := c.requireNumber(m, "transactionTimeMs")

	if txOK {
		if txMs != float64(int64(txMs)) {
			c.add(apperr.FieldError{Field: "transactionTimeMs", Code: apperr.CodeInvalidDataType, Message: "transactionTimeMs must be an integer", ReceivedValue: txMs, ExpectedType: "integer"})
		} else {
			t := time.UnixMilli(int64(txMs)).UTC()
			ceiling := time.Now().UTC().AddDate(plausibilityYears, 0, 0)
			if t.Before(plausibilityFloor) || t.After(ceiling) {
				c.add(apperr.FieldError{Field: "transactionTimeMs", Code: apperr.CodeInvalidTimestamp, Message: "transactionTimeMs is outside the plausible window", ReceivedValue: txMs})
			}
		}
	}

	metadata, hasMetadata := optionalMapping(m, "metadata")

	if !c.valid() {
		return nil, c.errs
	}

	in := AInput{
		OrderID:           orderID,
		SkuID:             skuID,
		CustomerID:        customerID,
		Quantity:          quantity,
		UnitPrice:         unitPrice,
		TaxRate:           taxRate,
		TransactionTimeMs: int64(txMs),
	}
	if hasMetadata {
		in.Metadata = metadata
	}
	return in, nil
}

// valid reports whether no errors have been collected so far. Named to read
// naturally at the call sites, in both validators, that gate building the
// typed value.
func (c *fieldCollector) valid() bool {
	return len(c.errs) == 0
}
