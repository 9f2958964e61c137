package partner

import (
	"time"

	"github.com/orderingest/core/internal/apperr"
)

// bValidator implements Validator for partner B's wire shape.
type bValidator struct{}

func (bValidator) Validate(raw RawPayload) (any, []apperr.FieldError) {
	c := &fieldCollector{}
	m, ok := c.asMapping(raw)
	if !ok {
		return nil, c.errs
	}

	transactionID, _ := c.requireString(m, "transactionId")
	itemCode, _ := c.requireString(m, "itemCode")
	clientID, _ := c.requireString(m, "clientId")
	qty, _ := c.requirePositiveInt(m, "qty")
	price, _ := c.requirePositivePrice(m, "price")
	tax, _ := c.requireRange(m, "tax", 0, 100)
	purchaseTime, ptOK := c.requireString(m, "purchaseTime")

	if ptOK {
		if _, err := time.Parse(time.RFC3339, purchaseTime); err != nil {
			c.add(apperr.FieldError{Field: "purchaseTime", Code: apperr.CodeInvalidTimestamp, Message: "purchaseTime is not a parseable ISO-8601 instant", ReceivedValue: purchaseTime})
		}
	}

	notes, hasNotes := optionalString(m, "notes")

	if !c.valid() {
		return nil, c.errs
	}

	return BInput{
		TransactionID: transactionID,
		ItemCode:      itemCode,
		ClientID:      clientID,
		Qty:           qty,
		Price:         price,
		Tax:           tax,
		PurchaseTime:  purchaseTime,
		Notes:         notes,
		HasNotes:      hasNotes,
	}, nil
}
