// Package persist wires the stream bus to the repositories: two
// streambus.Subscriber functions that save every VALID_ORDER/ERROR_ORDER
// event as it is emitted. Payloads are round-tripped through JSON rather
// than type-asserted directly, since the Redis bus backend only ever
// hands a subscriber the json.Unmarshal of the wire payload — the Local
// backend's payload is already JSON-shaped, so the same decode path
// works unchanged for both (shopspring/decimal and google/uuid both
// implement json.Marshaler/Unmarshaler, so the round trip is lossless).
package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/errorrepo"
	"github.com/orderingest/core/internal/feed"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/orderrepo"
)

func decode[T any](payload any) (*T, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("persist: re-marshal payload: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("persist: decode payload: %w", err)
	}
	return &out, nil
}

// OrderSink returns a subscriber that saves every VALID_ORDER event to repo.
func OrderSink(repo orderrepo.Repository) func(ctx context.Context, payload any) error {
	return func(ctx context.Context, payload any) error {
		p, err := decode[feed.ValidOrderPayload](payload)
		if err != nil {
			return err
		}
		if p.OrderEvent == nil {
			return fmt.Errorf("persist: VALID_ORDER payload missing order event")
		}
		return repo.Save(ctx, p.OrderEvent)
	}
}

// ErrorSink returns a subscriber that saves every ERROR_ORDER event to repo.
func ErrorSink(repo errorrepo.Repository) func(ctx context.Context, payload any) error {
	return func(ctx context.Context, payload any) error {
		p, err := decode[feed.ErrorOrderPayload](payload)
		if err != nil {
			return err
		}
		ev := &order.ErrorEvent{
			PartnerID:       p.PartnerID,
			ExternalOrderID: p.ExternalOrderID,
			ErrorCode:       firstCode(p.Errors),
			Message:         firstMessage(p.Errors),
			Details:         p.Errors,
			OriginalPayload: p.RawInput,
			Timestamp:       p.Timestamp,
		}
		return repo.Save(ctx, ev)
	}
}

// firstCode and firstMessage surface the lead validation failure as the
// ErrorEvent's headline code/message; Details carries the full list.
func firstCode(errs []order.ErrorDetail) apperr.Code {
	if len(errs) == 0 {
		return apperr.CodeInternalError
	}
	return errs[0].Code
}

func firstMessage(errs []order.ErrorDetail) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	return errs[0].Message
}
