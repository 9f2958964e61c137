// Package feed implements the ingestion coordinator: validate, sequence,
// normalize, and publish for one or many raw partner payloads, wrapped in
// tracing spans and acceptance/rejection counters. It is the sole write
// path into the system.
package feed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/normalize"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
	"github.com/orderingest/core/internal/sequence"
	"github.com/orderingest/core/internal/streambus"
)

const tracerName = "github.com/orderingest/core/internal/feed"

// Result is the outcome of processing one payload.
type Result struct {
	Success        bool
	PartnerID      partner.ID
	OrderID        string
	SequenceNumber int64
	Errors         []apperr.FieldError
}

// DuplicateChecker is the subset of orderrepo.Repository the duplicate
// check needs. A narrow local interface keeps feed decoupled from the
// storage package; orderrepo.Repository satisfies it structurally.
type DuplicateChecker interface {
	ExistsByExternalID(ctx context.Context, externalID string, partnerID partner.ID) (bool, error)
}

// Coordinator wires the validator registry, the sequence generator, the
// normalizer, and the stream bus together behind ProcessSingle/ProcessBatch.
type Coordinator struct {
	sequences        *sequence.Generator
	bus              streambus.Bus
	clock            func() time.Time
	dupChecker       DuplicateChecker
	rejectDuplicates bool

	tracer   trace.Tracer
	accepted metric.Int64Counter
	rejected metric.Int64Counter
}

// Option configures optional Coordinator behavior.
type Option func(*Coordinator)

// WithDuplicateRejection makes ProcessSingle check checker.ExistsByExternalID
// before allocating a sequence number, rejecting with CodeDuplicateOrder
// instead of silently accepting a repeat (partnerId, externalOrderId) pair.
func WithDuplicateRejection(checker DuplicateChecker) Option {
	return func(c *Coordinator) {
		c.dupChecker = checker
		c.rejectDuplicates = true
	}
}

// New constructs a Coordinator. meter may be nil, in which case the
// counters come from the global OTel MeterProvider (a no-op until one is
// installed).
func New(sequences *sequence.Generator, bus streambus.Bus, meter metric.Meter, opts ...Option) *Coordinator {
	c := &Coordinator{
		sequences: sequences,
		bus:       bus,
		clock:     func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(tracerName)
	}
	c.accepted, _ = meter.Int64Counter("orders_accepted_total",
		metric.WithDescription("orders accepted by the feed coordinator"))
	c.rejected, _ = meter.Int64Counter("orders_rejected_total",
		metric.WithDescription("orders rejected by the feed coordinator"))
	return c
}

// ProcessSingle validates the payload and, on success, allocates the next
// per-partner sequence number, normalizes, and publishes a VALID_ORDER
// event; on failure it publishes an ERROR_ORDER event instead. A sequence
// number is consumed only after validation succeeds — a rejected payload
// never burns one.
func (c *Coordinator) ProcessSingle(ctx context.Context, partnerID partner.ID, raw partner.RawPayload) Result {
	ctx, span := c.tracer.Start(ctx, "feed.ProcessSingle", trace.WithAttributes(
		attribute.String("partner.id", partnerID.String()),
	))
	defer span.End()

	validator, ok := partner.Lookup(partnerID)
	if !ok {
		span.SetStatus(codes.Error, "unknown partner")
		return c.reject(ctx, partnerID, "", []apperr.FieldError{{
			Field: "partnerId", Code: apperr.CodeUnknownPartner, Message: "unknown partner id",
		}}, raw)
	}

	typed, errs := validator.Validate(raw)
	orderID := externalOrderID(raw)
	if len(errs) > 0 {
		span.SetAttributes(attribute.Int("errors.count", len(errs)))
		return c.reject(ctx, partnerID, orderID, errs, raw)
	}

	if c.rejectDuplicates && c.dupChecker != nil && orderID != "" {
		exists, err := c.dupChecker.ExistsByExternalID(ctx, orderID, partnerID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return c.reject(ctx, partnerID, orderID, []apperr.FieldError{{
				Field: "$", Code: apperr.CodeInternalError, Message: err.Error(),
			}}, raw)
		}
		if exists {
			span.SetAttributes(attribute.Bool("order.duplicate", true))
			return c.reject(ctx, partnerID, orderID, []apperr.FieldError{{
				Field: "orderId", Code: apperr.CodeDuplicateOrder, Message: "order already ingested for this partner",
			}}, raw)
		}
	}

	seq, err := c.sequences.Next(partnerID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return c.reject(ctx, partnerID, orderID, []apperr.FieldError{{
			Field: "$", Code: apperr.CodeInternalError, Message: err.Error(),
		}}, raw)
	}

	ev, err := normalize.Normalize(partnerID, typed, seq, c.clock())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return c.reject(ctx, partnerID, orderID, []apperr.FieldError{{
			Field: "$", Code: apperr.CodeTransformationError, Message: err.Error(),
		}}, raw)
	}

	c.bus.Emit(ctx, streambus.KindValidOrder, ValidOrderPayload{
		OrderEvent: ev,
		ReceivedAt: c.clock(),
	})
	if c.accepted != nil {
		c.accepted.Add(ctx, 1, metric.WithAttributes(attribute.String("partner.id", partnerID.String())))
	}
	span.SetAttributes(attribute.Int64("sequence.number", seq))

	return Result{
		Success:        true,
		PartnerID:      partnerID,
		OrderID:        ev.ExternalOrderID,
		SequenceNumber: seq,
	}
}

// ProcessBatch applies ProcessSingle element-wise, in order. Partial
// failure does not abort the batch, so per-partner sequence numbers stay
// contiguous across the successful subset.
func (c *Coordinator) ProcessBatch(ctx context.Context, partnerID partner.ID, raws []partner.RawPayload) []Result {
	ctx, span := c.tracer.Start(ctx, "feed.ProcessBatch", trace.WithAttributes(
		attribute.String("partner.id", partnerID.String()),
		attribute.Int("batch.size", len(raws)),
	))
	defer span.End()

	results := make([]Result, len(raws))
	for i, raw := range raws {
		results[i] = c.ProcessSingle(ctx, partnerID, raw)
	}
	return results
}

func (c *Coordinator) reject(ctx context.Context, partnerID partner.ID, orderID string, errs []apperr.FieldError, raw partner.RawPayload) Result {
	var externalID *string
	if orderID != "" {
		externalID = &orderID
	}
	c.bus.Emit(ctx, streambus.KindErrorOrder, ErrorOrderPayload{
		PartnerID:       partnerID,
		ExternalOrderID: externalID,
		Errors:          errs,
		RawInput:        raw,
		Timestamp:       c.clock(),
	})
	if c.rejected != nil {
		c.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("partner.id", partnerID.String())))
	}
	return Result{
		Success:   false,
		PartnerID: partnerID,
		OrderID:   orderID,
		Errors:    errs,
	}
}

// externalOrderID extracts a best-effort external id from a raw payload
// for error reporting: the id field is picked up if it exists as a string,
// otherwise the error event omits it.
func externalOrderID(raw partner.RawPayload) string {
	m, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"orderId", "transactionId"} {
		if v, ok := m[key].(string); ok {
			return v
		}
	}
	return ""
}

// ValidOrderPayload is the VALID_ORDER event payload.
type ValidOrderPayload struct {
	OrderEvent *order.Event `json:"orderEvent"`
	ReceivedAt time.Time    `json:"receivedAt"`
}

// ErrorOrderPayload is the ERROR_ORDER event payload.
type ErrorOrderPayload struct {
	PartnerID       partner.ID          `json:"partnerId"`
	ExternalOrderID *string             `json:"originalOrderId,omitempty"`
	Errors          []apperr.FieldError `json:"errors"`
	RawInput        any                 `json:"rawInput"`
	Timestamp       time.Time           `json:"timestamp"`
}
