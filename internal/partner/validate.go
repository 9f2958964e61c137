package partner

import (
	"math"
	"strings"

	"github.com/orderingest/core/internal/apperr"
)

// fieldCollector accumulates FieldErrors across an entire payload without
// ever short-circuiting the whole validation: a failure on one field never
// stops the others from being checked.
type fieldCollector struct {
	errs []apperr.FieldError
}

func (c *fieldCollector) add(e apperr.FieldError) {
	c.errs = append(c.errs, e)
}

// asMapping performs the root check: the payload must be a mapping, not
// null, not a list, not a scalar. On failure it records a root-level
// FieldError and returns (nil, false).
func (c *fieldCollector) asMapping(raw RawPayload) (map[string]any, bool) {
	if raw == nil {
		c.add(apperr.FieldError{Field: "$", Code: apperr.CodeNullValue, Message: "payload must not be null"})
		return nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		c.add(apperr.FieldError{Field: "$", Code: apperr.CodeInvalidDataType, Message: "payload must be a JSON object", ReceivedValue: raw, ExpectedType: "mapping"})
		return nil, false
	}
	return m, true
}

// requireString extracts a required string field, trims it, and rejects
// missing/null/wrong-type/empty values. It returns ("", false) if the field
// could not be used at all (caller should skip further checks on it); the
// corresponding FieldError has already been recorded.
func (c *fieldCollector) requireString(raw map[string]any, field string) (string, bool) {
	v, present := raw[field]
	if !present {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeMissingRequiredField, Message: field + " is required"})
		return "", false
	}
	if v == nil {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeNullValue, Message: field + " must not be null"})
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeInvalidDataType, Message: field + " must be a string", ReceivedValue: v, ExpectedType: "string"})
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeInvalidValue, Message: field + " must not be empty or whitespace", ReceivedValue: v})
		return "", false
	}
	return trimmed, true
}

// optionalString extracts an optional string field. Presence is reported via
// the second return value; absence is not an error.
func optionalString(raw map[string]any, field string) (string, bool) {
	v, present := raw[field]
	if !present || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return "", false
}

// optionalMapping extracts an optional free-form mapping field.
func optionalMapping(raw map[string]any, field string) (map[string]any, bool) {
	v, present := raw[field]
	if !present || v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	return nil, false
}

// requireNumber extracts a required numeric field. JSON decoding into
// map[string]any yields float64 for every JSON number, so that is the only
// numeric representation we need to accept here.
func (c *fieldCollector) requireNumber(raw map[string]any, field string) (float64, bool) {
	v, present := raw[field]
	if !present {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeMissingRequiredField, Message: field + " is required"})
		return 0, false
	}
	if v == nil {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeNullValue, Message: field + " must not be null"})
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeInvalidDataType, Message: field + " must be a number", ReceivedValue: v, ExpectedType: "number"})
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeNotANumber, Message: field + " must be a finite number", ReceivedValue: v})
		return 0, false
	}
	return f, true
}

// requirePositiveInt extracts a required field that must be a positive
// (>0) integer-valued number.
func (c *fieldCollector) requirePositiveInt(raw map[string]any, field string) (int64, bool) {
	f, ok := c.requireNumber(raw, field)
	if !ok {
		return 0, false
	}
	if f != math.Trunc(f) {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeInvalidDataType, Message: field + " must be an integer", ReceivedValue: f, ExpectedType: "integer"})
		return 0, false
	}
	n := int64(f)
	if n == 0 {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeZeroValue, Message: field + " must be greater than zero", ReceivedValue: f})
		return 0, false
	}
	if n < 0 {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeNegativeNumber, Message: field + " must be positive", ReceivedValue: f})
		return 0, false
	}
	return n, true
}

// requirePositivePrice extracts a required field that must be a strictly
// positive number (not necessarily an integer).
func (c *fieldCollector) requirePositivePrice(raw map[string]any, field string) (float64, bool) {
	f, ok := c.requireNumber(raw, field)
	if !ok {
		return 0, false
	}
	if f == 0 {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeZeroValue, Message: field + " must be greater than zero", ReceivedValue: f})
		return 0, false
	}
	if f < 0 {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeNegativeNumber, Message: field + " must be positive", ReceivedValue: f})
		return 0, false
	}
	return f, true
}

// requireRange extracts a required numeric field and checks it falls in
// [min, max] inclusive.
func (c *fieldCollector) requireRange(raw map[string]any, field string, min, max float64) (float64, bool) {
	f, ok := c.requireNumber(raw, field)
	if !ok {
		return 0, false
	}
	if f < min || f > max {
		c.add(apperr.FieldError{Field: field, Code: apperr.CodeInvalidValue, Message: field + " is out of range", ReceivedValue: f})
		return 0, false
	}
	return f, true
}
