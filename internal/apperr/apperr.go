// Package apperr centralizes the error taxonomy shared by validation,
// ingestion, and the query surface.
package apperr

// Code is a closed taxonomy of the reasons a payload or operation can fail.
type Code string

const (
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeNullValue            Code = "NULL_VALUE"
	CodeInvalidDataType      Code = "INVALID_DATA_TYPE"
	CodeInvalidValue         Code = "INVALID_VALUE"
	CodeNegativeNumber       Code = "NEGATIVE_NUMBER"
	CodeZeroValue            Code = "ZERO_VALUE"
	CodeNotANumber           Code = "NOT_A_NUMBER"
	CodeInvalidTimestamp     Code = "INVALID_TIMESTAMP"
	CodeFutureTimestamp      Code = "FUTURE_TIMESTAMP"
	CodeDuplicateOrder       Code = "DUPLICATE_ORDER"
	CodeUnknownPartner       Code = "UNKNOWN_PARTNER"
	CodeTransformationError  Code = "TRANSFORMATION_ERROR"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

// FieldError describes a single rejected field within a payload. Validators
// collect every FieldError they find rather than stopping at the first.
type FieldError struct {
	Field         string `json:"field"`
	Code          Code   `json:"code"`
	Message       string `json:"message"`
	ReceivedValue any    `json:"receivedValue,omitempty"`
	ExpectedType  string `json:"expectedType,omitempty"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationResult pairs a typed value with the FieldErrors collected for
// it. Validators return the two separately; internal/httpapi wraps a
// rejected order's errors in a ValidationResult to render them with
// Messages.
type ValidationResult struct {
	Value  any
	Errors []FieldError
}

func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Messages returns each collected error as "field: message" (FieldError.Error),
// the shape the HTTP-facing 422 response body uses.
func (r ValidationResult) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return msgs
}
