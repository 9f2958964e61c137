// Package partner defines the closed set of upstream partners and the
// per-partner validators that turn a RawPayload into a typed input or a
// list of structured field errors.
package partner

import (
	"strings"

	"github.com/orderingest/core/internal/apperr"
)

// ID is a closed enumeration of upstream partners. Nothing outside this
// package and internal/normalize branches on it; adding a partner means
// adding a Validator and a case in normalize.Normalize, not touching the repository,
// bus, or sequence generator.
type ID string

const (
	A ID = "PARTNER_A"
	B ID = "PARTNER_B"
)

// All lists the closed set, used to seed zero-valued per-partner maps in
// statistics so output shape stays stable regardless of which partners
// actually have data.
var All = []ID{A, B}

// ParseID accepts both canonical ("PARTNER_A") and short ("A") forms.
func ParseID(s string) (ID, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PARTNER_A", "A":
		return A, true
	case "PARTNER_B", "B":
		return B, true
	default:
		return "", false
	}
}

func (p ID) String() string { return string(p) }

// RawPayload is the opaque decoded JSON value handed to a Validator. It is
// untyped because the wire payload might not even be a mapping; a Validator
// is responsible for rejecting that case with a root-level FieldError
// before doing anything partner-specific.
type RawPayload = any

// Validator performs the schema check for one partner's wire shape.
type Validator interface {
	Validate(raw RawPayload) (typed any, errs []apperr.FieldError)
}

// registry maps each closed-set ID to its Validator. Built once at package
// init; see a_validator.go / b_validator.go.
var registry = map[ID]Validator{
	A: aValidator{},
	B: bValidator{},
}

// Lookup returns the Validator for a partner, or false if the id is not a
// member of the closed set.
func Lookup(id ID) (Validator, bool) {
	v, ok := registry[id]
	return v, ok
}
