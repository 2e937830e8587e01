// Package waybill holds the rules for the human-assigned tracking number.
package waybill

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Canonical format: CRY-###-####, always upper case.
var formatRe = regexp.MustCompile(`^CRY-\d{3}-\d{4}$`)

// ErrInvalidFormat carries the exact message shown to staff on a rejected write.
var ErrInvalidFormat = errors.New("Invalid waybill number format. Expected CRY-123-4567")

// legacyUnassigned is the sentinel older rows used instead of NULL.
const legacyUnassigned = "not-assigned"

// Normalize trims the input, folds Unicode hyphen/minus variants to ASCII '-',
// strips internal whitespace and upper-cases the rest. Idempotent.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case (r >= '\u2010' && r <= '\u2015') || r == '\u2212':
			b.WriteRune('-')
		case unicode.IsSpace(r):
			// dropped
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Validate reports whether s is a well-formed waybill number.
// Callers are expected to Normalize first.
func Validate(s string) bool {
	return formatRe.MatchString(s)
}

// Parse normalizes raw and returns the canonical number, or ErrInvalidFormat.
func Parse(raw string) (string, error) {
	n := Normalize(raw)
	if !Validate(n) {
		return "", ErrInvalidFormat
	}
	return n, nil
}

// Assignment is an optional waybill number. The zero value means
// "not assigned yet"; staff assign a number later.
type Assignment struct {
	number string
}

// Assign parses raw into an Assignment, rejecting malformed input.
func Assign(raw string) (Assignment, error) {
	n, err := Parse(raw)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{number: n}, nil
}

// Assigned reports whether a number has been set.
func (a Assignment) Assigned() bool { return a.number != "" }

// Number returns the canonical number and whether one is assigned.
func (a Assignment) Number() (string, bool) { return a.number, a.number != "" }

// String returns the number, or the legacy sentinel when unassigned.
// Display-only; storage should use EncodeLegacy.
func (a Assignment) String() string { return EncodeLegacy(a) }

// EncodeLegacy renders the sentinel older consumers still expect.
func EncodeLegacy(a Assignment) string {
	if a.number == "" {
		return legacyUnassigned
	}
	return a.number
}

// DecodeLegacy turns a stored value back into an Assignment. Empty strings and
// the legacy sentinel both decode as unassigned; anything else is kept verbatim
// after normalization, even if it predates format validation.
func DecodeLegacy(s string) Assignment {
	n := Normalize(s)
	if n == "" || strings.EqualFold(n, legacyUnassigned) {
		return Assignment{}
	}
	return Assignment{number: n}
}
