// Package sanctions screens names against a sanctions source.
package sanctions

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrUnavailable is returned when the sanctions source cannot be
	// consulted.
	ErrUnavailable = errors.New("sanctions source unavailable")

	// ErrEmptyName is returned when asked to screen an empty name.
	ErrEmptyName = errors.New("name to screen is empty")
)

// Match is the outcome of screening one name.
type Match struct {
	// Sanctioned is set if the name matched an entry of the source.
	Sanctioned bool

	// MatchedEntity is the listed name that matched.
	MatchedEntity fn.Option[string]
}

// Screener checks a name against a sanctions source.
type Screener interface {
	// Check screens the name.
	Check(ctx context.Context, name string) (*Match, error)
}

// NoMatch is the result for a name that is not listed.
var NoMatch = Match{MatchedEntity: fn.None[string]()}

// foldCase lower cases with full Unicode case folding.
var foldCase = cases.Fold()

// Normalize reduces a name to the form that is compared: diacritics are
// removed, case is folded, punctuation becomes whitespace and whitespace
// runs collapse to one space.
func Normalize(name string) string {
	t := transform.Chain(
		norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC,
	)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}

	folded := foldCase.String(stripped)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	return strings.Join(fields, " ")
}

// tokenKey returns the normalized name with its words sorted, so that
// "Doe, John" and "John Doe" compare equal.
func tokenKey(normalized string) string {
	tokens := strings.Fields(normalized)
	sort.Strings(tokens)

	return strings.Join(tokens, " ")
}
