package escrow

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeArtist folds an artist name into the key allocations are matched
// on. Diacritics are stripped, case is folded and runs of whitespace collapse
// to a single space, so "  Beyoncé  Knowles" and "beyonce knowles" agree.
func NormalizeArtist(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// MatchCriteria narrows a name match using platform identifiers. With no
// identifiers every allocation under the name matches; with identifiers
// only allocations carrying an agreeing identifier do.
type MatchCriteria struct {
	ExternalIDs map[string]string
}

// Matches reports whether a may be claimed under c. When c carries
// identifiers, at least one platform must agree and none may conflict, so
// an allocation without identifiers is not claimable.
func (c MatchCriteria) Matches(a *Allocation) bool {
	if len(c.ExternalIDs) == 0 {
		return true
	}
	if len(a.ExternalIDs) == 0 {
		return false
	}

	agreed := false
	for platform, want := range c.ExternalIDs {
		got, ok := a.ExternalIDs[platform]
		if !ok || want == "" || got == "" {
			continue
		}
		if got != want {
			return false
		}
		agreed = true
	}
	return agreed
}
