package members

import (
	"strings"

	"gymbot-backend/lib/textutil"

	"github.com/antzucaro/matchr"
)

// nameSimilarity is the Jaro-Winkler score above which two normalized names
// are considered a fuzzy match, which ranks below any exact email or phone.
const nameSimilarity = 0.94

// Candidate is one person offered by ClubOS for a search.
type Candidate struct {
	Id string
	// Name is normalized, it is empty if ClubOS did not provide one.
	Name string
	// Text is the lowercased visible text of the entry.
	Text string
}

type matchKind int

const (
	matchNone matchKind = iota
	matchFuzzyName
	matchPhone
	matchEmail
	matchName
)

func nameMatches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return want == got || strings.Contains(got, want)
}

func fuzzyNameMatches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return matchr.JaroWinkler(want, got, false) >= nameSimilarity
}

// bestMatch returns the kind of the strongest criterion the candidate satisfies.
func bestMatch(ref NormalizedRef, c Candidate) matchKind {
	name := c.Name
	if name == "" {
		name = textutil.NormalizeName(c.Text)
	}
	switch {
	case nameMatches(ref.Name, name):
		return matchName
	case ref.Email != "" && strings.Contains(c.Text, ref.Email):
		return matchEmail
	case ref.Phone != "" && strings.Contains(textutil.Digits(c.Text), ref.Phone):
		return matchPhone
	case fuzzyNameMatches(ref.Name, name):
		return matchFuzzyName
	}
	return matchNone
}

// pick returns the first exact name match, else the first email match, else the
// first phone match, else the first fuzzy name match among candidates that have
// an id.
func pick(ref NormalizedRef, candidates []Candidate) (string, bool) {
	best := matchNone
	var id string
	for _, c := range candidates {
		if c.Id == "" {
			continue
		}
		kind := bestMatch(ref, c)
		if kind > best {
			best = kind
			id = c.Id
		}
		if best == matchName {
			break
		}
	}
	return id, best != matchNone
}
