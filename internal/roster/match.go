package roster

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the minimum fuzzy score (0-100) for a roster match.
const DefaultThreshold = 85.0

var (
	// ErrMatchNotFound means no roster entry matched exactly or scored at or above threshold.
	ErrMatchNotFound = eris.New("roster: no match")

	// ErrMatchAmbiguous marks a top score shared by several entries. The first entry in
	// roster order is still returned alongside it.
	ErrMatchAmbiguous = eris.New("roster: ambiguous match")
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9 ]+`)
	multiSpace = regexp.MustCompile(`\s{2,}`)
)

// Match describes a roster hit.
type Match struct {
	Entry Entry
	Index int
	Score float64
	Exact bool
}

// Matcher finds roster entries for tag-derived addresses.
type Matcher struct {
	roster     Roster
	normalized []string
	exact      map[string]int
	threshold  float64
}

// NewMatcher indexes a roster for matching. A threshold <= 0 selects DefaultThreshold.
func NewMatcher(r Roster, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Matcher{
		roster:     r,
		normalized: make([]string, len(r)),
		exact:      make(map[string]int, len(r)),
		threshold:  threshold,
	}
	for i, e := range r {
		m.normalized[i] = Normalize(e.Address)
		if _, dup := m.exact[e.Address]; !dup {
			m.exact[e.Address] = i
		}
	}
	return m
}

// Len returns the number of roster entries.
func (m *Matcher) Len() int { return len(m.roster) }

// Find returns the exact match for addr if one exists, otherwise the highest-scoring entry
// at or above threshold. Fuzzy candidates must agree on the leading house number when both
// carry one. Ties go to the earliest roster entry. The returned error is
// ErrMatchNotFound when nothing qualifies, and ErrMatchAmbiguous (with a usable Match)
// when the best score was tied.
func (m *Matcher) Find(addr string) (Match, error) {
	if addr == "" || len(m.roster) == 0 {
		return Match{}, ErrMatchNotFound
	}

	if i, ok := m.exact[addr]; ok {
		return Match{Entry: m.roster[i], Index: i, Score: 100, Exact: true}, nil
	}

	target := Normalize(addr)
	if target == "" {
		return Match{}, ErrMatchNotFound
	}

	best := -1
	bestScore := -1.0
	tied := false
	targetNumber := houseNumber(target)
	for i, candidate := range m.normalized {
		// A different house number is a different door, however close the street.
		if n := houseNumber(candidate); n != "" && targetNumber != "" && n != targetNumber {
			continue
		}
		score := Score(target, candidate)
		switch {
		case score > bestScore:
			best, bestScore, tied = i, score, false
		case score == bestScore:
			tied = true
		}
	}

	if best < 0 || bestScore < m.threshold {
		return Match{}, ErrMatchNotFound
	}

	match := Match{Entry: m.roster[best], Index: best, Score: bestScore}
	if tied {
		zap.L().Debug("roster: tied fuzzy match, keeping first in roster order",
			zap.String("address", addr),
			zap.String("match", match.Entry.Address),
			zap.Float64("score", bestScore),
		)
		return match, ErrMatchAmbiguous
	}
	return match, nil
}

// Score returns the similarity of two normalized strings on a 0-100 scale.
func Score(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	return 100 * levenshtein.Similarity(a, b, nil)
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Normalize lowercases, strips diacritics and punctuation and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	out = nonAlnum.ReplaceAllString(out, " ")
	out = multiSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// houseNumber returns the leading token of a normalized address when it starts with a digit.
func houseNumber(normalized string) string {
	tok, _, _ := strings.Cut(normalized, " ")
	if tok == "" || tok[0] < '0' || tok[0] > '9' {
		return ""
	}
	return tok
}
