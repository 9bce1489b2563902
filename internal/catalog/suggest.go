package catalog

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// Suggestion is a ranked common problem with its similarity score.
type Suggestion struct {
	Problem string  `json:"problem"`
	Score   float64 `json:"score"`
}

// Suggest ranks the common problems of t against a free-text description
// and returns up to k matches with a positive score, best first.
//
// Scoring is Jaccard similarity between token sets with a prefix match
// counted as a hit, so "leaking" matches "leak" and "blocked" matches
// "block": score = |Q ∩ P| / |Q ∪ P|. Ties prefer the shorter problem,
// then lexical order.
func Suggest(t domain.ServiceType, description string, k int) []Suggestion {
	e, ok := Lookup(t)
	if !ok || strings.TrimSpace(description) == "" {
		return nil
	}
	if k <= 0 {
		k = 1
	}
	q := tokenize(description)
	if len(q) == 0 {
		return nil
	}

	type scored struct {
		Suggestion
		lenRunes int
	}
	buf := make([]scored, 0, len(e.Problems))
	for _, p := range e.Problems {
		pt := tokenize(p)
		over := overlap(q, pt)
		if over == 0 {
			continue
		}
		union := float64(len(q) + len(pt) - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score > 1 {
			score = 1
		}
		buf = append(buf, scored{
			Suggestion: Suggestion{Problem: p, Score: score},
			lenRunes:   utf8.RuneCountInString(p),
		})
	}
	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].Problem < buf[b].Problem
	})
	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Suggestion, k)
	for i := 0; i < k; i++ {
		out[i] = buf[i].Suggestion
	}
	return out
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// stopwords are dropped from both sides before scoring.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "my": {}, "is": {}, "it": {}, "to": {}, "for": {}, "with": {},
	"under": {}, "need": {}, "please": {},
}

func tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stopwords[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts tokens of a that equal, or share a prefix of at least
// four runes with, some token of b.
func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	for x := range a {
		if _, ok := b[x]; ok {
			n++
			continue
		}
		for y := range b {
			if stemMatch(x, y) {
				n++
				break
			}
		}
	}
	return n
}

func stemMatch(a, b string) bool {
	if utf8.RuneCountInString(a) < 4 || utf8.RuneCountInString(b) < 4 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}
