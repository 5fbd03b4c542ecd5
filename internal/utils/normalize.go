package utils

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle lowercases, folds diacritics and collapses punctuation to single spaces
func NormalizeTitle(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ReplaceAll(folded, "&", " and ")

	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if r == '\'' {
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Similarity returns a 0..1 ratio between two titles after normalisation
func Similarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" && nb == "" {
		return 1
	}
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}

// BestSimilarity returns the highest similarity of got against any of the wanted titles
func BestSimilarity(got string, wanted ...string) float64 {
	best := 0.0
	for _, w := range wanted {
		if w == "" {
			continue
		}
		if s := Similarity(got, w); s > best {
			best = s
		}
	}
	return best
}
