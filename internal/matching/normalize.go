package matching

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlphaNumericRegex = regexp.MustCompile(`[^\p{L}\p{N}\s._-]`)

// NormalizeName lowercases a name, strips diacritics and punctuation and
// collapses whitespace.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, name); err == nil {
		name = stripped
	}

	name = nonAlphaNumericRegex.ReplaceAllString(strings.ToLower(name), "")

	var result strings.Builder
	prevSpace := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		} else {
			result.WriteRune(r)
			prevSpace = false
		}
	}

	return result.String()
}

// FuzzyScore rates the similarity of two names in [0,1]. Exact normalized
// matches score 1, containment scores the length ratio and everything else
// the edit-distance ratio of the sorted tokens.
func FuzzyScore(a, b string) float64 {
	a = NormalizeName(a)
	b = NormalizeName(b)

	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	la, lb := len([]rune(a)), len([]rune(b))
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return float64(min(la, lb)) / float64(max(la, lb))
	}

	return tokenRatio(a, b)
}

func tokenRatio(a, b string) float64 {
	ta := sortedTokens(a)
	tb := sortedTokens(b)
	if ta == tb {
		return 1.0
	}

	ra, rb := []rune(ta), []rune(tb)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 0.0
	}
	return 1.0 - float64(levenshteinDistance(ra, rb))/float64(maxLen)
}

func sortedTokens(s string) string {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '_' || r == '-'
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			cur[j] = min(
				prev[j]+1,
				cur[j-1]+1,
				prev[j-1]+cost,
			)
		}
		prev, cur = cur, prev
	}

	return prev[len(b)]
}
