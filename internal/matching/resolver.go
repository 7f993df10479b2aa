package matching

import (
	"regexp"
	"strings"

	"guildlink/internal/models"
)

const (
	DefaultAutoLinkThreshold = 0.85
	DefaultSuggestThreshold  = 0.70
)

type MatchKind string

const (
	MatchNone      MatchKind = ""
	MatchHint      MatchKind = "hint"
	MatchExact     MatchKind = "exact"
	MatchWord      MatchKind = "word_boundary"
	MatchSubstring MatchKind = "substring"
	MatchFuzzy     MatchKind = "fuzzy"
)

// Thresholds control fuzzy resolution. Scores at or above AutoLink link,
// scores in [Suggest, AutoLink) only produce a suggestion.
type Thresholds struct {
	AutoLink float64
	Suggest  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{AutoLink: DefaultAutoLinkThreshold, Suggest: DefaultSuggestThreshold}
}

// Resolution is the outcome of resolving an identity key to a chat account.
type Resolution struct {
	Account    *models.ChatAccount
	Via        MatchKind
	Score      float64
	Suggestion *models.ChatAccount
	Ambiguous  bool
}

// Resolver finds the chat account a note key or character name refers to.
type Resolver struct {
	thresholds Thresholds
}

func NewResolver(t Thresholds) *Resolver {
	if t.AutoLink <= 0 {
		t.AutoLink = DefaultAutoLinkThreshold
	}
	if t.Suggest <= 0 || t.Suggest > t.AutoLink {
		t.Suggest = min(DefaultSuggestThreshold, t.AutoLink)
	}
	return &Resolver{thresholds: t}
}

func (r *Resolver) Thresholds() Thresholds {
	return r.thresholds
}

// Resolve looks the key and the chat hints up among present accounts: exact
// username, then exact display name, then the best fuzzy score.
func (r *Resolver) Resolve(key string, hints []Hint, accounts []models.ChatAccount) Resolution {
	type candidate struct {
		value string
		via   MatchKind
	}
	var candidates []candidate
	for _, v := range ChatHintValues(hints) {
		candidates = append(candidates, candidate{value: v, via: MatchHint})
	}
	if key = NormalizeName(key); key != "" {
		candidates = append(candidates, candidate{value: key, via: MatchExact})
	}
	if len(candidates) == 0 {
		return Resolution{}
	}

	present := make([]models.ChatAccount, 0, len(accounts))
	for _, a := range accounts {
		if a.IsPresent {
			present = append(present, a)
		}
	}

	ambiguous := false
	for _, c := range candidates {
		for _, field := range []func(models.ChatAccount) string{
			func(a models.ChatAccount) string { return a.Username },
			func(a models.ChatAccount) string { return a.DisplayName },
		} {
			var hits []int
			for i, a := range present {
				if NormalizeName(field(a)) == c.value {
					hits = append(hits, i)
				}
			}
			switch {
			case len(hits) == 1:
				acc := present[hits[0]]
				return Resolution{Account: &acc, Via: c.via, Score: 1.0}
			case len(hits) > 1:
				ambiguous = true
			}
		}
	}
	if ambiguous {
		return Resolution{Ambiguous: true}
	}

	bestIdx, best, second := -1, 0.0, 0.0
	for i, a := range present {
		score := 0.0
		for _, c := range candidates {
			score = max(score, FuzzyScore(c.value, a.Username), FuzzyScore(c.value, a.DisplayName))
		}
		switch {
		case score > best:
			second = best
			best = score
			bestIdx = i
		case score > second:
			second = score
		}
	}
	if bestIdx < 0 {
		return Resolution{}
	}

	acc := present[bestIdx]
	switch {
	case best >= r.thresholds.AutoLink && best > second:
		return Resolution{Account: &acc, Via: MatchFuzzy, Score: best}
	case best >= r.thresholds.AutoLink:
		return Resolution{Suggestion: &acc, Score: best, Ambiguous: true}
	case best >= r.thresholds.Suggest:
		return Resolution{Suggestion: &acc, Score: best}
	}
	return Resolution{Score: best}
}

// IdentityMatches reports whether a note key or its chat hints still point at
// the account, by exact, word-boundary or substring comparison.
func IdentityMatches(key string, hints []Hint, account models.ChatAccount) (MatchKind, bool) {
	candidates := ChatHintValues(hints)
	if key = NormalizeName(key); key != "" {
		candidates = append(candidates, key)
	}

	names := []string{NormalizeName(account.Username), NormalizeName(account.DisplayName)}
	best := MatchNone
	for _, c := range candidates {
		if len([]rune(c)) < 2 {
			continue
		}
		for _, n := range names {
			if n == "" {
				continue
			}
			switch {
			case n == c:
				return MatchExact, true
			case wordBoundaryMatch(c, n) || wordBoundaryMatch(n, c):
				best = MatchWord
			case best == MatchNone && len([]rune(n)) >= 3 && len([]rune(c)) >= 3 &&
				(strings.Contains(n, c) || strings.Contains(c, n)):
				best = MatchSubstring
			}
		}
	}
	return best, best != MatchNone
}

func wordBoundaryMatch(needle, haystack string) bool {
	if !strings.Contains(haystack, needle) {
		return false
	}
	re, err := regexp.Compile(`(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(needle) + `($|[^\p{L}\p{N}])`)
	if err != nil {
		return false
	}
	return re.MatchString(haystack)
}
