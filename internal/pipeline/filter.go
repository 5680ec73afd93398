package pipeline

import (
	"math"
	"regexp"
	"strings"

	"github.com/bisheshkhanal/ragebaiter/internal/config"
)

// DefaultKeywords is the political lexicon used by KeywordFilter.
var DefaultKeywords = []string{
	"abortion", "amnesty", "ballot", "bernie", "biden", "billionaires",
	"border", "campaign", "capitalism", "climate", "communism", "congress",
	"conservative", "constitution", "corruption", "democracy", "democrat",
	"democrats", "deport", "election", "elections", "establishment",
	"fascism", "fascist", "gop", "government", "gun control", "immigrants",
	"immigration", "impeach", "inflation", "leftist", "left-wing",
	"legislation", "liberal", "liberals", "maga", "marxist", "minimum wage",
	"migrants", "nationalism", "parliament", "partisan", "patriot",
	"politician", "politicians", "politics", "president", "progressive",
	"propaganda", "protest", "regime", "republican", "republicans",
	"right-wing", "senate", "senator", "socialism", "socialist", "supreme court",
	"tariff", "tariffs", "taxes", "trump", "union", "vote", "voters", "voting",
	"welfare", "woke",
}

// KeywordFilter flags text as political when it mentions enough distinct
// lexicon terms for the configured sensitivity. Matching is whole word and
// case-insensitive.
type KeywordFilter struct {
	pattern *regexp.Regexp
}

func NewKeywordFilter(keywords []string) *KeywordFilter {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(k)))
	}
	return &KeywordFilter{
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

func (f *KeywordFilter) Filter(text string, sensitivity config.Sensitivity) FilterResult {
	threshold := sensitivity.MinMatches()

	seen := make(map[string]struct{})
	matched := []string{}
	for _, m := range f.pattern.FindAllString(text, -1) {
		k := strings.ToLower(m)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		matched = append(matched, k)
	}

	return FilterResult{
		IsPolitical:     len(matched) >= threshold,
		MatchedKeywords: matched,
		Confidence:      math.Min(1, float64(len(matched))/float64(threshold+2)),
	}
}
