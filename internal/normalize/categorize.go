package normalize

import (
	"strings"
	"unicode"

	"github.com/rewired-gh/polypulse/internal/models"
)

// Rule assigns Name to a record when any keyword matches one of its tags or its title.
type Rule struct {
	Name     string
	Keywords []string
}

// DefaultRules is used when no rules are configured. Order matters: the first match wins, so
// narrower categories come before broader ones.
var DefaultRules = []Rule{
	{Name: "crypto", Keywords: []string{"crypto", "bitcoin", "btc", "ethereum", "eth", "solana", "xrp", "dogecoin", "stablecoin", "microstrategy"}},
	{Name: "sports", Keywords: []string{"sports", "nba", "nfl", "mlb", "nhl", "soccer", "football", "tennis", "ufc", "f1", "formula 1", "world cup", "champions league", "premier league", "super bowl", "olympics"}},
	{Name: "elections", Keywords: []string{"elections", "election", "primary", "nominee", "ballot", "electoral"}},
	{Name: "politics", Keywords: []string{"politics", "trump", "biden", "congress", "senate", "house", "president", "governor", "supreme court", "impeach", "cabinet"}},
	{Name: "geopolitics", Keywords: []string{"geopolitics", "world", "ukraine", "russia", "israel", "gaza", "iran", "china", "taiwan", "ceasefire", "nato", "war"}},
	{Name: "economy", Keywords: []string{"economy", "finance", "fed", "interest rates", "rate cut", "inflation", "cpi", "recession", "gdp", "tariffs", "stocks", "s&p 500"}},
	{Name: "tech", Keywords: []string{"tech", "ai", "openai", "chatgpt", "apple", "google", "nvidia", "tesla", "spacex", "microsoft"}},
	{Name: "culture", Keywords: []string{"culture", "pop culture", "movies", "oscars", "grammys", "music", "album", "box office", "celebrities"}},
}

type compiledRule struct {
	name    string
	exact   map[string]bool // lowercased keywords for tag comparison
	phrases [][]string      // tokenized keywords for title matching
}

// Categorizer assigns a category through an ordered rule list.
type Categorizer struct {
	rules       []compiledRule
	defaultName string
}

// NewCategorizer compiles rules. An empty rule list selects DefaultRules.
func NewCategorizer(rules []Rule, defaultName string) *Categorizer {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if defaultName == "" {
		defaultName = "other"
	}

	c := &Categorizer{defaultName: defaultName}
	for _, r := range rules {
		cr := compiledRule{name: r.Name, exact: make(map[string]bool)}
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			cr.exact[kw] = true
			if toks := tokenize(kw); len(toks) > 0 {
				cr.phrases = append(cr.phrases, toks)
			}
		}
		c.rules = append(c.rules, cr)
	}
	return c
}

// Default returns the category used when no rule matches.
func (c *Categorizer) Default() string {
	return c.defaultName
}

// Categorize returns the name of the first rule matching the record's tags, upstream category or
// title, else the default category.
//
// Tags compare exactly (case-insensitive) on slug and label. Titles match whole words or whole
// phrases, so "eth" does not match "Ethiopia".
func (c *Categorizer) Categorize(r *models.RawRecord) string {
	labels := make([]string, 0, 2*len(r.Tags)+1)
	for _, t := range r.Tags {
		labels = append(labels, strings.ToLower(t.Slug), strings.ToLower(t.Label))
	}
	if r.Category != "" {
		labels = append(labels, strings.ToLower(r.Category))
	}
	title := tokenize(r.Question)

	for _, rule := range c.rules {
		for _, l := range labels {
			if rule.exact[l] {
				return rule.name
			}
		}
		for _, p := range rule.phrases {
			if containsPhrase(title, p) {
				return rule.name
			}
		}
	}
	return c.defaultName
}

// tokenize lowercases s and splits it into words of letters, digits and '&'.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, p := range phrase {
			if words[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}
