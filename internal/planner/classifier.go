package planner

import (
	"regexp"
	"strings"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// Classification is a classifier's reading of a normalized query.
type Classification struct {
	Type models.IntentType
	// Score is the keyword evidence for Type; zero means no keyword matched.
	Score int
	// Matched lists the phrases that contributed to Score.
	Matched []string
}

// Classifier assigns an intent type to a normalized question. Implementations
// must be deterministic and safe for concurrent use.
type Classifier interface {
	Classify(query string) Classification
}

// keywordClass is one intent with its weighted trigger phrases.
type keywordClass struct {
	intent models.IntentType
	// boost is added to the weight of each strong phrase.
	boost  int
	strong []string
	weak   []string
}

// Weights of strong and weak phrases.
const (
	strongWeight = 3
	weakWeight   = 1
)

// defaultClasses is ordered by precedence: on equal scores the earlier class wins.
var defaultClasses = []keywordClass{
	{
		intent: models.IntentTrend,
		boost:  2,
		strong: []string{"trend", "trends", "over time", "time series", "evolution", "evolve", "growth", "timeline", "month over month", "year over year"},
		weak:   []string{"monthly", "weekly", "daily", "yearly", "quarterly", "per month", "by month", "per year", "by year", "by week", "by day", "grow", "increase", "decrease", "change"},
	},
	{
		intent: models.IntentComparison,
		boost:  1,
		strong: []string{"compare", "comparison", "vs", "versus", "difference between", "differences between", "relative to"},
		weak:   []string{"against", "across", "each", "between", "rank", "ranking"},
	},
	{
		intent: models.IntentAggregation,
		strong: []string{"total", "sum", "average", "avg", "mean", "how many", "number of", "count", "median", "top", "bottom", "breakdown", "share of", "distribution of"},
		weak:   []string{"by", "per", "maximum", "minimum", "max", "min", "highest", "lowest", "most", "least", "largest", "smallest", "mode", "group"},
	},
	{
		intent: models.IntentFilter,
		boost:  -1,
		strong: []string{"where", "filter", "only", "show rows", "list rows", "which rows", "records with", "rows with", "greater than", "less than", "more than", "equal to", "starts with", "ends with", "contains", "not in"},
		weak:   []string{"with", "without", "above", "below", "over", "under", "after", "before", "since", "list", "show", "find", "=", ">", "<"},
	},
	{
		intent: models.IntentProfile,
		strong: []string{"describe", "summary", "summarize", "overview", "profile", "schema", "data quality", "tell me about", "what columns", "what is in", "what's in"},
		weak:   []string{"columns", "quality", "dataset", "missing", "nulls", "pii"},
	},
}

// RuleClassifier scores every keyword class against the query and picks the
// highest-scoring class. It is the default Classifier.
type RuleClassifier struct {
	classes []compiledClass
}

type compiledClass struct {
	intent models.IntentType
	rules  []phraseRule
}

type phraseRule struct {
	phrase string
	weight int
	re     *regexp.Regexp
}

// NewRuleClassifier compiles the built-in keyword classes.
func NewRuleClassifier() *RuleClassifier {
	rc := &RuleClassifier{}
	for _, kc := range defaultClasses {
		cc := compiledClass{intent: kc.intent}
		for _, p := range kc.strong {
			cc.rules = append(cc.rules, phraseRule{phrase: p, weight: strongWeight + kc.boost, re: phraseRegexp(p)})
		}
		for _, p := range kc.weak {
			cc.rules = append(cc.rules, phraseRule{phrase: p, weight: weakWeight, re: phraseRegexp(p)})
		}
		rc.classes = append(rc.classes, cc)
	}
	return rc
}

// phraseRegexp matches p as whole words; symbol phrases match anywhere.
func phraseRegexp(p string) *regexp.Regexp {
	q := regexp.QuoteMeta(p)
	if strings.IndexFunc(p, isWordRune) < 0 {
		return regexp.MustCompile(q)
	}
	return regexp.MustCompile(`(?:^|\W)` + q + `(?:\W|$)`)
}

func (rc *RuleClassifier) Classify(query string) Classification {
	best := Classification{Type: models.IntentCustom}
	for _, cc := range rc.classes {
		score := 0
		var matched []string
		for _, r := range cc.rules {
			if r.re.MatchString(query) {
				score += r.weight
				matched = append(matched, r.phrase)
			}
		}
		if score > best.Score {
			best = Classification{Type: cc.intent, Score: score, Matched: matched}
		}
	}
	return best
}

func isWordRune(r rune) bool {
	return r == '_' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r > 127
}
