package news

import "strings"

var currencyKeywords = map[string][]string{
	"EUR": {"euro", "eurozone", "ecb", "lagarde", "eur/"},
	"USD": {"dollar", "fed", "fomc", "nfp", "nonfarm", "non-farm", "powell", "treasury", "/usd"},
	"GBP": {"sterling", "pound", "boe", "bank of england", "bailey", "gbp/"},
	"JPY": {"yen", "boj", "bank of japan", "ueda", "/jpy"},
	"CHF": {"franc", "snb", "swiss", "/chf"},
	"AUD": {"aussie", "rba", "australia", "aud/"},
	"NZD": {"kiwi", "rbnz", "new zealand", "nzd/"},
	"CAD": {"loonie", "boc", "bank of canada", "canada", "/cad"},
	"XAU": {"gold", "bullion", "xau"},
}

var highImpactKeywords = []string{
	"rate decision", "interest rate", "rate hike", "rate cut",
	"nonfarm", "non-farm", "payrolls", "nfp",
	"cpi", "inflation", "fomc", "gdp", "unemployment", "central bank",
}

// keywordsFor returns the lower-case terms for the base and quote currency of a pair.
func keywordsFor(symbol string) []string {
	s := strings.ToUpper(symbol)
	if len(s) < 6 {
		return nil
	}
	var out []string
	out = append(out, currencyKeywords[s[:3]]...)
	out = append(out, currencyKeywords[s[3:6]]...)
	return out
}

func matchAny(text string, terms []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return t, true
		}
	}
	return "", false
}

// IsHighImpact reports whether a headline names a scheduled market-moving release.
func IsHighImpact(title string) bool {
	_, ok := matchAny(title, highImpactKeywords)
	return ok
}
