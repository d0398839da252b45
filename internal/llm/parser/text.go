package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"mt5-llm-trader/internal/types"
)

var (
	negationRe  = regexp.MustCompile(`\b(do not|don't|avoid|no)\s+(buy|sell)`)
	againstRe   = regexp.MustCompile(`\b(not\s+recommend|against)\s+(buy|sell)`)
	holdWordsRe = regexp.MustCompile(`\b(hold|wait|stay|neutral|no trade)\b`)
	buyWordsRe  = regexp.MustCompile(`\b(buy|long|bullish)\b`)
	sellWordsRe = regexp.MustCompile(`\b(sell|short|bearish)\b`)
	strongBuyRe = regexp.MustCompile(`\b(strong buy|buy signal)\b`)
	strongSelRe = regexp.MustCompile(`\b(strong sell|sell signal)\b`)

	reasoningRe = regexp.MustCompile(`(?i)(?:reasoning|explanation|because|rationale)[:\s]+([^\n]*)`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

var (
	volumeKeys = []string{"volume", "lots", "lot", "size"}
	slKeys     = []string{"stop_loss", "stop-loss", "stop loss", "stoploss", "sl"}
	tpKeys     = []string{"take_profit", "take-profit", "take profit", "takeprofit", "tp"}
)

func parseText(text string, q Quote) (types.Decision, error) {
	action, err := textAction(text)
	if err != nil {
		return types.Decision{}, err
	}
	lower := strings.ToLower(text)
	d := types.Decision{
		Action:         action,
		Volume:         numberAfter(lower, volumeKeys),
		StopLossPips:   numberAfter(lower, slKeys),
		TakeProfitPips: numberAfter(lower, tpKeys),
		Reason:         textReasoning(text),
	}
	applyLevels(&d, text, q)
	return normalize(d)
}

// applyLevels replaces the pip fields with distances measured from absolute
// stop and target prices in text, e.g. "entry 1.0850, stop loss: 1.0820".
// Distances run from the quoted entry, else from q.Price. A level on the wrong
// side of the entry for the action is dropped.
func applyLevels(d *types.Decision, text string, q Quote) {
	if q.Price <= 0 || q.PipSize <= 0 || !d.IsTrade() {
		return
	}
	l := ExtractPriceLevels(text, q.Price)
	ref := q.Price
	if nearPrice(l.Entry, q.Price) {
		ref = l.Entry
	}
	dir := 1.0
	if d.Action == types.ActionSell {
		dir = -1
	}
	if nearPrice(l.StopLoss, ref) {
		d.StopLossPips = pipsBetween(ref, l.StopLoss, dir, q.PipSize)
	}
	if nearPrice(l.TakeProfit, ref) {
		d.TakeProfitPips = pipsBetween(l.TakeProfit, ref, dir, q.PipSize)
	}
}

// nearPrice reports whether level reads as a price of the same market as ref
// rather than a pip count.
func nearPrice(level, ref float64) bool {
	return level > 0 && abs(level-ref) < ref*0.1
}

// pipsBetween is (from-to)*dir in pips, zero when negative.
func pipsBetween(from, to, dir, pip float64) float64 {
	p := (from - to) * dir / pip
	if p <= 0 {
		return 0
	}
	return math.Round(p*10) / 10
}

// textAction reads the intended action from prose. Negations and wait words win;
// otherwise the side mentioned more often, with "strong buy"/"strong sell" breaking ties.
func textAction(text string) (string, error) {
	t := strings.ToLower(text)
	if negationRe.MatchString(t) || againstRe.MatchString(t) || holdWordsRe.MatchString(t) {
		return types.ActionHold, nil
	}

	buys := len(buyWordsRe.FindAllString(t, -1))
	sells := len(sellWordsRe.FindAllString(t, -1))
	switch {
	case buys == 0 && sells == 0:
		return "", ErrNoAction
	case buys > sells:
		return types.ActionBuy, nil
	case sells > buys:
		return types.ActionSell, nil
	case strongBuyRe.MatchString(t):
		return types.ActionBuy, nil
	case strongSelRe.MatchString(t):
		return types.ActionSell, nil
	}
	return types.ActionHold, nil
}

// numberAfter returns the first number written after one of keys, e.g. "stop loss: 25".
func numberAfter(text string, keys []string) float64 {
	for _, k := range keys {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b[^0-9\n]{0,20}?([0-9]*\.?[0-9]+)`)
		if m := re.FindStringSubmatch(text); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func textReasoning(text string) string {
	for _, m := range reasoningRe.FindAllStringSubmatch(text, -1) {
		r := spaceRe.ReplaceAllString(strings.TrimSpace(m[1]), " ")
		r = strings.Trim(r, `",} `)
		if len(r) > 10 {
			return r
		}
	}
	return ""
}

// Levels are absolute prices quoted in a reply. Zero means not found.
type Levels struct {
	Entry      float64
	StopLoss   float64
	TakeProfit float64
}

const pricePattern = `([0-9]+\.[0-9]{2,5})`

var (
	entryRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bentry(?:\s+price)?[:\s=@]+` + pricePattern),
	}
	stopRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bstop.?loss[:\s=]+` + pricePattern),
		regexp.MustCompile(`(?i)\bsl[:\s=]+` + pricePattern),
		regexp.MustCompile(`(?i)\bstop[:\s=]+` + pricePattern),
	}
	targetRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btake.?profit[:\s=]+` + pricePattern),
		regexp.MustCompile(`(?i)\btp[:\s=]+` + pricePattern),
		regexp.MustCompile(`(?i)\btarget[:\s=]+` + pricePattern),
	}
)

// ExtractPriceLevels finds entry, stop and target prices such as "entry: 1.0850".
// A stop or target within a pip of current is ignored.
func ExtractPriceLevels(text string, current float64) Levels {
	return Levels{
		Entry:      firstPrice(text, entryRes, 0, -1),
		StopLoss:   firstPrice(text, stopRes, current, 0.0001),
		TakeProfit: firstPrice(text, targetRes, current, 0.0001),
	}
}

func firstPrice(text string, res []*regexp.Regexp, current, minDist float64) float64 {
	for _, re := range res {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		p, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if minDist >= 0 && current > 0 && abs(p-current) <= minDist {
			continue
		}
		return p
	}
	return 0
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
