// Package parser turns a model reply into a trading decision.
//
// A reply is only trusted when it yields a recognised action. Anything else
// is rejected and becomes HOLD, so an unknown instruction never reaches the
// terminal.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mt5-llm-trader/internal/types"
)

var (
	ErrEmptyReply       = errors.New("empty reply")
	ErrNotJSON          = errors.New("reply is not a JSON object")
	ErrNoAction         = errors.New("reply has no action")
	ErrUnknownAction    = errors.New("unknown action")
	ErrMissingReasoning = errors.New("reasoning missing required analysis")
	ErrOutOfRange       = errors.New("value out of range")
)

// Options control how strict parsing is.
type Options struct {
	// AllowText enables keyword parsing of free-form replies.
	AllowText bool
	// RequireReasoning rejects BUY/SELL replies whose reasoning skips EMA, Bollinger or RSI.
	RequireReasoning bool
	// Sizing validates volume and pip distances against Limits. Without it the
	// model's sizing fields are dropped.
	Sizing bool
	Limits Limits
	// Quote is the market the reply answers. With it, stop and target prices
	// written in a free-form reply become pip distances.
	Quote Quote
}

type Quote struct {
	Price   float64
	PipSize float64
}

var (
	actionKeyRe    = regexp.MustCompile(`(?i)"action"\s*:\s*"([^"]*)"`)
	reasoningKeyRe = regexp.MustCompile(`(?is)"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Parse extracts a decision from raw. It tries a JSON object, then the span from the
// first '{' to the last '}', then an "action" key anywhere in the text, then
// (with AllowText) keyword matching.
func Parse(raw string, allowText bool) (types.Decision, error) {
	return parse(raw, allowText, Quote{})
}

func parse(raw string, allowText bool, q Quote) (types.Decision, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return types.Decision{}, ErrEmptyReply
	}

	fields, ok := decodeObject(text)
	if !ok {
		if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
			fields, ok = decodeObject(text[i : j+1])
		}
	}
	if ok {
		return fromFields(fields)
	}

	if m := actionKeyRe.FindStringSubmatch(text); m != nil {
		d := types.Decision{Action: m[1]}
		if r := reasoningKeyRe.FindStringSubmatch(text); r != nil {
			if s, err := strconv.Unquote(`"` + r[1] + `"`); err == nil {
				d.Reason = s
			} else {
				d.Reason = r[1]
			}
		}
		return normalize(d)
	}

	if !allowText {
		return types.Decision{}, ErrNotJSON
	}
	return parseText(text, q)
}

// Resolve parses and validates raw, returning HOLD with Rejected set when the reply
// cannot be trusted. It never fails; the rejection cause is in Reason.
func Resolve(raw string, o Options) types.Decision {
	d, err := parse(raw, o.AllowText, o.Quote)
	if err == nil {
		if o.Sizing {
			d, err = Validate(d, o.Limits)
		} else {
			d.Volume, d.StopLossPips, d.TakeProfitPips = 0, 0, 0
			if d.Reason == "" {
				d.Reason = defaultReasoning
			}
		}
	}
	if err == nil && o.RequireReasoning && d.IsTrade() {
		err = CheckReasoning(d.Reason)
	}
	if err != nil {
		return types.Decision{
			Action:   types.ActionHold,
			Reason:   "rejected: " + err.Error(),
			Rejected: true,
			Raw:      raw,
		}
	}
	d.Raw = raw
	return d
}

func decodeObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

func fromFields(m map[string]any) (types.Decision, error) {
	d := types.Decision{}
	if v, ok := m["action"].(string); ok {
		d.Action = v
	}
	for _, k := range []string{"reasoning", "reason", "explanation"} {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			d.Reason = strings.TrimSpace(v)
			break
		}
	}
	d.Volume = number(m["volume"])
	d.StopLossPips = number(m["stop_loss_pips"])
	d.TakeProfitPips = number(m["take_profit_pips"])
	d.Confidence = number(m["confidence"])
	return normalize(d)
}

// number accepts JSON numbers and numeric strings; anything else is zero.
func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func normalize(d types.Decision) (types.Decision, error) {
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	switch d.Action {
	case types.ActionBuy, types.ActionSell, types.ActionHold:
	case "":
		return types.Decision{}, ErrNoAction
	default:
		return types.Decision{}, fmt.Errorf("%w %q", ErrUnknownAction, d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		d.Confidence = 0
	}
	return d, nil
}
