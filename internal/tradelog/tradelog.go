// Package tradelog writes the daily JSON-lines audit trail: trades, model
// decisions, indicator snapshots and management actions, one file per UTC day.
package tradelog

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"mt5-llm-trader/internal/types"
)

var (
	mu  sync.Mutex
	now = time.Now
)

const (
	EventOpen  = "OPEN"
	EventClose = "CLOSE"
)

type Kind string

const (
	KindTrades     Kind = "trades"
	KindDecisions  Kind = "decisions"
	KindIndicators Kind = "indicators"
	KindManage     Kind = "manage"
)

type Entry struct {
	Time    string         `json:"time"`
	Event   string         `json:"event"`
	Symbol  string         `json:"symbol"`
	Side    string         `json:"side"`
	OrderID string         `json:"order_id,omitempty"`
	Ticket  uint64         `json:"ticket,omitempty"`
	Volume  float64        `json:"volume"`
	Price   float64        `json:"price"`
	SL      float64        `json:"sl,omitempty"`
	TP      float64        `json:"tp,omitempty"`
	Profit  float64        `json:"profit,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

type DecisionEntry struct {
	Time       string             `json:"time"`
	Symbol     string             `json:"symbol"`
	Action     string             `json:"action"`
	Reason     string             `json:"reason"`
	Confidence float64            `json:"confidence,omitempty"`
	Price      float64            `json:"price"`
	Rejected   bool               `json:"rejected,omitempty"`
	Prompt     string             `json:"prompt,omitempty"`
	Raw        string             `json:"raw_reply,omitempty"`
	Decision   types.Decision     `json:"decision"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Extra      map[string]any     `json:"extra,omitempty"`
}

type IndicatorEntry struct {
	Time       string             `json:"time"`
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	Price      float64            `json:"price"`
	Indicators map[string]float64 `json:"indicators"`
}

type ManageEntry struct {
	Time   string  `json:"time"`
	Symbol string  `json:"symbol"`
	Ticket uint64  `json:"ticket"`
	Action string  `json:"action"`
	Price  float64 `json:"price"`
	SL     float64 `json:"sl,omitempty"`
	Volume float64 `json:"volume,omitempty"`
	R      float64 `json:"r_multiple"`
	Bars   float64 `json:"bars"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

// Dir is the root all daily files live under.
func Dir() string { return logDir() }

func stamp(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05") }

// DailyFilepath is the trades file for the UTC day of t.
func DailyFilepath(t time.Time) string {
	return filepath.Join(logDir(), t.UTC().Format("2006-01-02")+".txt")
}

func kindFilepath(k Kind, t time.Time) string {
	if k == KindTrades {
		return DailyFilepath(t)
	}
	return filepath.Join(logDir(), string(k), t.UTC().Format("2006-01-02")+".txt")
}

func appendJSON(p string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

func Append(e Entry) error {
	t := now()
	e.Time = stamp(t)
	if e.Event == "" {
		e.Event = EventOpen
	}
	return appendJSON(kindFilepath(KindTrades, t), e)
}

func AppendDecision(e DecisionEntry) error {
	t := now()
	e.Time = stamp(t)
	return appendJSON(kindFilepath(KindDecisions, t), e)
}

func AppendIndicators(e IndicatorEntry) error {
	t := now()
	e.Time = stamp(t)
	return appendJSON(kindFilepath(KindIndicators, t), e)
}

func AppendManage(e ManageEntry) error {
	t := now()
	e.Time = stamp(t)
	return appendJSON(kindFilepath(KindManage, t), e)
}

// SaveMarketData rewrites market/SYMBOL_YYYY-MM-DD.csv with the bars just fetched.
func SaveMarketData(symbol string, tf types.Timeframe, candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	t := now()
	p := filepath.Join(logDir(), "market", fmt.Sprintf("%s_%s.csv", symbol, t.UTC().Format("2006-01-02")))

	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"time", "timeframe", "open", "high", "low", "close", "volume"})
	for _, c := range candles {
		_ = w.Write([]string{
			time.Unix(c.Ts, 0).UTC().Format(time.RFC3339), string(tf),
			ff(c.Open), ff(c.High), ff(c.Low), ff(c.Close), ff(c.Vol),
		})
	}
	w.Flush()
	return w.Error()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Recent returns up to limit raw records of kind from the last days, newest last.
// Compressed days are read through gzip.
func Recent(k Kind, days, limit int) ([]json.RawMessage, error) {
	if days <= 0 {
		days = 1
	}
	t := now()
	var out []json.RawMessage
	for d := days - 1; d >= 0; d-- {
		p := kindFilepath(k, t.AddDate(0, 0, -d))
		recs, err := readLines(p)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ReadTrades decodes the trades file for the UTC day of t.
func ReadTrades(t time.Time) ([]Entry, error) {
	recs, err := readLines(DailyFilepath(t))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		var e Entry
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func readLines(p string) ([]json.RawMessage, error) {
	var r io.Reader
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		gf, gerr := os.Open(p + ".gz")
		if errors.Is(gerr, os.ErrNotExist) {
			return nil, nil
		}
		if gerr != nil {
			return nil, gerr
		}
		defer gf.Close()
		gz, gerr := gzip.NewReader(gf)
		if gerr != nil {
			return nil, gerr
		}
		defer gz.Close()
		r = gz
	} else if err != nil {
		return nil, err
	} else {
		defer f.Close()
		r = f
	}

	var out []json.RawMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), line...)))
	}
	return out, sc.Err()
}

type DirStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// StorageStats sizes each top-level directory under the log root ("." for the trades files).
func StorageStats() (map[string]DirStats, error) {
	root := logDir()
	stats := map[string]DirStats{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, filepath.Dir(p))
		top := rel
		if i := indexSep(rel); i >= 0 {
			top = rel[:i]
		}
		s := stats[top]
		s.Files++
		s.Bytes += info.Size()
		stats[top] = s
		return nil
	})
	return stats, err
}

// SortedKeys lists StorageStats directories in name order.
func SortedKeys(m map[string]DirStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexSep(s string) int {
	for i := 0; i < len(s); i++ {
		if os.IsPathSeparator(s[i]) {
			return i
		}
	}
	return -1
}

func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	root := logDir()
	cutoff := now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			gz := p + ".gz"
			// if already gz exists, remove original .txt
			if _, e2 := os.Stat(gz); e2 == nil {
				_ = os.Remove(p)
				return nil
			}
			_ = gzipFile(p, gz)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
