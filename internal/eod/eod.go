// Package eod writes the end-of-day CSV summary from the daily trades file.
package eod

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/tradelog"
)

type eodSummarizer struct {
	cutoffHour, cutoffMinute int
	now                      func() time.Time
}

func (s *eodSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	entries, err := tradelog.ReadTrades(t)
	if err != nil {
		return "", err
	}
	aggs := map[string]*aggRow{}
	for _, e := range entries {
		if e.Symbol == "" {
			continue
		}
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		switch e.Event {
		case tradelog.EventClose:
			row.Closes++
			row.RealizedPnL += e.Profit
			if e.Profit > 0 {
				row.Wins++
			} else {
				row.Losses++
			}
		default:
			row.Entries++
			if e.Side == "BUY" {
				row.BuyLots += e.Volume
			}
			if e.Side == "SELL" {
				row.SellLots += e.Volume
			}
		}
	}
	if len(aggs) == 0 {
		return "", nil
	}
	logger.Debug(ctx, "Aggregated trades file", "date", t.Format("2006-01-02"), "records", len(entries), "symbols", len(aggs))
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := eodCSVPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	w := csv.NewWriter(out)

	headers := []string{"symbol", "entries", "buy_lots", "sell_lots", "closes", "wins", "losses", "realized_pnl"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var total aggRow
	for _, k := range keys {
		r := aggs[k]
		if err := w.Write(r.record(r.Symbol)); err != nil {
			return "", err
		}
		total.Entries += r.Entries
		total.BuyLots += r.BuyLots
		total.SellLots += r.SellLots
		total.Closes += r.Closes
		total.Wins += r.Wins
		total.Losses += r.Losses
		total.RealizedPnL += r.RealizedPnL
	}
	if err := w.Write(total.record("TOTAL")); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (r aggRow) record(label string) []string {
	return []string{
		label,
		strconv.Itoa(r.Entries),
		fmt.Sprintf("%.2f", r.BuyLots),
		fmt.Sprintf("%.2f", r.SellLots),
		strconv.Itoa(r.Closes),
		strconv.Itoa(r.Wins),
		strconv.Itoa(r.Losses),
		fmt.Sprintf("%.2f", r.RealizedPnL),
	}
}

func (s *eodSummarizer) SummarizeToday(ctx context.Context) (string, error) {
	return s.SummarizeDay(ctx, s.now())
}

// ShouldRunNow is true once the UTC cutoff has passed and today's CSV is missing.
func (s *eodSummarizer) ShouldRunNow(context.Context) (bool, string) {
	now := s.now().UTC()
	outPath := eodCSVPath(now)
	if now.After(cutoffTime(now, s.cutoffHour, s.cutoffMinute)) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
