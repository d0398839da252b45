package telemetry

import (
	"fmt"
	"strings"
	"time"
)

type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	AvgWinPips  float64 `json:"avg_win_pips"`
	AvgLossPips float64 `json:"avg_loss_pips"`
	AvgWinR     float64 `json:"avg_win_r"`
	AvgLossR    float64 `json:"avg_loss_r"`

	TotalProfitPips float64 `json:"total_profit_pips"`
	TotalProfitR    float64 `json:"total_profit_r"`
	TotalProfit     float64 `json:"total_profit"`
	ExpectancyPips  float64 `json:"expectancy_pips"`
	ExpectancyR     float64 `json:"expectancy_r"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	ProfitFactor float64 `json:"profit_factor"`
	BestTradeR   float64 `json:"best_trade_r"`
	WorstTradeR  float64 `json:"worst_trade_r"`
}

// ComputeStats summarises completed trades in order. A trade with P/L <= 0 is a loss.
// With no losses the profit factor divides by 1.
func ComputeStats(trades []TradeMetrics) Stats {
	var s Stats
	if len(trades) == 0 {
		return s
	}
	s.TotalTrades = len(trades)

	var grossProfit, grossLoss float64
	var winPips, winR, lossPips, lossR float64
	curW, curL := 0, 0
	s.BestTradeR, s.WorstTradeR = trades[0].ResultR, trades[0].ResultR

	for _, t := range trades {
		s.TotalProfitPips += t.ProfitPips
		s.TotalProfitR += t.ResultR
		s.TotalProfit += t.ProfitLoss
		s.BestTradeR = max(s.BestTradeR, t.ResultR)
		s.WorstTradeR = min(s.WorstTradeR, t.ResultR)

		if t.ProfitLoss > 0 {
			s.WinningTrades++
			grossProfit += t.ProfitLoss
			winPips += t.ProfitPips
			winR += t.ResultR
			curW++
			curL = 0
			s.MaxConsecutiveWins = max(s.MaxConsecutiveWins, curW)
		} else {
			s.LosingTrades++
			grossLoss += -t.ProfitLoss
			lossPips += abs(t.ProfitPips)
			lossR += abs(t.ResultR)
			curL++
			curW = 0
			s.MaxConsecutiveLosses = max(s.MaxConsecutiveLosses, curL)
		}
	}

	n := float64(s.TotalTrades)
	s.WinRate = float64(s.WinningTrades) / n * 100
	if s.WinningTrades > 0 {
		s.AvgWinPips = winPips / float64(s.WinningTrades)
		s.AvgWinR = winR / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLossPips = lossPips / float64(s.LosingTrades)
		s.AvgLossR = lossR / float64(s.LosingTrades)
	} else {
		grossLoss = 1
	}
	s.ExpectancyPips = s.TotalProfitPips / n
	s.ExpectancyR = s.TotalProfitR / n
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}
	return s
}

// RenderReport formats the weekly text report.
func RenderReport(now time.Time, magic int64, trades []TradeMetrics, s Stats) string {
	magicLabel := "All"
	if magic != 0 {
		magicLabel = fmt.Sprint(magic)
	}

	var b strings.Builder
	line := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }

	line("WEEKLY TRADING PERFORMANCE REPORT")
	line("%s", strings.Repeat("=", 50))
	line("Report Period: %s (Last 7 days)", now.Format("2006-01-02"))
	line("Magic Number: %s", magicLabel)
	line("")
	line("OVERALL PERFORMANCE")
	line("Total Trades: %d", s.TotalTrades)
	line("Win Rate: %.1f%% (%dW / %dL)", s.WinRate, s.WinningTrades, s.LosingTrades)
	line("Expectancy: %+.3fR (%+.1f pips)", s.ExpectancyR, s.ExpectancyPips)
	line("Profit Factor: %.2f", s.ProfitFactor)
	line("")
	line("TRADE QUALITY")
	line("Average Win: %.2fR (%.1f pips)", s.AvgWinR, s.AvgWinPips)
	line("Average Loss: -%.2fR (%.1f pips)", s.AvgLossR, s.AvgLossPips)
	line("Best Trade: %+.2fR", s.BestTradeR)
	line("Worst Trade: %+.2fR", s.WorstTradeR)
	line("")
	line("CONSISTENCY")
	line("Max Consecutive Wins: %d", s.MaxConsecutiveWins)
	line("Max Consecutive Losses: %d", s.MaxConsecutiveLosses)
	line("")
	line("TOTALS")
	line("Total Profit: %+.2fR (%+.1f pips, %+.2f)", s.TotalProfitR, s.TotalProfitPips, s.TotalProfit)

	if len(trades) > 0 && len(trades) <= 20 {
		line("")
		line("RECENT TRADES")
		line("%s", strings.Repeat("-", 30))
		start := max(0, len(trades)-10)
		for _, t := range trades[start:] {
			line("%s | %-6s | %-4s | %+.2fR | %s",
				t.EntryTime.UTC().Format("01-02 15:04"), t.Symbol, t.Action, t.ResultR, t.ExitReason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
