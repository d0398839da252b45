package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"mt5-llm-trader/internal/engine"
	"mt5-llm-trader/internal/eod"
	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/telemetry"
	"mt5-llm-trader/internal/tradelog"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print and save the weekly performance report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		tel, err := initializeTelemetry(ctx, cfg)
		if err != nil {
			return err
		}
		defer tel.Close()

		report, err := tel.WeeklyReport(ctx, cfg.Magic)
		if report != "" {
			fmt.Println(report)
		}
		return err
	},
}

var (
	statsDays  int
	statsLimit int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show trade log storage, recent records and trade statistics",
	Long: `Show how much the trade log occupies per directory, the most recent
trades, decisions and management actions, and statistics over the
completed trades of the last --days days.

Examples:
  bot stats
  bot stats --days 30 --limit 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		sizes, err := tradelog.StorageStats()
		if err != nil {
			return fmt.Errorf("storage stats: %w", err)
		}
		fmt.Printf("Log directory: %s\n", tradelog.Dir())
		for _, k := range tradelog.SortedKeys(sizes) {
			fmt.Printf("  %-12s %5d files %10d bytes\n", k, sizes[k].Files, sizes[k].Bytes)
		}

		for _, k := range []tradelog.Kind{tradelog.KindTrades, tradelog.KindDecisions, tradelog.KindManage} {
			recs, err := tradelog.Recent(k, statsDays, statsLimit)
			if err != nil {
				logger.Warn(ctx, "Failed to read recent records", "kind", k, "error", err)
				continue
			}
			fmt.Printf("\nRecent %s (%d)\n", k, len(recs))
			for _, r := range recs {
				fmt.Println("  " + string(r))
			}
		}

		tel, err := initializeTelemetry(ctx, cfg)
		if err != nil {
			return err
		}
		defer tel.Close()
		trades, err := tel.LoadTrades(ctx, statsDays, cfg.Magic)
		if err != nil {
			return err
		}
		return printJSON("Trade statistics", telemetry.ComputeStats(trades))
	},
}

var eodDate string

var eodCmd = &cobra.Command{
	Use:   "eod",
	Short: "Write the end-of-day CSV for a UTC date",
	Long: `Summarise the trades file of one UTC day into eod/YYYY-MM-DD.csv.

Examples:
  bot eod
  bot eod --date 2025-06-03`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd.Context()); err != nil {
			return err
		}
		day := time.Now().UTC()
		if eodDate != "" {
			t, err := time.Parse("2006-01-02", eodDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", eodDate, err)
			}
			day = t
		}
		p, err := eod.SummarizeDay(cmd.Context(), day)
		if err != nil {
			return err
		}
		if p == "" {
			fmt.Printf("No trades on %s\n", day.Format("2006-01-02"))
			return nil
		}
		fmt.Println("EOD CSV written:", p)
		return nil
	},
}

var (
	guardReset  bool
	guardEquity float64
)

var guardrailsCmd = &cobra.Command{
	Use:   "guardrails",
	Short: "Show or reset the daily guardrail state",
	Long: `Show today's trade count, loss streak and drawdown against the limits.
With --reset the state is rebuilt for today from the current equity.

Examples:
  bot guardrails
  bot guardrails --reset --equity 10250`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		g, err := guardrails.New(ctx, engine.GuardrailsConfig(cfg))
		if err != nil {
			return err
		}

		equity := guardEquity
		if equity <= 0 {
			brk, err := initializeBroker(ctx, cfg)
			if err != nil {
				return err
			}
			acct, err := brk.Account(ctx)
			brk.Stop(ctx)
			if err != nil {
				return fmt.Errorf("account: %w", err)
			}
			equity = acct.Equity
		}

		if guardReset {
			g.ForceReset(ctx, equity)
		}
		return printJSON("Daily guardrails", g.Stats(equity))
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "days of history to read")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "records per kind")
	eodCmd.Flags().StringVar(&eodDate, "date", "", "UTC date YYYY-MM-DD (default today)")
	guardrailsCmd.Flags().BoolVar(&guardReset, "reset", false, "reset today's state")
	guardrailsCmd.Flags().Float64Var(&guardEquity, "equity", 0, "current equity (default: ask the broker)")

	rootCmd.AddCommand(reportCmd, statsCmd, eodCmd, guardrailsCmd)
}

func printJSON(title string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\n%s\n%s\n", title, b)
	return nil
}
