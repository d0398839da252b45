package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"mt5-llm-trader/internal/eod"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading loop until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		return a.run(ctx)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one cycle over the universe and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.broker.Start(ctx, a.cfg.Universe); err != nil {
			logger.Warn(ctx, "Broker start failed, continuing with polling", "error", err)
		}
		a.cycle(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, onceCmd)
}

func (a *app) run(ctx context.Context) error {
	if err := a.broker.Start(ctx, a.cfg.Universe); err != nil {
		logger.Warn(ctx, "Broker start failed, continuing with polling", "error", err)
	}

	poll := time.NewTicker(time.Duration(a.cfg.PollSeconds) * time.Second)
	defer poll.Stop()
	minute := time.NewTicker(time.Minute)
	defer minute.Stop()

	logger.Info(ctx, "Bot started", "poll_seconds", a.cfg.PollSeconds, "symbols", len(a.cfg.Universe))
	_ = a.notifier.Notify(ctx, "Bot started ("+a.cfg.Mode+")")

	var lastReport string
	a.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-poll.C:
			a.cycle(ctx)
		case now := <-minute.C:
			runEODIfDue(ctx)
			now = now.UTC()
			day := now.Format("2006-01-02")
			if now.Hour() == a.cfg.Telemetry.ReportHourUTC && lastReport != day {
				lastReport = day
				if _, err := a.weeklyReport(ctx); err != nil {
					logger.ErrorWithErr(ctx, "Weekly report failed", err)
				}
			}
		}
	}
}

// cycle steps every symbol once, pausing symbol_delay_seconds between them.
// A failing symbol is logged and skipped.
func (a *app) cycle(ctx context.Context) {
	delay := time.Duration(a.cfg.SymbolDelaySeconds) * time.Second
	for i, sym := range a.cfg.Universe {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return
		}
		res, err := a.engine.Step(ctx, sym)
		if err != nil {
			logger.ErrorWithErr(ctx, "Step failed, skipping symbol this cycle", err, "symbol", sym)
			continue
		}
		logStep(ctx, res)
	}
}

func logStep(ctx context.Context, res *types.StepResult) {
	if res == nil {
		return
	}
	args := []any{
		"symbol", res.Symbol,
		"action", res.Decision.Action,
		"price", res.Price,
		"orders", len(res.Orders),
		"managed", res.Managed.PositionsManaged,
	}
	if res.Blocked != "" {
		args = append(args, "blocked", res.Blocked)
	}
	if len(res.GatesFailed) > 0 {
		args = append(args, "gates_failed", res.GatesFailed)
	}
	logger.Info(ctx, "Step complete", args...)
}

func runEODIfDue(ctx context.Context) {
	ok, path := eod.ShouldRunNow(ctx)
	if !ok {
		return
	}
	if p, err := eod.SummarizeToday(ctx); err != nil {
		logger.ErrorWithErr(ctx, "EOD summary failed", err, "path", path)
	} else if p != "" {
		logger.Info(ctx, "EOD CSV written", "path", p)
	}
}

// shutdown runs a last management pass, the report and the EOD summary on a fresh context.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info(ctx, "Shutting down")
	var total types.ManageStats
	for _, sym := range a.cfg.Universe {
		st, err := a.engine.Manage(ctx, sym)
		if err != nil {
			logger.Warn(ctx, "Final manage failed", "symbol", sym, "error", err)
			continue
		}
		total.Add(st)
	}
	if err := a.engine.Reconcile(ctx); err != nil {
		logger.Warn(ctx, "Final reconcile failed", "error", err)
	}
	logger.Info(ctx, "Final management pass", "positions", total.PositionsManaged,
		"breakeven", total.BreakevenMoves, "partials", total.PartialTPs,
		"trailing", total.TrailingStops, "time_exits", total.TimeExits)

	if _, err := a.weeklyReport(ctx); err != nil {
		logger.Warn(ctx, "Final report failed", "error", err)
	}
	if p, err := eod.SummarizeToday(ctx); err != nil {
		logger.Warn(ctx, "EOD summary failed", "error", err)
	} else if p != "" {
		logger.Info(ctx, "EOD CSV written", "path", p)
	}
	_ = a.notifier.Notify(ctx, "Bot stopped ("+a.cfg.Mode+")")
	a.close(ctx)
}
