package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"mt5-llm-trader/internal/broker/brokerobs"
	"mt5-llm-trader/internal/broker/mt5"
	"mt5-llm-trader/internal/broker/paper"
	"mt5-llm-trader/internal/broker/static"
	"mt5-llm-trader/internal/engine"
	"mt5-llm-trader/internal/engine/engineobs"
	"mt5-llm-trader/internal/eod"
	"mt5-llm-trader/internal/eod/eodobs"
	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/journal"
	"mt5-llm-trader/internal/llm/claude"
	"mt5-llm-trader/internal/llm/llmobs"
	"mt5-llm-trader/internal/llm/noop"
	"mt5-llm-trader/internal/llm/openai"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/news"
	"mt5-llm-trader/internal/notify"
	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/telemetry"
	"mt5-llm-trader/internal/tradelog"
)

const defaultBridgeURL = "http://127.0.0.1:8787"

// app holds everything a subcommand may need after bootstrap.
type app struct {
	cfg       *store.Config
	broker    interfaces.Broker
	engine    interfaces.Engine
	telemetry *telemetry.Telemetry
	guards    *guardrails.Guardrails
	notifier  interfaces.Notifier
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath)
		return nil, err
	}
	if err := initializeEOD(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs gzips trade log files past TRADER_LOG_RETENTION_DAYS.
func compressOldLogs(ctx context.Context) {
	v := os.Getenv("TRADER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.Warn(ctx, "Ignoring invalid TRADER_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := tradelog.CompressOlder(n); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

// initializeBroker picks the account for mode and data_source and wraps it with observability.
// STATIC data always trades on paper; LIVE data on DRY_RUN paper-trades real quotes.
func initializeBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	var brk interfaces.Broker

	switch {
	case cfg.DataSource == "STATIC":
		logger.Info(ctx, "Using STATIC synthetic market data", "seed", cfg.Paper.Seed)
		src := static.New(cfg.Paper.Seed, cfg.Paper.SpreadPips)
		brk = paper.New(src, cfg.Paper.StartingBalance, cfg.Paper.Currency)
	case cfg.Mode == "DRY_RUN":
		client := newBridgeClient()
		if err := client.Health(ctx); err != nil {
			logger.Warn(ctx, "MT5 bridge health check failed", "error", err)
		}
		logger.Info(ctx, "Using LIVE quotes from the MT5 bridge with a paper account")
		brk = paper.New(client, cfg.Paper.StartingBalance, cfg.Paper.Currency)
	default:
		client := newBridgeClient()
		if err := client.Health(ctx); err != nil {
			return nil, fmt.Errorf("mt5 bridge: %w", err)
		}
		logger.Warn(ctx, "Running in LIVE mode - orders go to the MT5 terminal")
		brk = client
	}

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated",
			"balance", cfg.Paper.StartingBalance, "currency", cfg.Paper.Currency)
	}
	return brokerobs.Wrap(brk), nil
}

func newBridgeClient() *mt5.Client {
	url := os.Getenv("MT5_BRIDGE_URL")
	if url == "" {
		url = defaultBridgeURL
	}
	return mt5.New(url, os.Getenv("MT5_BRIDGE_TOKEN"), mt5.WithStream(true))
}

// initializeDecider initializes and returns the LLM decider with observability
func initializeDecider(ctx context.Context, cfg *store.Config) interfaces.Decider {
	var decider interfaces.Decider

	switch cfg.LLM.Provider {
	case "OPENAI":
		decider = openai.NewOpenAIDecider(cfg)
	case "CLAUDE":
		decider = claude.NewClaudeDecider(cfg)
	default:
		decider = noop.NewNoopDecider()
		logger.Warn(ctx, "No LLM provider configured - using Noop decider (always HOLD)")
	}

	return llmobs.Wrap(decider)
}

// initializeTelemetry opens the configured trade metrics store.
func initializeTelemetry(ctx context.Context, cfg *store.Config) (*telemetry.Telemetry, error) {
	base := filepath.Join(cfg.DataDir, "telemetry")

	var st telemetry.Store
	switch cfg.Telemetry.Backend {
	case "sqlite":
		j, err := journal.NewSQLite(cfg.Telemetry.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open telemetry journal: %w", err)
		}
		st = j
	default:
		j, err := telemetry.NewJSONLStore(filepath.Join(base, "trades", "trade_metrics.jsonl"))
		if err != nil {
			return nil, err
		}
		st = j
	}
	logger.Info(ctx, "Telemetry store ready", "backend", cfg.Telemetry.Backend)
	return telemetry.New(st, filepath.Join(base, "reports"))
}

// initializeGuardrails returns nil when guardrails are disabled.
func initializeGuardrails(ctx context.Context, cfg *store.Config) (*guardrails.Guardrails, error) {
	if !cfg.Guardrails.Enabled {
		logger.Warn(ctx, "Daily guardrails disabled")
		return nil, nil
	}
	return guardrails.New(ctx, engine.GuardrailsConfig(cfg))
}

// initializeEOD wraps the configured EOD summarizer with observability
// and installs it as the package default.
func initializeEOD(cfg *store.Config) error {
	s, err := eod.NewSummarizer(cfg.EOD.CutoffUTC)
	if err != nil {
		return err
	}
	eod.SetDefaultSummarizer(eodobs.Wrap(s))
	return nil
}

// newApp wires the full trading stack.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	compressOldLogs(ctx)

	brk, err := initializeBroker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tel, err := initializeTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	guards, err := initializeGuardrails(ctx, cfg)
	if err != nil {
		_ = tel.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		broker:    brk,
		telemetry: tel,
		guards:    guards,
		notifier:  notify.FromEnv(ctx, cfg.Notify.Telegram, "["+cfg.Mode+"] "),
	}

	deps := engine.Deps{
		Broker:     brk,
		Decider:    initializeDecider(ctx, cfg),
		Notifier:   a.notifier,
		Telemetry:  tel,
		Guardrails: guards,
	}
	if cfg.News.Enabled {
		deps.News = news.NewService(news.ConfigFrom(cfg))
		logger.Info(ctx, "News context enabled", "sources", len(cfg.News.Sources))
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		_ = tel.Close()
		return nil, err
	}
	a.engine = engineobs.Wrap(eng)

	logger.Info(ctx, "Bot initialized",
		"mode", cfg.Mode,
		"data_source", cfg.DataSource,
		"universe", cfg.Universe,
		"timeframe", cfg.Timeframe,
		"provider", cfg.LLM.Provider,
		"levels", cfg.Trade.Levels,
	)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.broker.Stop(ctx)
	if err := a.telemetry.Close(); err != nil {
		logger.Warn(ctx, "Failed to close telemetry store", "error", err)
	}
}

// weeklyReport renders the report, logs it, and pushes it to the notifier.
func (a *app) weeklyReport(ctx context.Context) (string, error) {
	report, err := a.telemetry.WeeklyReport(ctx, a.cfg.Magic)
	if err != nil {
		return report, err
	}
	_ = a.notifier.Notify(ctx, report)
	return report, nil
}
