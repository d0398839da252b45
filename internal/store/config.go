package store

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode               string   `yaml:"mode"`
	DataSource         string   `yaml:"data_source"`
	PollSeconds        int      `yaml:"poll_seconds"`
	SymbolDelaySeconds int      `yaml:"symbol_delay_seconds"`
	Universe           []string `yaml:"universe"`
	Timeframe          string   `yaml:"timeframe"`
	ConfirmTimeframe   string   `yaml:"confirm_timeframe"`
	Bars               int      `yaml:"bars"`
	ConfirmBars        int      `yaml:"confirm_bars"`
	Magic              int64    `yaml:"magic"`
	Deviation          int      `yaml:"deviation"`
	MaxOpenPositions   int      `yaml:"max_open_positions"`
	DataDir            string   `yaml:"data_dir"`

	Paper struct {
		StartingBalance float64 `yaml:"starting_balance"`
		Currency        string  `yaml:"currency"`
		SpreadPips      float64 `yaml:"spread_pips"`
		Seed            int64   `yaml:"seed"`
	} `yaml:"paper"`

	Indicators struct {
		RSIPeriod  int     `yaml:"rsi_period"`
		MACDFast   int     `yaml:"macd_fast"`
		MACDSlow   int     `yaml:"macd_slow"`
		MACDSignal int     `yaml:"macd_signal"`
		BBWindow   int     `yaml:"bb_window"`
		BBStdDev   float64 `yaml:"bb_stddev"`
		SMAFast    int     `yaml:"sma_fast"`
		SMASlow    int     `yaml:"sma_slow"`
		StochK     int     `yaml:"stoch_k"`
		StochD     int     `yaml:"stoch_d"`
		ATRPeriod  int     `yaml:"atr_period"`
		EMAFast    int     `yaml:"ema_fast"`
		EMASlow    int     `yaml:"ema_slow"`
	} `yaml:"indicators"`

	Risk struct {
		PerTradeRiskPct float64 `yaml:"per_trade_risk_pct"`
		MinVolume       float64 `yaml:"min_volume"`
		MaxVolume       float64 `yaml:"max_volume"`
		MaxDailyRiskPct float64 `yaml:"max_daily_risk_pct"`
	} `yaml:"risk"`

	Guardrails struct {
		Enabled              bool    `yaml:"enabled"`
		StatePath            string  `yaml:"state_path"`
		MaxDailyDrawdownPct  float64 `yaml:"max_daily_drawdown_pct"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
		CooldownMinutes      int     `yaml:"cooldown_minutes"`
	} `yaml:"guardrails"`

	Gates struct {
		Enabled             bool    `yaml:"enabled"`
		EMASeparationFactor float64 `yaml:"ema_separation_factor"`
		BBConflictThreshold float64 `yaml:"bb_conflict_threshold"`
		MaxSpreadPips       float64 `yaml:"max_spread_pips"`
		SessionStartHour    int     `yaml:"session_start_hour"`
		SessionEndHour      int     `yaml:"session_end_hour"`
		MaxBarAgeMinutes    int     `yaml:"max_bar_age_minutes"`
		BlockHighImpactNews bool    `yaml:"block_high_impact_news"`
	} `yaml:"gates"`

	Trade struct {
		Levels               string  `yaml:"levels"` // ATR or LLM
		SLATRMult            float64 `yaml:"sl_atr_mult"`
		TPRatio              float64 `yaml:"tp_ratio"`
		ExtremeSLATRMult     float64 `yaml:"extreme_sl_atr_mult"`
		ExtremeTPRatio       float64 `yaml:"extreme_tp_ratio"`
		TrailATRMult         float64 `yaml:"trail_atr_mult"`
		TimeExitBars         int     `yaml:"time_exit_bars"`
		PartialPct           float64 `yaml:"partial_pct"`
		ManagementEnabled    bool    `yaml:"management_enabled"`
		MaxStopLossPips      float64 `yaml:"max_stop_loss_pips"`
		MaxTakeProfitPips    float64 `yaml:"max_take_profit_pips"`
		DefaultStopLossPips  float64 `yaml:"default_stop_loss_pips"`
		DefaultTakeProfitPip float64 `yaml:"default_take_profit_pips"`
	} `yaml:"trade"`

	LLM struct {
		Provider           string  `yaml:"provider"`
		Model              string  `yaml:"model"`
		MaxTokens          int     `yaml:"max_tokens"`
		Temperature        float32 `yaml:"temperature"`
		System             string  `yaml:"system"`
		PromptStyle        string  `yaml:"prompt_style"` // direction or full
		RequireReasoning   bool    `yaml:"require_reasoning"`
		AllowTextFallback  bool    `yaml:"allow_text_fallback"`
		MinIntervalSeconds int     `yaml:"min_interval_seconds"`
		TimeoutSeconds     int     `yaml:"timeout_seconds"`
	} `yaml:"llm"`

	News struct {
		Enabled        bool         `yaml:"enabled"`
		MaxHeadlines   int          `yaml:"max_headlines"`
		CacheMinutes   int          `yaml:"cache_minutes"`
		TimeoutSeconds int          `yaml:"timeout_seconds"`
		Sources        []NewsSource `yaml:"sources"`
	} `yaml:"news"`

	Telemetry struct {
		Backend       string `yaml:"backend"` // jsonl or sqlite
		SQLitePath    string `yaml:"sqlite_path"`
		ReportHourUTC int    `yaml:"report_hour_utc"`
	} `yaml:"telemetry"`

	EOD struct {
		CutoffUTC string `yaml:"cutoff_utc"`
	} `yaml:"eod"`

	Notify struct {
		Telegram bool `yaml:"telegram"`
	} `yaml:"notify"`

	SaveMarketData bool `yaml:"save_market_data"`
}

// NewsSource is either an RSS feed or an HTML listing page scraped with CSS selectors.
type NewsSource struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // rss or html
	URL      string `yaml:"url"`
	Item     string `yaml:"item"`
	Title    string `yaml:"title"`
	Link     string `yaml:"link"`
	Datetime string `yaml:"datetime"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.DataSource != "STATIC" && c.DataSource != "LIVE" {
		return fmt.Errorf("invalid data_source '%s': must be 'STATIC' or 'LIVE'", c.DataSource)
	}
	if c.Mode == "LIVE" && c.DataSource != "LIVE" {
		return errors.New("mode LIVE requires data_source LIVE")
	}
	if len(c.Universe) == 0 {
		return errors.New("universe cannot be empty")
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds must be positive, got %d", c.PollSeconds)
	}
	if c.SymbolDelaySeconds < 0 {
		return fmt.Errorf("symbol_delay_seconds cannot be negative, got %d", c.SymbolDelaySeconds)
	}
	for _, tf := range []string{c.Timeframe, c.ConfirmTimeframe} {
		switch tf {
		case "M1", "M5", "M15", "M30", "H1", "H4", "D1":
		default:
			return fmt.Errorf("unsupported timeframe '%s'", tf)
		}
	}
	if c.Risk.PerTradeRiskPct <= 0 || c.Risk.PerTradeRiskPct > 5 {
		return fmt.Errorf("risk.per_trade_risk_pct must be in (0, 5], got %.2f", c.Risk.PerTradeRiskPct)
	}
	if c.Risk.MinVolume <= 0 || c.Risk.MaxVolume < c.Risk.MinVolume {
		return fmt.Errorf("risk volume bounds invalid: min %.2f max %.2f", c.Risk.MinVolume, c.Risk.MaxVolume)
	}
	if c.Trade.Levels != "ATR" && c.Trade.Levels != "LLM" {
		return fmt.Errorf("trade.levels must be 'ATR' or 'LLM', got '%s'", c.Trade.Levels)
	}
	if c.LLM.PromptStyle != "direction" && c.LLM.PromptStyle != "full" {
		return fmt.Errorf("llm.prompt_style must be 'direction' or 'full', got '%s'", c.LLM.PromptStyle)
	}
	if c.Trade.Levels == "LLM" && c.LLM.PromptStyle != "full" {
		return errors.New("trade.levels LLM needs llm.prompt_style full")
	}
	switch c.LLM.Provider {
	case "OPENAI", "CLAUDE", "NOOP", "":
	default:
		return fmt.Errorf("llm.provider must be OPENAI, CLAUDE or NOOP, got '%s'", c.LLM.Provider)
	}
	if c.Telemetry.Backend != "jsonl" && c.Telemetry.Backend != "sqlite" {
		return fmt.Errorf("telemetry.backend must be 'jsonl' or 'sqlite', got '%s'", c.Telemetry.Backend)
	}
	if c.Gates.SessionStartHour < 0 || c.Gates.SessionEndHour > 24 || c.Gates.SessionStartHour >= c.Gates.SessionEndHour {
		return fmt.Errorf("gates session window %d-%d invalid", c.Gates.SessionStartHour, c.Gates.SessionEndHour)
	}
	for _, s := range c.News.Sources {
		if s.Kind != "rss" && s.Kind != "html" {
			return fmt.Errorf("news source %s: kind must be rss or html", s.Name)
		}
	}
	return nil
}

// Default returns a config with every default applied, used by tests and as the base for LoadConfig.
func Default() *Config {
	var c Config
	c.Mode = "DRY_RUN"
	c.Universe = []string{"EURUSD"}
	c.Gates.Enabled = true
	c.Guardrails.Enabled = true
	c.Trade.ManagementEnabled = true
	c.LLM.RequireReasoning = true
	applyDefaults(&c)
	return &c
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	c.Universe = nil
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	applyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func applyDefaults(c *Config) {
	if c.DataSource == "" {
		c.DataSource = "STATIC"
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 300
	}
	for i, s := range c.Universe {
		c.Universe[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if c.Timeframe == "" {
		c.Timeframe = "M5"
	}
	if c.ConfirmTimeframe == "" {
		c.ConfirmTimeframe = "M15"
	}
	if c.Bars == 0 {
		c.Bars = 300
	}
	if c.ConfirmBars == 0 {
		c.ConfirmBars = 50
	}
	if c.Magic == 0 {
		c.Magic = 123457
	}
	if c.Deviation == 0 {
		c.Deviation = 10
	}
	if c.MaxOpenPositions == 0 {
		c.MaxOpenPositions = 5
	}
	if c.DataDir == "" {
		c.DataDir = "data"
		if v := os.Getenv("TRADER_DATA_DIR"); v != "" {
			c.DataDir = v
		}
	}

	if c.Paper.StartingBalance == 0 {
		c.Paper.StartingBalance = 10000
	}
	if c.Paper.Currency == "" {
		c.Paper.Currency = "USD"
	}
	if c.Paper.SpreadPips == 0 {
		c.Paper.SpreadPips = 0.6
	}
	if c.Paper.Seed == 0 {
		c.Paper.Seed = 42
	}

	ind := &c.Indicators
	setInt(&ind.RSIPeriod, 14)
	setInt(&ind.MACDFast, 6)
	setInt(&ind.MACDSlow, 13)
	setInt(&ind.MACDSignal, 5)
	setInt(&ind.BBWindow, 20)
	setFloat(&ind.BBStdDev, 2)
	setInt(&ind.SMAFast, 20)
	setInt(&ind.SMASlow, 200)
	setInt(&ind.StochK, 14)
	setInt(&ind.StochD, 3)
	setInt(&ind.ATRPeriod, 14)
	setInt(&ind.EMAFast, 9)
	setInt(&ind.EMASlow, 21)

	setFloat(&c.Risk.PerTradeRiskPct, 0.15)
	setFloat(&c.Risk.MinVolume, 0.01)
	setFloat(&c.Risk.MaxVolume, 0.05)
	setFloat(&c.Risk.MaxDailyRiskPct, 1.5)

	if c.Guardrails.StatePath == "" {
		c.Guardrails.StatePath = c.DataDir + "/daily_guardrails.json"
	}
	setFloat(&c.Guardrails.MaxDailyDrawdownPct, 1.5)
	setInt(&c.Guardrails.MaxConsecutiveLosses, 3)
	setInt(&c.Guardrails.MaxTradesPerDay, 6)
	setInt(&c.Guardrails.CooldownMinutes, 60)

	setFloat(&c.Gates.EMASeparationFactor, 0.15)
	setFloat(&c.Gates.BBConflictThreshold, 0.25)
	setFloat(&c.Gates.MaxSpreadPips, 0.8)
	if c.Gates.SessionStartHour == 0 && c.Gates.SessionEndHour == 0 {
		c.Gates.SessionStartHour, c.Gates.SessionEndHour = 10, 17
	}
	setInt(&c.Gates.MaxBarAgeMinutes, 6)

	if c.Trade.Levels == "" {
		c.Trade.Levels = "ATR"
	}
	setFloat(&c.Trade.SLATRMult, 3.5)
	setFloat(&c.Trade.TPRatio, 2.0)
	setFloat(&c.Trade.ExtremeSLATRMult, 4.5)
	setFloat(&c.Trade.ExtremeTPRatio, 1.5)
	setFloat(&c.Trade.TrailATRMult, 2.0)
	setInt(&c.Trade.TimeExitBars, 15)
	setFloat(&c.Trade.PartialPct, 50)
	setFloat(&c.Trade.MaxStopLossPips, 100)
	setFloat(&c.Trade.MaxTakeProfitPips, 200)
	setFloat(&c.Trade.DefaultStopLossPips, 20)
	setFloat(&c.Trade.DefaultTakeProfitPip, 50)

	if c.LLM.Provider == "" {
		c.LLM.Provider = "NOOP"
	}
	c.LLM.Provider = strings.ToUpper(c.LLM.Provider)
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4"
	}
	setInt(&c.LLM.MaxTokens, 200)
	if c.LLM.PromptStyle == "" {
		c.LLM.PromptStyle = "direction"
	}
	setInt(&c.LLM.TimeoutSeconds, 30)

	setInt(&c.News.MaxHeadlines, 8)
	setInt(&c.News.CacheMinutes, 30)
	setInt(&c.News.TimeoutSeconds, 15)

	if c.Telemetry.Backend == "" {
		c.Telemetry.Backend = "jsonl"
	}
	if c.Telemetry.SQLitePath == "" {
		c.Telemetry.SQLitePath = c.DataDir + "/telemetry/trades.db"
	}
	setInt(&c.Telemetry.ReportHourUTC, 17)

	if c.EOD.CutoffUTC == "" {
		c.EOD.CutoffUTC = "21:05"
	}
}

func setInt(v *int, d int) {
	if *v == 0 {
		*v = d
	}
}

func setFloat(v *float64, d float64) {
	if *v == 0 {
		*v = d
	}
}
