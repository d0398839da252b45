package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
mode: DRY_RUN
universe: [eurusd, " gbpusd "]
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, c.Universe)
	assert.Equal(t, "STATIC", c.DataSource)
	assert.Equal(t, "M5", c.Timeframe)
	assert.Equal(t, "M15", c.ConfirmTimeframe)
	assert.Equal(t, int64(123457), c.Magic)
	assert.Equal(t, 14, c.Indicators.RSIPeriod)
	assert.Equal(t, 6, c.Indicators.MACDFast)
	assert.Equal(t, 0.15, c.Risk.PerTradeRiskPct)
	assert.Equal(t, 3, c.Guardrails.MaxConsecutiveLosses)
	assert.Equal(t, 10, c.Gates.SessionStartHour)
	assert.Equal(t, 17, c.Gates.SessionEndHour)
	assert.Equal(t, "ATR", c.Trade.Levels)
	assert.Equal(t, "NOOP", c.LLM.Provider)
	assert.Equal(t, "21:05", c.EOD.CutoffUTC)
	assert.True(t, c.Gates.Enabled)
	assert.True(t, c.LLM.RequireReasoning)
}

func TestLoadConfigKeepsExplicitFalse(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
mode: DRY_RUN
universe: [USDJPY]
gates:
  enabled: false
llm:
  require_reasoning: false
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, c.Gates.Enabled)
	assert.False(t, c.LLM.RequireReasoning)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*Config){
		"bad mode":         func(c *Config) { c.Mode = "PAPER" },
		"live on static":   func(c *Config) { c.Mode = "LIVE"; c.DataSource = "STATIC" },
		"empty universe":   func(c *Config) { c.Universe = nil },
		"negative poll":    func(c *Config) { c.PollSeconds = -5 },
		"zero poll":        func(c *Config) { c.PollSeconds = 0 },
		"negative delay":   func(c *Config) { c.SymbolDelaySeconds = -1 },
		"bad timeframe":    func(c *Config) { c.Timeframe = "M2" },
		"risk too large":   func(c *Config) { c.Risk.PerTradeRiskPct = 10 },
		"llm levels":       func(c *Config) { c.Trade.Levels = "LLM"; c.LLM.PromptStyle = "direction" },
		"unknown provider": func(c *Config) { c.LLM.Provider = "GEMINI" },
		"bad session":      func(c *Config) { c.Gates.SessionStartHour = 18 },
		"bad news kind":    func(c *Config) { c.News.Sources = []NewsSource{{Name: "x", Kind: "json"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			require.NoError(t, c.Validate())
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadConfigWrapsValidationError(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "mode: SIM\nuniverse: [EURUSD]\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
