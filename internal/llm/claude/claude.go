package claude

import (
	"context"
	"errors"
	"os"
	"strings"

	"mt5-llm-trader/internal/api"
	"mt5-llm-trader/internal/llm"
	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/trace"
	"mt5-llm-trader/internal/types"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// ClaudeDecider implements the Decider interface using the Anthropic messages API
type ClaudeDecider struct {
	settings llm.Settings
	client   *api.Client
	endpoint string
	apiKey   string
}

type Option func(*ClaudeDecider)

func WithEndpoint(url string) Option {
	return func(d *ClaudeDecider) { d.endpoint = url }
}

func WithAPIKey(key string) Option {
	return func(d *ClaudeDecider) { d.apiKey = key }
}

func NewClaudeDecider(cfg *store.Config, opts ...Option) *ClaudeDecider {
	s := llm.FromConfig(cfg)
	d := &ClaudeDecider{
		settings: s,
		endpoint: defaultEndpoint,
		apiKey:   os.Getenv("CLAUDE_API_KEY"),
	}
	// proxies, Bedrock or Vertex gateways are set with CLAUDE_API_ENDPOINT
	if ep := os.Getenv("CLAUDE_API_ENDPOINT"); ep != "" {
		d.endpoint = ep
	}
	for _, o := range opts {
		o(d)
	}
	d.client = api.NewClient(
		api.WithTimeout(s.Timeout),
		api.WithRateLimiter(s.Limiter),
		api.WithHeader("anthropic-version", anthropicVersion),
		api.WithLogging(true),
	)
	return d
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (d *ClaudeDecider) Decide(ctx context.Context, snap types.MarketSnapshot) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	if d.apiKey == "" {
		return types.Decision{}, errors.New("CLAUDE_API_KEY missing")
	}

	system, user := d.settings.Messages(snap)
	body := messagesRequest{
		Model:       d.settings.Model,
		System:      system,
		Messages:    []message{{Role: "user", Content: user}},
		MaxTokens:   d.settings.MaxTokens,
		Temperature: d.settings.Temperature,
	}

	req := api.NewRequest("POST", d.endpoint).
		WithContext(ctx).
		WithBody(body).
		WithHeader("x-api-key", d.apiKey)
	resp, err := d.client.DoWithRetry(req, api.DefaultRetryConfig())
	if err != nil {
		return types.Decision{}, err
	}

	var r messagesResponse
	if err := resp.ParseJSON(&r); err != nil {
		return types.Decision{}, err
	}

	var sb strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return types.Decision{}, errors.New("empty content")
	}

	return d.settings.Resolve(text, user, snap), nil
}
