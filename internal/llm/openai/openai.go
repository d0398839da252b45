package openai

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

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

type OpenAIDecider struct {
	settings llm.Settings
	client   *api.Client
	endpoint string
	apiKey   string
}

type Option func(*OpenAIDecider)

// WithEndpoint points the decider at a proxy or a test server.
func WithEndpoint(url string) Option {
	return func(d *OpenAIDecider) { d.endpoint = url }
}

func WithAPIKey(key string) Option {
	return func(d *OpenAIDecider) { d.apiKey = key }
}

func NewOpenAIDecider(cfg *store.Config, opts ...Option) *OpenAIDecider {
	s := llm.FromConfig(cfg)
	d := &OpenAIDecider{
		settings: s,
		endpoint: defaultEndpoint,
		apiKey:   os.Getenv("OPENAI_API_KEY"),
	}
	if ep := os.Getenv("OPENAI_API_ENDPOINT"); ep != "" {
		d.endpoint = ep
	}
	for _, o := range opts {
		o(d)
	}
	d.client = api.NewClient(
		api.WithTimeout(s.Timeout),
		api.WithRateLimiter(s.Limiter),
		api.WithLogging(true),
	)
	return d
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (d *OpenAIDecider) Decide(ctx context.Context, snap types.MarketSnapshot) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	if d.apiKey == "" {
		return types.Decision{}, errors.New("OPENAI_API_KEY missing")
	}

	system, user := d.settings.Messages(snap)
	body := chatRequest{
		Model: d.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: d.settings.Temperature,
		MaxTokens:   d.settings.MaxTokens,
	}

	req := api.NewRequest("POST", d.endpoint).
		WithContext(ctx).
		WithBody(body).
		WithHeader("Authorization", "Bearer "+d.apiKey)
	resp, err := d.client.DoWithRetry(req, api.DefaultRetryConfig())
	if err != nil {
		return types.Decision{}, err
	}

	var r chatResponse
	if err := resp.ParseJSON(&r); err != nil {
		return types.Decision{}, err
	}
	if len(r.Choices) == 0 {
		return types.Decision{}, errors.New("no choices")
	}

	return d.settings.Resolve(strings.TrimSpace(r.Choices[0].Message.Content), user, snap), nil
}
