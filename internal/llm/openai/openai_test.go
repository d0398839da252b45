package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap() types.MarketSnapshot {
	return types.MarketSnapshot{
		Symbol: "EURUSD", Timeframe: types.M5, Price: 1.085,
		Info:       types.SymbolInfo{Digits: 5, Point: 0.00001},
		Indicators: types.Indicators{RSI: 50, BBUpper: 1.086, BBMiddle: 1.085, BBLower: 1.084, EMAFast: 1.0851, EMASlow: 1.0849},
	}
}

func server(t *testing.T, content string, check func(*http.Request, chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(r, req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDecideParsesReply(t *testing.T) {
	t.Parallel()
	reply := `{"action":"buy","reasoning":"EMA 9 over 21 on both timeframes, middle Bollinger band, RSI 50 neutral"}`
	srv := server(t, reply, func(r *http.Request, req chatRequest) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "EURUSD")
		assert.Equal(t, "gpt-4", req.Model)
	})

	d := NewOpenAIDecider(store.Default(), WithEndpoint(srv.URL), WithAPIKey("sk-test"))
	got, err := d.Decide(context.Background(), snap())
	require.NoError(t, err)
	assert.Equal(t, types.ActionBuy, got.Action)
	assert.False(t, got.Rejected)
	assert.Equal(t, reply, got.Raw)
	assert.Contains(t, got.Prompt, "Trading analysis: EURUSD")
}

func TestDecideRejectsProse(t *testing.T) {
	t.Parallel()
	srv := server(t, "I think buying is a good idea.", nil)

	d := NewOpenAIDecider(store.Default(), WithEndpoint(srv.URL), WithAPIKey("k"))
	got, err := d.Decide(context.Background(), snap())
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, got.Action)
	assert.True(t, got.Rejected)
}

func TestDecideMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIDecider(store.Default()).Decide(context.Background(), snap())
	assert.EqualError(t, err, "OPENAI_API_KEY missing")
}

func TestDecideClientErrorIsReturned(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAIDecider(store.Default(), WithEndpoint(srv.URL), WithAPIKey("bad")).Decide(context.Background(), snap())
	assert.Error(t, err)
}
