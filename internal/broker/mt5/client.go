// Package mt5 talks to a MetaTrader5 terminal through a local HTTP bridge.
package mt5

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"mt5-llm-trader/internal/api"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"
)

// RetcodeDone is TRADE_RETCODE_DONE, the only successful trade result.
const RetcodeDone = 10009

var ErrNoTick = errors.New("no tick")

// TradeError is a trade request the terminal refused.
type TradeError struct {
	Retcode int
	Comment string
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade rejected: retcode %d: %s", e.Retcode, e.Comment)
}

type Client struct {
	api     *api.Client
	baseURL string
	token   string
	retry   *api.RetryConfig

	streaming   bool
	tickMaxAge  time.Duration
	cache       *tickCache
	stream      *tickStream
	symbolInfos map[string]types.SymbolInfo
	mu          sync.RWMutex
}

var _ interfaces.Broker = (*Client)(nil)

type Option func(*Client)

// WithStream enables the websocket tick stream on Start.
func WithStream(enabled bool) Option {
	return func(c *Client) { c.streaming = enabled }
}

func WithTickMaxAge(d time.Duration) Option {
	return func(c *Client) { c.tickMaxAge = d }
}

func WithRetry(rc *api.RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		token:       token,
		retry:       api.DefaultRetryConfig(),
		tickMaxAge:  5 * time.Second,
		cache:       newTickCache(),
		symbolInfos: make(map[string]types.SymbolInfo),
	}
	for _, o := range opts {
		o(c)
	}
	c.api = api.NewClient(
		api.WithBaseURL(baseURL),
		api.WithTimeout(10*time.Second),
		api.WithBearerToken(token),
		api.WithLogging(true),
	)
	return c
}

// get retries idempotent reads.
func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.api.DoWithRetry(api.NewRequest(http.MethodGet, path).WithContext(ctx), c.retry)
	if err != nil {
		return err
	}
	return resp.ParseJSON(out)
}

// trade posts once; a trade request is never replayed.
func (c *Client) trade(ctx context.Context, path string, body any) (tradeResult, error) {
	var r tradeResult
	resp, err := c.api.POST(ctx, path, body)
	if err != nil {
		return r, err
	}
	if err := resp.ParseJSON(&r); err != nil {
		return r, err
	}
	if r.Retcode != RetcodeDone {
		return r, &TradeError{Retcode: r.Retcode, Comment: r.Comment}
	}
	return r, nil
}

func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Connected bool   `json:"connected"`
		Terminal  string `json:"terminal"`
	}
	if err := c.get(ctx, "/health", &out); err != nil {
		return err
	}
	if !out.Connected {
		return errors.New("bridge reports terminal disconnected")
	}
	return nil
}

func (c *Client) Account(ctx context.Context) (types.Account, error) {
	var a types.Account
	err := c.get(ctx, "/account", &a)
	return a, err
}

// SymbolInfo is cached after the first call; contract specs do not change intraday.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	c.mu.RLock()
	info, ok := c.symbolInfos[symbol]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	if err := c.get(ctx, "/symbols/"+url.PathEscape(symbol), &info); err != nil {
		return types.SymbolInfo{}, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	if info.Symbol == "" {
		info.Symbol = symbol
	}

	c.mu.Lock()
	c.symbolInfos[symbol] = info
	c.mu.Unlock()
	return info, nil
}

func (c *Client) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	if t, ok := c.cache.get(symbol, c.tickMaxAge); ok {
		return t, nil
	}
	var t tick
	if err := c.get(ctx, "/symbols/"+url.PathEscape(symbol)+"/tick", &t); err != nil {
		return types.Tick{}, err
	}
	if t.Bid <= 0 || t.Ask <= 0 {
		return types.Tick{}, fmt.Errorf("%w for %s", ErrNoTick, symbol)
	}
	return t.toTick(symbol), nil
}

func (c *Client) Rates(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Candle, error) {
	q := url.Values{"timeframe": {string(tf)}, "count": {strconv.Itoa(n)}}
	var rates []rate
	if err := c.get(ctx, "/symbols/"+url.PathEscape(symbol)+"/rates?"+q.Encode(), &rates); err != nil {
		return nil, err
	}
	out := make([]types.Candle, len(rates))
	for i, r := range rates {
		out[i] = r.candle()
	}
	return out, nil
}

func (c *Client) Positions(ctx context.Context, symbol string, magic int64) ([]types.Position, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if magic != 0 {
		q.Set("magic", strconv.FormatInt(magic, 10))
	}
	var ps []position
	if err := c.get(ctx, "/positions?"+q.Encode(), &ps); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.toPosition())
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	r, err := c.trade(ctx, "/orders", orderRequest{
		Symbol:    req.Symbol,
		Type:      typeOf(req.Side),
		Volume:    req.Volume,
		Price:     req.Price,
		SL:        req.SL,
		TP:        req.TP,
		Deviation: req.Deviation,
		Magic:     req.Magic,
		Comment:   req.Comment,
	})
	resp := types.OrderResp{
		OrderID: strconv.FormatUint(r.Order, 10),
		Ticket:  r.Order,
		Retcode: r.Retcode,
		Message: r.Comment,
		Price:   r.Price,
		Volume:  r.Volume,
		Status:  "FILLED",
	}
	if err != nil {
		resp.Status = "REJECTED"
		return resp, err
	}
	return resp, nil
}

func (c *Client) ModifyPosition(ctx context.Context, ticket uint64, sl, tp float64) error {
	_, err := c.trade(ctx, fmt.Sprintf("/positions/%d/modify", ticket), map[string]float64{"sl": sl, "tp": tp})
	return err
}

func (c *Client) ClosePosition(ctx context.Context, ticket uint64, volume float64, comment string) (types.OrderResp, error) {
	r, err := c.trade(ctx, fmt.Sprintf("/positions/%d/close", ticket), map[string]any{"volume": volume, "comment": comment})
	resp := types.OrderResp{
		OrderID: strconv.FormatUint(r.Order, 10),
		Ticket:  ticket,
		Retcode: r.Retcode,
		Message: r.Comment,
		Price:   r.Price,
		Volume:  r.Volume,
		Status:  "CLOSED",
	}
	if err != nil {
		resp.Status = "REJECTED"
	}
	return resp, err
}

func (c *Client) Deals(ctx context.Context, from, to time.Time, magic int64) ([]types.Deal, error) {
	q := url.Values{
		"from": {strconv.FormatInt(from.Unix(), 10)},
		"to":   {strconv.FormatInt(to.Unix(), 10)},
	}
	if magic != 0 {
		q.Set("magic", strconv.FormatInt(magic, 10))
	}
	var ds []deal
	if err := c.get(ctx, "/deals?"+q.Encode(), &ds); err != nil {
		return nil, err
	}
	out := make([]types.Deal, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.toDeal())
	}
	return out, nil
}

// Start checks the bridge and, if enabled, opens the tick stream.
func (c *Client) Start(ctx context.Context, symbols []string) error {
	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("mt5 bridge health: %w", err)
	}
	for _, s := range symbols {
		if _, err := c.SymbolInfo(ctx, s); err != nil {
			return err
		}
	}
	if !c.streaming || len(symbols) == 0 {
		return nil
	}
	st, err := newTickStream(c.baseURL, c.token, symbols, c.cache)
	if err != nil {
		return fmt.Errorf("tick stream: %w", err)
	}
	c.stream = st
	// detached from ctx's deadline; Stop ends it
	st.start(context.WithoutCancel(ctx))
	logger.Info(ctx, "MT5 tick stream started", "symbols", symbols)
	return nil
}

func (c *Client) Stop(ctx context.Context) {
	if c.stream != nil {
		c.stream.stop()
		c.stream = nil
	}
	c.cache.clear()
	logger.Info(ctx, "MT5 client stopped")
}
