package mt5

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mt5-llm-trader/internal/logger"

	"github.com/gorilla/websocket"
)

// tickStream reads ticks from the bridge websocket into the cache and
// reconnects with backoff until stopped.
type tickStream struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	cache  *tickCache

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func newTickStream(baseURL, token string, symbols []string, cache *tickCache) (*tickStream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"
	u.RawQuery = url.Values{"symbols": {strings.Join(symbols, ",")}}.Encode()

	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return &tickStream{
		url:    u.String(),
		header: h,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		cache:  cache,
	}, nil
}

func (s *tickStream) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *tickStream) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *tickStream) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "Tick stream dial failed", "url", s.url, "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		logger.Info(ctx, "Tick stream connected", "url", s.url)
		backoff = time.Second
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.read(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Warn(ctx, "Tick stream closed, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func (s *tickStream) read(ctx context.Context, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn(ctx, "Tick stream read error", "error", err)
			}
			return
		}
		var t tick
		if err := json.Unmarshal(msg, &t); err != nil || t.Symbol == "" || t.Bid <= 0 {
			continue
		}
		s.cache.put(t.toTick(t.Symbol))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
