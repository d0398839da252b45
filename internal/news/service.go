// Package news turns public headlines into a per-pair context for the prompt and
// the high-impact news gate.
package news

import (
	"context"
	"sort"
	"sync"
	"time"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/types"
)

type ServiceConfig struct {
	Enabled      bool
	MaxHeadlines int           // per symbol
	CacheTTL     time.Duration // per symbol context and the raw feed
	Timeout      time.Duration
	Sources      []store.NewsSource
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Enabled:      true,
		MaxHeadlines: 8,
		CacheTTL:     30 * time.Minute,
		Timeout:      15 * time.Second,
	}
}

// ConfigFrom maps the news section of the bot config.
func ConfigFrom(cfg *store.Config) ServiceConfig {
	return ServiceConfig{
		Enabled:      cfg.News.Enabled,
		MaxHeadlines: cfg.News.MaxHeadlines,
		CacheTTL:     time.Duration(cfg.News.CacheMinutes) * time.Minute,
		Timeout:      time.Duration(cfg.News.TimeoutSeconds) * time.Second,
		Sources:      cfg.News.Sources,
	}
}

type fetcher interface {
	ScrapeAll(ctx context.Context, maxPerSource int) []Headline
}

type Service struct {
	cfg     ServiceConfig
	scraper fetcher
	now     func() time.Time

	mu     sync.Mutex
	feed   []Headline
	feedAt time.Time
	cache  map[string]cacheEntry
}

type cacheEntry struct {
	news *types.NewsContext
	at   time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg ServiceConfig, opts ...Option) *Service {
	d := DefaultServiceConfig()
	if cfg.MaxHeadlines <= 0 {
		cfg.MaxHeadlines = d.MaxHeadlines
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = d.CacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	s := &Service{
		cfg:     cfg,
		scraper: NewScraper(cfg.Sources, cfg.Timeout),
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Context returns the headlines relevant to symbol. It returns nil when news is
// disabled and an empty context when nothing could be fetched.
func (s *Service) Context(ctx context.Context, symbol string) *types.NewsContext {
	if !s.cfg.Enabled {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cache[symbol]; ok && now.Sub(e.at) < s.cfg.CacheTTL {
		logger.Debug(ctx, "Using cached news", "symbol", symbol, "age_minutes", now.Sub(e.at).Minutes())
		return e.news
	}

	if s.feed == nil || now.Sub(s.feedAt) >= s.cfg.CacheTTL {
		s.feed = s.scraper.ScrapeAll(ctx, 4*s.cfg.MaxHeadlines)
		if s.feed == nil {
			s.feed = []Headline{}
		}
		s.feedAt = now
	}

	nc := filterFor(symbol, s.feed, s.cfg.MaxHeadlines)
	s.cache[symbol] = cacheEntry{news: nc, at: now}
	s.pruneLocked(now)

	if nc.HighImpact {
		logger.Info(ctx, "High impact news", "symbol", symbol, "matched", nc.Matched)
	}
	return nc
}

func filterFor(symbol string, feed []Headline, max int) *types.NewsContext {
	terms := keywordsFor(symbol)
	nc := &types.NewsContext{Headlines: []string{}}
	matched := map[string]bool{}
	for _, h := range feed {
		if len(nc.Headlines) >= max {
			break
		}
		term, ok := matchAny(h.Title, terms)
		if !ok {
			continue
		}
		nc.Headlines = append(nc.Headlines, h.Title)
		matched[term] = true
		if IsHighImpact(h.Title) {
			nc.HighImpact = true
		}
	}
	for t := range matched {
		nc.Matched = append(nc.Matched, t)
	}
	sort.Strings(nc.Matched)
	return nc
}

func (s *Service) pruneLocked(now time.Time) {
	for sym, e := range s.cache {
		if now.Sub(e.at) >= s.cfg.CacheTTL {
			delete(s.cache, sym)
		}
	}
}

// ClearCache drops cached contexts and the raw feed.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
	s.feed = nil
}

func (s *Service) CachedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cache))
	for sym := range s.cache {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
