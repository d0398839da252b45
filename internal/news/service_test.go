package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mt5-llm-trader/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	headlines []Headline
	calls     int
}

func (f *fakeFetcher) ScrapeAll(context.Context, int) []Headline {
	f.calls++
	return f.headlines
}

func newTestService(f *fakeFetcher, now *time.Time) *Service {
	s := NewService(ServiceConfig{Enabled: true, MaxHeadlines: 2, CacheTTL: 10 * time.Minute},
		WithClock(func() time.Time { return *now }))
	s.scraper = f
	return s
}

func TestContextFiltersByCurrency(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	f := &fakeFetcher{headlines: []Headline{
		{Title: "ECB's Lagarde signals patience"},
		{Title: "Yen weakens as BoJ holds"},
		{Title: "US CPI beats forecasts, dollar jumps"},
		{Title: "Euro slides after PMI miss"},
	}}
	s := newTestService(f, &now)

	nc := s.Context(context.Background(), "EURUSD")
	require.NotNil(t, nc)
	assert.Equal(t, []string{"ECB's Lagarde signals patience", "US CPI beats forecasts, dollar jumps"}, nc.Headlines)
	assert.True(t, nc.HighImpact)
	assert.Equal(t, []string{"dollar", "ecb"}, nc.Matched)

	jpy := s.Context(context.Background(), "USDJPY")
	assert.Contains(t, jpy.Headlines, "Yen weakens as BoJ holds")
	assert.Equal(t, 1, f.calls, "feed is shared across symbols")
}

func TestContextCachesPerSymbol(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	f := &fakeFetcher{headlines: []Headline{{Title: "Sterling firm ahead of BoE"}}}
	s := newTestService(f, &now)

	first := s.Context(context.Background(), "GBPUSD")
	f.headlines = nil
	now = now.Add(5 * time.Minute)
	assert.Same(t, first, s.Context(context.Background(), "GBPUSD"))
	assert.Equal(t, []string{"GBPUSD"}, s.CachedSymbols())

	now = now.Add(10 * time.Minute)
	fresh := s.Context(context.Background(), "GBPUSD")
	assert.Empty(t, fresh.Headlines)
	assert.Equal(t, 2, f.calls)

	s.ClearCache()
	assert.Empty(t, s.CachedSymbols())
}

func TestContextDisabledAndEmpty(t *testing.T) {
	t.Parallel()
	s := NewService(ServiceConfig{Enabled: false})
	assert.Nil(t, s.Context(context.Background(), "EURUSD"))

	now := time.Now()
	empty := newTestService(&fakeFetcher{}, &now)
	nc := empty.Context(context.Background(), "EURUSD")
	require.NotNil(t, nc)
	assert.Empty(t, nc.Headlines)
	assert.False(t, nc.HighImpact)
}

func TestIsHighImpact(t *testing.T) {
	t.Parallel()
	assert.True(t, IsHighImpact("Fed rate decision due at 18:00 GMT"))
	assert.True(t, IsHighImpact("Nonfarm Payrolls preview"))
	assert.False(t, IsHighImpact("Euro drifts in quiet trade"))
	assert.Empty(t, keywordsFor("EUR"))
}

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>FX wire</title>
<item><title>Euro rises as ECB stays hawkish</title><link>https://example.com/a</link><pubDate>Tue, 03 Jun 2025 10:00:00 GMT</pubDate></item>
<item><title><![CDATA[Dollar steady before NFP]]></title><link>https://example.com/b</link></item>
<item><title>Euro rises as ECB stays hawkish</title><link>https://example.com/dup</link></item>
</channel></rss>`

const htmlBody = `<html><body>
<ul class="news">
<li class="story"><a href="/fx/1">Yen slides to 155 per dollar</a><time>10:00</time></li>
<li class="story"><a href="/fx/2">Gold hits record</a><time>10:05</time></li>
</ul></body></html>`

func TestScraperSources(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rss":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, rssBody)
		case "/list":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, htmlBody)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewScraper([]store.NewsSource{
		{Name: "wire", Kind: "rss", URL: srv.URL + "/rss"},
		{Name: "broken", Kind: "rss", URL: srv.URL + "/missing"},
		{Name: "desk", Kind: "html", URL: srv.URL + "/list", Item: "li.story", Title: "a", Link: "a", Datetime: "time"},
	}, 5*time.Second)

	got := s.ScrapeAll(context.Background(), 10)
	require.Len(t, got, 4)
	assert.Equal(t, "Euro rises as ECB stays hawkish", got[0].Title)
	assert.Equal(t, "https://example.com/a", got[0].Link)
	assert.Equal(t, "Dollar steady before NFP", got[1].Title)
	assert.Equal(t, "Yen slides to 155 per dollar", got[2].Title)
	assert.Equal(t, srv.URL+"/fx/1", got[2].Link)
	assert.Equal(t, "10:00", got[2].Published)
	assert.Equal(t, "desk", got[3].Source)
}
