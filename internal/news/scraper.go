package news

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"mt5-llm-trader/internal/api"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/store"
)

// Headline is one item from a feed or listing page.
type Headline struct {
	Title     string
	Link      string
	Source    string
	Published string
}

// Scraper pulls headlines from RSS feeds and HTML listing pages.
type Scraper struct {
	sources []store.NewsSource
	client  *api.Client
	timeout time.Duration
}

func NewScraper(sources []store.NewsSource, timeout time.Duration) *Scraper {
	return &Scraper{
		sources: sources,
		client:  api.NewClient(api.WithTimeout(timeout)),
		timeout: timeout,
	}
}

// ScrapeAll visits every source. A failing source is logged and skipped.
func (s *Scraper) ScrapeAll(ctx context.Context, maxPerSource int) []Headline {
	var all []Headline
	seen := map[string]bool{}
	for _, src := range s.sources {
		var (
			items []Headline
			err   error
		)
		if src.Kind == "html" {
			items, err = s.scrapeHTML(ctx, src, maxPerSource)
		} else {
			items, err = s.scrapeRSS(ctx, src, maxPerSource)
		}
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to scrape source", err, "source", src.Name)
			continue
		}
		for _, h := range items {
			key := strings.ToLower(h.Title)
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, h)
		}
	}
	logger.Debug(ctx, "News scraping completed", "sources", len(s.sources), "headlines", len(all))
	return all
}

func (s *Scraper) scrapeRSS(ctx context.Context, src store.NewsSource, max int) ([]Headline, error) {
	resp, err := s.client.GET(ctx, src.URL, api.BrowserHeaders())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.URL, err)
	}

	itemSel := src.Item
	if itemSel == "" {
		itemSel = "item"
	}
	var out []Headline
	doc.Find(itemSel).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if max > 0 && len(out) >= max {
			return false
		}
		title := cleanText(item.Find("title").First().Text())
		if title == "" {
			return true
		}
		out = append(out, Headline{
			Title:     title,
			Link:      rssLink(item),
			Source:    src.Name,
			Published: cleanText(item.Find("pubDate, pubdate, published").First().Text()),
		})
		return true
	})
	return out, nil
}

// rssLink reads <link>; the HTML parser treats it as a void element so the URL
// ends up in the following text node.
func rssLink(item *goquery.Selection) string {
	link := item.Find("link").First()
	if href, ok := link.Attr("href"); ok {
		return href
	}
	if t := cleanText(link.Text()); t != "" {
		return t
	}
	if n := link.Nodes; len(n) > 0 && n[0].NextSibling != nil {
		if t := cleanText(n[0].NextSibling.Data); t != "" {
			return t
		}
	}
	return cleanText(item.Find("guid").First().Text())
}

func (s *Scraper) scrapeHTML(ctx context.Context, src store.NewsSource, max int) ([]Headline, error) {
	var out []Headline

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range api.BrowserHeaders() {
			r.Headers.Set(k, v)
		}
	})

	c.OnHTML(src.Item, func(e *colly.HTMLElement) {
		if max > 0 && len(out) >= max {
			return
		}
		titleSel := src.Title
		if titleSel == "" {
			titleSel = "a"
		}
		title := cleanText(e.ChildText(titleSel))
		if title == "" {
			return
		}
		linkSel := src.Link
		if linkSel == "" {
			linkSel = "a"
		}
		h := Headline{
			Title:  title,
			Link:   e.Request.AbsoluteURL(e.ChildAttr(linkSel, "href")),
			Source: src.Name,
		}
		if src.Datetime != "" {
			h.Published = cleanText(e.ChildText(src.Datetime))
		}
		out = append(out, h)
	})

	var scrapeErr error
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = err
		logger.Warn(ctx, "Scraping error", "source", src.Name, "url", r.Request.URL.String(), "status", r.StatusCode)
	})

	if err := c.Visit(src.URL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", src.URL, err)
	}
	c.Wait()
	if scrapeErr != nil {
		return nil, scrapeErr
	}
	return out, nil
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return strings.Join(strings.Fields(s), " ")
}
