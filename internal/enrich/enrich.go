// Package enrich backfills missing article images from the article page
// itself. It only runs over ranked result sets.
package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/news"
	"github.com/deusflow/newsmesh/internal/ratelimit"
	"github.com/deusflow/newsmesh/internal/relay"
)

// imageSelectors are tried in order; the first accepted candidate wins.
var imageSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="og:image"]`, "content"},
	{`meta[property="og:image:secure_url"]`, "content"},
	{`meta[name="twitter:image"]`, "content"},
	{`meta[name="twitter:image:src"]`, "content"},
	{`link[rel="image_src"]`, "href"},
	{`article img[src]`, "src"},
	{`img[src]`, "src"},
}

type Options struct {
	Client      *http.Client
	Policy      *relay.HostPolicy
	AllowHosts  []string // extra CDN host patterns
	Concurrency int
	Timeout     time.Duration
	Limiter     *ratelimit.HostLimiter
	UserAgent   string
	MaxBody     int64
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Enricher struct {
	client      *http.Client
	policy      *relay.HostPolicy
	patterns    []string
	concurrency int
	timeout     time.Duration
	limiter     *ratelimit.HostLimiter
	userAgent   string
	maxBody     int64
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func New(opts Options) *Enricher {
	e := &Enricher{
		client:      opts.Client,
		policy:      opts.Policy,
		patterns:    append(append([]string(nil), DefaultHostPatterns...), opts.AllowHosts...),
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		limiter:     opts.Limiter,
		userAgent:   opts.UserAgent,
		maxBody:     opts.MaxBody,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
	if e.policy == nil {
		e.policy = relay.DefaultPolicy()
	}
	if e.client == nil {
		e.client = &http.Client{}
	} else {
		c := *e.client
		e.client = &c
	}
	e.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		_, err := e.policy.Check(req.Context(), req.URL.String())
		return err
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if e.timeout <= 0 {
		e.timeout = 10 * time.Second
	}
	if e.userAgent == "" {
		e.userAgent = "Mozilla/5.0 (compatible; NewsMesh/1.0)"
	}
	if e.maxBody <= 0 {
		e.maxBody = 2 << 20
	}
	if e.metrics == nil {
		e.metrics = metrics.Global
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "enrich")
	return e
}

// Enrich returns a copy of articles where missing images were found on
// the article page. Failures leave the image empty.
func (e *Enricher) Enrich(ctx context.Context, articles []news.Article) []news.Article {
	out := make([]news.Article, len(articles))
	copy(out, articles)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range out {
		if out[i].Image != "" {
			continue
		}
		g.Go(func() error {
			img, err := e.FindImage(ctx, out[i].URL)
			switch {
			case err != nil:
				e.metrics.RecordEnrichment("error")
				e.log.Debug("page fetch failed", "url", out[i].URL, "error", err)
			case img == "":
				e.metrics.RecordEnrichment("none")
			default:
				e.metrics.RecordEnrichment("found")
				out[i].Image = img
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FindImage fetches pageURL and returns the first acceptable image, or ""
// when the page has none.
func (e *Enricher) FindImage(ctx context.Context, pageURL string) (string, error) {
	if _, err := e.policy.Check(ctx, pageURL); err != nil {
		return "", err
	}
	if err := e.limiter.WaitURL(ctx, pageURL); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, e.maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("error decoding page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("error parsing HTML: %w", err)
	}

	// the final URL after redirects is what relative candidates resolve against
	return e.extractImage(doc, resp.Request.URL), nil
}

func (e *Enricher) extractImage(doc *goquery.Document, page *url.URL) string {
	var found string
	for _, s := range imageSelectors {
		doc.Find(s.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			raw, ok := sel.Attr(s.attr)
			if ok {
				found = e.accept(raw, page)
			}
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// accept resolves raw against page and checks its host.
func (e *Enricher) accept(raw string, page *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u := page.ResolveReference(ref)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	if !AcceptHost(u.Hostname(), page.Hostname(), e.patterns) {
		return ""
	}
	return u.String()
}
