package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsmesh/internal/logger"
	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/news"
	"github.com/deusflow/newsmesh/internal/relay"
)

func TestAcceptHost(t *testing.T) {
	tests := []struct {
		image, article string
		want           bool
	}{
		{"www.ynet.co.il", "ynet.co.il", true},
		{"ynet.co.il", "www.ynet.co.il", true},
		{"images.ynet.co.il", "www.ynet.co.il", true},
		{"ynet-pic1.yit.co.il", "www.ynet.co.il", false},
		{"ichef.bbci.co.uk", "www.bbc.co.uk", false},
		{"ichef.bbc.co.uk", "www.bbc.co.uk", true},
		{"d1234.cloudfront.net", "www.reuters.com", true},
		{"cloudfront.net.evil.example", "www.reuters.com", false},
		{"pbs.twimg.com", "edition.cnn.com", true},
		{"cdn.cnn.com", "edition.cnn.com", true},
		{"cdn.unrelated-site.com", "www.ynet.co.il", false},
		{"img.random-blog.net", "www.ynet.co.il", false},
		{"images.competitor.org", "www.ynet.co.il", false},
		{"static.tracker.io", "www.ynet.co.il", false},
		{"media.spam.biz", "www.ynet.co.il", false},
		{"tracker.ads.example", "edition.cnn.com", false},
		{"co.il", "www.ynet.co.il", false},
		{"10.0.0.1", "127.0.0.1", false},
		{"127.0.0.1", "127.0.0.1", true},
		{"", "ynet.co.il", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AcceptHost(tt.image, tt.article, DefaultHostPatterns), "%s on %s", tt.image, tt.article)
	}

	assert.True(t, AcceptHost("pic.partner.example", "ynet.co.il", []string{"pic.partner.example"}))
	assert.False(t, AcceptHost("cdn.partner.example", "ynet.co.il", []string{"cdn.*"}), "prefix patterns are not supported")
}

func newEnricher(opts Options) *Enricher {
	opts.Policy = &relay.HostPolicy{AllowHosts: []string{"127.0.0.1"}}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	opts.Logger = logger.Discard()
	return New(opts)
}

func page(head, body string) string {
	return "<!doctype html><html><head>" + head + "</head><body>" + body + "</body></html>"
}

func TestFindImagePriority(t *testing.T) {
	pages := map[string]string{
		"/og": page(
			`<meta property="og:image" content="https://evil.example/wrong.jpg">
			 <meta property="og:image:secure_url" content="/img/secure.jpg">
			 <meta name="twitter:image" content="/img/twitter.jpg">`,
			`<img src="/img/first.jpg">`),
		"/twitter": page(`<meta name="twitter:image:src" content="https://pbs.twimg.com/media/x.jpg">`, ``),
		"/link":    page(`<link rel="image_src" href="/img/link.png">`, `<img src="/img/other.png">`),
		"/article": page(``, `<header><img src="/logo.png"></header><article><p>x</p><img src="/img/story.jpg"></article>`),
		"/img":     page(``, `<img src="data:image/gif;base64,R0lGOD"><img src="/img/plain.gif">`),
		"/none":    page(`<meta property="og:image" content="https://unrelated.example/a.jpg">`, `<p>text only</p>`),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		html, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	defer srv.Close()

	e := newEnricher(Options{})
	ctx := context.Background()

	want := map[string]string{
		"/og":      srv.URL + "/img/secure.jpg",
		"/twitter": "https://pbs.twimg.com/media/x.jpg",
		"/link":    srv.URL + "/img/link.png",
		"/article": srv.URL + "/img/story.jpg",
		"/img":     srv.URL + "/img/plain.gif",
		"/none":    "",
	}
	for path, expected := range want {
		got, err := e.FindImage(ctx, srv.URL+path)
		require.NoError(t, err, path)
		assert.Equal(t, expected, got, path)
	}

	_, err := e.FindImage(ctx, srv.URL+"/missing")
	assert.Error(t, err)
}

func TestFindImageDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1255")
		// alt text is windows-1255 encoded Hebrew
		fmt.Fprint(w, "<html><body><img alt=\"\xf9\xec\xe5\xed\" src=\"/a.jpg\"></body></html>")
	}))
	defer srv.Close()

	got, err := newEnricher(Options{}).FindImage(context.Background(), srv.URL+"/story")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/a.jpg", got)
}

func TestEnrichOnlyFillsMissingImages(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		case "/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, page(`<meta property="og:image" content="/og.jpg">`, ``))
	}))
	defer srv.Close()

	m := metrics.New()
	e := newEnricher(Options{Metrics: m, Timeout: 50 * time.Millisecond, Concurrency: 2})

	in := []news.Article{
		{ID: "a", URL: srv.URL + "/a"},
		{ID: "b", URL: srv.URL + "/b", Image: "https://keep.example/b.jpg"},
		{ID: "c", URL: srv.URL + "/broken"},
		{ID: "d", URL: srv.URL + "/slow"},
		{ID: "e", URL: "http://10.0.0.5/private"},
	}
	out := e.Enrich(context.Background(), in)

	require.Len(t, out, len(in))
	assert.Equal(t, srv.URL+"/og.jpg", out[0].Image)
	assert.Equal(t, "https://keep.example/b.jpg", out[1].Image)
	assert.Empty(t, out[2].Image)
	assert.Empty(t, out[3].Image)
	assert.Empty(t, out[4].Image)

	assert.Empty(t, in[0].Image, "input is not mutated")
	assert.Equal(t, int32(3), hits.Load(), "article with an image and blocked host are never fetched")
	assert.Equal(t, int64(1), m.GetStats()["images_enriched"])
}

func TestNewLeavesCallerClientUntouched(t *testing.T) {
	shared := &http.Client{Timeout: 3 * time.Second}
	e := New(Options{Client: shared, Logger: logger.Discard(), Metrics: metrics.New()})

	assert.Nil(t, shared.CheckRedirect)
	require.NotNil(t, e.client.CheckRedirect)
	assert.Equal(t, 3*time.Second, e.client.Timeout)
}
