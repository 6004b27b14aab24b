package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsmesh/internal/app"
	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/logger"
	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/sources"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const feedBody = `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Haifa port expands</title><link>https://a.example/1</link><description>Shipping news</description></item>
<item><title>נמל חיפה מתרחב</title><link>https://b.example/2</link></item>
<item><title>Weather update</title><link>https://a.example/3</link></item>
</channel></rss>`

type stubFetcher struct {
	fail atomic.Bool
}

func (s *stubFetcher) FetchAll(_ context.Context, srcs []sources.Source) (fetch.Result, error) {
	res := fetch.Result{Attempted: len(srcs)}
	if s.fail.Load() {
		return res, fmt.Errorf("%w: %d of %d sources failed", fetch.ErrTotalFailure, len(srcs), len(srcs))
	}
	for _, src := range srcs {
		res.Payloads = append(res.Payloads, fetch.RawPayload{Source: src, Body: []byte(feedBody)})
	}
	res.Succeeded = len(res.Payloads)
	return res, nil
}

func newRouter(t *testing.T, f *stubFetcher) *gin.Engine {
	t.Helper()
	svc := app.New(app.Options{
		Sources:  []sources.Source{{Name: "A", Endpoint: "https://a.example/rss"}},
		Fetcher:  f,
		Limit:    20,
		MaxLimit: 50,
		Metrics:  metrics.New(),
		Logger:   logger.Discard(),
	})
	return NewRouter(svc, logger.Discard())
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	r := newRouter(t, &stubFetcher{})

	rec := do(r, http.MethodGet, "/search?q="+"%D7%97%D7%99%D7%A4%D7%94") // חיפה
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp app.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "search", string(resp.Mode))
	require.Len(t, resp.Results, 2)
	titles := []string{resp.Results[0].Title, resp.Results[1].Title}
	assert.ElementsMatch(t, []string{"Haifa port expands", "נמל חיפה מתרחב"}, titles)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	first := raw["results"].([]any)[0].(map[string]any)
	for _, key := range []string{"title", "description", "url", "publishedAt", "source", "score"} {
		assert.Contains(t, first, key)
	}
}

func TestSearchBrowseAndLimit(t *testing.T) {
	r := newRouter(t, &stubFetcher{})

	rec := do(r, http.MethodGet, "/search?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp app.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "browse", string(resp.Mode))
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 3, resp.Total)
}

func TestSearchRejectsBadLimit(t *testing.T) {
	r := newRouter(t, &stubFetcher{})
	for _, limit := range []string{"abc", "-1", "1.5"} {
		rec := do(r, http.MethodGet, "/search?q=x&limit="+limit)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
		assert.Contains(t, rec.Body.String(), "INVALID_LIMIT")
	}
}

func TestSearchZeroMatchesIsNotAnError(t *testing.T) {
	r := newRouter(t, &stubFetcher{})
	rec := do(r, http.MethodGet, "/search?q=nothing-matches-this")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, []any{}, raw["results"])
}

func TestTotalFailureIs503(t *testing.T) {
	f := &stubFetcher{}
	f.fail.Store(true)
	r := newRouter(t, f)

	rec := do(r, http.MethodGet, "/search?q=haifa")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "AGGREGATION_FAILED")

	rec = do(r, http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)
}

func TestRefreshAndHealth(t *testing.T) {
	r := newRouter(t, &stubFetcher{})

	rec := do(r, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats app.CorpusStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 1, stats.Succeeded)
	assert.WithinDuration(t, time.Now(), stats.BuiltAt, time.Minute)

	rec = do(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, map[string]any{"attempted": float64(1), "succeeded": float64(1)}, health["sources"])
}

func TestStatsAndMetrics(t *testing.T) {
	r := newRouter(t, &stubFetcher{})
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/search?q=haifa").Code)

	rec := do(r, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"searches_served":1`)

	rec = do(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `newsmesh_searches_total{mode="search"} 1`))
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(t, &stubFetcher{})
	rec := do(r, http.MethodOptions, "/search")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
