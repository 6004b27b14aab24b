// Package app wires retrieval, normalization, deduplication and ranking
// into one aggregation service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/deusflow/newsmesh/internal/feed"
	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/news"
	"github.com/deusflow/newsmesh/internal/query"
	"github.com/deusflow/newsmesh/internal/rank"
	"github.com/deusflow/newsmesh/internal/session"
	"github.com/deusflow/newsmesh/internal/sources"
)

// ErrNoCorpus is returned when no aggregation cycle has ever succeeded.
var ErrNoCorpus = errors.New("no corpus available")

// Fetcher is satisfied by *fetch.Fetcher.
type Fetcher interface {
	FetchAll(ctx context.Context, srcs []sources.Source) (fetch.Result, error)
}

// Enricher is satisfied by *enrich.Enricher.
type Enricher interface {
	Enrich(ctx context.Context, articles []news.Article) []news.Article
}

type Options struct {
	Sources    []sources.Source
	Fetcher    Fetcher
	Normalizer *feed.Normalizer
	Ranker     *rank.Ranker
	Enricher   Enricher // nil disables enrichment
	Sessions   session.Store
	Limit      int
	MaxLimit   int
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

type Service struct {
	sources    []sources.Source
	fetcher    Fetcher
	normalizer *feed.Normalizer
	ranker     *rank.Ranker
	enricher   Enricher
	sessions   session.Store
	limit      int
	maxLimit   int
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time

	corpus  atomic.Pointer[news.Corpus]
	stale   atomic.Bool
	refresh singleflight.Group
}

func New(opts Options) *Service {
	s := &Service{
		sources:    opts.Sources,
		fetcher:    opts.Fetcher,
		normalizer: opts.Normalizer,
		ranker:     opts.Ranker,
		enricher:   opts.Enricher,
		sessions:   opts.Sessions,
		limit:      opts.Limit,
		maxLimit:   opts.MaxLimit,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "app")
	if s.normalizer == nil {
		s.normalizer = feed.NewNormalizer(s.log)
	}
	if s.ranker == nil {
		s.ranker = rank.New(nil)
	}
	if s.sessions == nil {
		s.sessions = session.NopStore{}
	}
	if s.limit <= 0 {
		s.limit = rank.DefaultLimit
	}
	if s.maxLimit < s.limit {
		s.maxLimit = s.limit
	}
	if s.metrics == nil {
		s.metrics = metrics.Global
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Sources() []sources.Source {
	return s.sources
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Corpus returns the published corpus and whether it is stale, meaning
// the latest cycle failed and this one is left over from before.
func (s *Service) Corpus() (*news.Corpus, bool, error) {
	c := s.corpus.Load()
	if c == nil {
		return nil, false, ErrNoCorpus
	}
	return c, s.stale.Load(), nil
}

// Refresh runs one aggregation cycle and publishes the new corpus.
// Concurrent callers share one cycle. On total failure the previous
// corpus stays published and the error wraps fetch.ErrTotalFailure.
//
// Cancelling ctx only stops this caller from waiting: the cycle itself
// keeps its values but not its cancellation, and is bounded by the
// per-attempt timeouts alone.
func (s *Service) Refresh(ctx context.Context) (*news.Corpus, error) {
	ch := s.refresh.DoChan("refresh", func() (interface{}, error) {
		return s.runCycle(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*news.Corpus), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) runCycle(ctx context.Context) (*news.Corpus, error) {
	start := s.now()
	s.log.Info("aggregation cycle started", "sources", len(s.sources))

	res, err := s.fetcher.FetchAll(ctx, s.sources)
	if err != nil {
		duration := s.now().Sub(start)
		s.metrics.RecordCycle(res.Attempted, res.Succeeded, duration, s.corpus.Load().Len())
		s.metrics.SetError(err.Error())
		if s.corpus.Load() != nil {
			s.stale.Store(true)
		}
		s.log.Error("aggregation cycle failed", "attempted", res.Attempted, "error", err)
		return nil, err
	}

	lists := make([][]news.Article, len(res.Payloads))
	normalized := 0
	for i, p := range res.Payloads {
		lists[i] = s.normalizer.Normalize(p, start)
		normalized += len(lists[i])
		s.log.Debug("source normalized", "source", p.Source.Name, "via", p.Via, "articles", len(lists[i]))
	}
	merged := news.Merge(lists...)
	duplicates := news.Duplicates(lists, merged)

	corpus := &news.Corpus{
		Articles:  merged,
		BuiltAt:   start,
		Attempted: res.Attempted,
		Succeeded: res.Succeeded,
	}
	s.corpus.Store(corpus)
	s.stale.Store(false)

	duration := s.now().Sub(start)
	s.metrics.AddArticlesNormalized(normalized)
	s.metrics.AddDuplicatesFiltered(duplicates)
	s.metrics.RecordCycle(res.Attempted, res.Succeeded, duration, len(merged))

	s.log.Info("aggregation cycle complete",
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"ratio", fmt.Sprintf("%.2f", res.Ratio()),
		"articles", len(merged),
		"duplicates", duplicates,
		"duration", duration,
	)
	for _, f := range res.Failures {
		s.log.Warn("source unavailable", "source", f.Source, "error", f.Err)
	}
	return corpus, nil
}

// SweepSessions drops expired session entries when the store supports it.
func (s *Service) SweepSessions(ctx context.Context) (int64, error) {
	sw, ok := s.sessions.(session.Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.Sweep(ctx)
	if err != nil {
		return n, fmt.Errorf("sweep sessions: %w", err)
	}
	if n > 0 {
		s.log.Info("expired sessions dropped", "count", n)
	}
	return n, nil
}

type Request struct {
	Query     string
	Limit     int
	SessionID string
	// Resume reuses the session's last term when Query is empty.
	Resume bool
}

type CorpusStats struct {
	Size      int       `json:"size"`
	BuiltAt   time.Time `json:"builtAt"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
}

type Response struct {
	Query    string               `json:"query"`
	Variants []string             `json:"variants,omitempty"`
	Mode     rank.Mode            `json:"mode"`
	Total    int                  `json:"total"`
	Results  []rank.ScoredArticle `json:"results"`
	Corpus   CorpusStats          `json:"corpus"`
	Stale    bool                 `json:"stale"`
}

// Search ranks the published corpus, running a cycle first when none
// exists yet. Only the returned page is enriched.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" && req.Resume && req.SessionID != "" {
		last, ok, err := s.sessions.LastQuery(ctx, req.SessionID)
		if err != nil {
			s.log.Warn("session lookup failed", "session", req.SessionID, "error", err)
		} else if ok {
			q = last
		}
	}

	corpus := s.corpus.Load()
	if corpus == nil {
		c, err := s.Refresh(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrNoCorpus, err)
		}
		corpus = c
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.limit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	result := s.ranker.Search(corpus.Articles, query.Query{Raw: q}, limit)
	items := result.Items
	if s.enricher != nil && len(items) > 0 {
		items = s.enrich(ctx, items)
	}
	s.metrics.IncrementSearches(string(result.Mode))

	if req.SessionID != "" && q != "" {
		if err := s.sessions.SaveQuery(ctx, req.SessionID, q); err != nil {
			s.log.Warn("session save failed", "session", req.SessionID, "error", err)
		}
	}

	return Response{
		Query:    q,
		Variants: result.Variants,
		Mode:     result.Mode,
		Total:    result.Total,
		Results:  items,
		Corpus: CorpusStats{
			Size:      corpus.Len(),
			BuiltAt:   corpus.BuiltAt,
			Attempted: corpus.Attempted,
			Succeeded: corpus.Succeeded,
		},
		Stale: s.stale.Load(),
	}, nil
}

func (s *Service) enrich(ctx context.Context, items []rank.ScoredArticle) []rank.ScoredArticle {
	articles := make([]news.Article, len(items))
	for i, it := range items {
		articles[i] = it.Article
	}
	enriched := s.enricher.Enrich(ctx, articles)

	out := make([]rank.ScoredArticle, len(items))
	for i, it := range items {
		out[i] = it
		if i < len(enriched) {
			out[i].Image = enriched[i].Image
		}
	}
	return out
}
