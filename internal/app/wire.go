package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/deusflow/newsmesh/internal/config"
	"github.com/deusflow/newsmesh/internal/enrich"
	"github.com/deusflow/newsmesh/internal/feed"
	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/query"
	"github.com/deusflow/newsmesh/internal/rank"
	"github.com/deusflow/newsmesh/internal/ratelimit"
	"github.com/deusflow/newsmesh/internal/relay"
	"github.com/deusflow/newsmesh/internal/retry"
	"github.com/deusflow/newsmesh/internal/sources"
)

// Build assembles a Service from configuration. The returned close func
// releases the session store.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*Service, func() error, error) {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.Global
	}

	srcs, err := sources.LoadOrDefault(cfg.SourcesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load sources: %w", err)
	}
	dict, err := query.LoadDictionaryOrDefault(cfg.DictionaryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load dictionary: %w", err)
	}
	for _, a := range dict.Validate() {
		log.Warn("dictionary entry is asymmetric", "entry", a.String())
	}
	relays, err := relay.Parse(cfg.Relays)
	if err != nil {
		return nil, nil, err
	}

	policy := &relay.HostPolicy{Resolve: true}

	fetcher := fetch.New(fetch.Options{
		Client:  &http.Client{},
		Relays:  relays,
		Policy:  policy,
		Timeout: cfg.AttemptTimeout,
		Retry: retry.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     true,
		},
		MaxBody:     cfg.MaxBodyBytes,
		UserAgent:   cfg.UserAgent,
		Concurrency: cfg.FetchConcurrency,
		Metrics:     m,
		Logger:      log,
	})

	var enricher Enricher
	if cfg.EnrichEnabled {
		enricher = enrich.New(enrich.Options{
			Client:      &http.Client{},
			Policy:      policy,
			AllowHosts:  cfg.EnrichHosts,
			Concurrency: cfg.EnrichConcurrency,
			Timeout:     cfg.AttemptTimeout,
			Limiter:     ratelimit.NewHostLimiter(2, 2),
			UserAgent:   cfg.UserAgent,
			Metrics:     m,
			Logger:      log,
		})
	}

	store, closeStore, err := OpenSessionStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := New(Options{
		Sources:    srcs,
		Fetcher:    fetcher,
		Normalizer: feed.NewNormalizer(log),
		Ranker:     rank.New(query.NewExpander(dict)),
		Enricher:   enricher,
		Sessions:   store,
		Limit:      cfg.SearchLimit,
		MaxLimit:   cfg.SearchMaxLimit,
		Metrics:    m,
		Logger:     log,
	})
	return svc, closeStore, nil
}
