// Package fetch retrieves raw feed payloads: a direct request first, then an
// ordered chain of relays, with every source fetched concurrently.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/relay"
	"github.com/deusflow/newsmesh/internal/retry"
	"github.com/deusflow/newsmesh/internal/sources"
)

const (
	ViaDirect = "direct"

	defaultTimeout = 10 * time.Second
	defaultMaxBody = 5 << 20
	sniffLen       = 2048
)

var (
	// ErrTotalFailure means no source yielded a usable feed in this cycle.
	ErrTotalFailure = errors.New("all sources failed")
	// ErrInsaneFeed means a 2xx body carried no recognizable feed root.
	ErrInsaneFeed = errors.New("response is not a feed")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.Code)
}

// RawPayload is the body of the attempt that succeeded for a source.
type RawPayload struct {
	Source      sources.Source
	Body        []byte
	ContentType string
	Via         string
	FetchedAt   time.Time
}

type SourceFailure struct {
	Source string
	Err    error
}

// Result aggregates one FetchAll run. Payloads follow source order.
type Result struct {
	Payloads  []RawPayload
	Failures  []SourceFailure
	Attempted int
	Succeeded int
}

// Degraded reports partial success.
func (r Result) Degraded() bool {
	return r.Succeeded > 0 && r.Succeeded < r.Attempted
}

func (r Result) Ratio() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Attempted)
}

type Options struct {
	Client      *http.Client
	Relays      []relay.Relay
	Policy      *relay.HostPolicy
	Timeout     time.Duration // per attempt
	Retry       retry.RetryConfig
	MaxBody     int64
	UserAgent   string
	Concurrency int // 0 = one goroutine per source
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Fetcher struct {
	client      *http.Client
	relays      []relay.Relay
	policy      *relay.HostPolicy
	timeout     time.Duration
	retry       retry.RetryConfig
	maxBody     int64
	userAgent   string
	concurrency int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		relays:      opts.Relays,
		policy:      opts.Policy,
		timeout:     opts.Timeout,
		retry:       opts.Retry,
		maxBody:     opts.MaxBody,
		userAgent:   opts.UserAgent,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
	if f.policy == nil {
		f.policy = relay.DefaultPolicy()
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.maxBody <= 0 {
		f.maxBody = defaultMaxBody
	}
	if f.userAgent == "" {
		f.userAgent = "Mozilla/5.0 (compatible; NewsMesh/1.0)"
	}
	if f.metrics == nil {
		f.metrics = metrics.Global
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.log = f.log.With("component", "fetch")
	if f.retry.IsRetryable == nil {
		f.retry.IsRetryable = isRetryable
	}

	// a copy, so the redirect policy never leaks into a shared client
	client := &http.Client{}
	if opts.Client != nil {
		c := *opts.Client
		client = &c
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		_, err := f.policy.Check(req.Context(), req.URL.String())
		return err
	}
	f.client = client
	return f
}

type attempt struct {
	via    string
	kind   string
	target string
}

func (f *Fetcher) attempts(endpoint string) []attempt {
	out := make([]attempt, 0, len(f.relays)+1)
	out = append(out, attempt{via: ViaDirect, kind: "direct", target: endpoint})
	for _, r := range f.relays {
		out = append(out, attempt{via: r.Name, kind: "relay", target: r.Wrap(endpoint)})
	}
	return out
}

// Fetch tries the direct endpoint, then each relay in order, and returns
// the first sane payload. Each attempt has its own timeout.
func (f *Fetcher) Fetch(ctx context.Context, src sources.Source) (RawPayload, error) {
	if _, err := f.policy.Check(ctx, src.Endpoint); err != nil {
		f.metrics.RecordFetchAttempt("direct", "rejected")
		return RawPayload{}, fmt.Errorf("%s: %w", src.Name, err)
	}

	var errs []error
	for _, a := range f.attempts(src.Endpoint) {
		var body []byte
		var contentType string
		err := retry.WithRetry(ctx, f.retry, func(ctx context.Context) error {
			var err error
			body, contentType, err = f.get(ctx, a.target)
			return err
		})
		if err == nil {
			f.metrics.RecordFetchAttempt(a.kind, "ok")
			f.log.Debug("fetched feed", "source", src.Name, "attempt", a.via, "bytes", len(body))
			return RawPayload{
				Source:      src,
				Body:        body,
				ContentType: contentType,
				Via:         a.via,
				FetchedAt:   time.Now(),
			}, nil
		}

		f.metrics.RecordFetchAttempt(a.kind, outcome(err))
		f.log.Debug("attempt failed", "source", src.Name, "attempt", a.via, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", a.via, err))
		if ctx.Err() != nil {
			break
		}
	}
	return RawPayload{}, fmt.Errorf("%s: %w", src.Name, errors.Join(errs...))
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", retry.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, application/json, text/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if !IsSaneFeed(body) {
		return nil, "", retry.Permanent(ErrInsaneFeed)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// FetchAll fetches every source concurrently and waits for all of them.
// A failing source never cancels its siblings.
func (f *Fetcher) FetchAll(ctx context.Context, srcs []sources.Source) (Result, error) {
	if len(srcs) == 0 {
		return Result{}, nil
	}

	payloads := make([]*RawPayload, len(srcs))
	failures := make([]error, len(srcs))

	var g errgroup.Group
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for i, src := range srcs {
		g.Go(func() error {
			p, err := f.Fetch(ctx, src)
			if err != nil {
				failures[i] = err
				f.log.Warn("source failed", "source", src.Name, "error", err)
				return nil
			}
			payloads[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Attempted: len(srcs)}
	for i := range srcs {
		if payloads[i] != nil {
			res.Payloads = append(res.Payloads, *payloads[i])
			continue
		}
		res.Failures = append(res.Failures, SourceFailure{Source: srcs[i].Name, Err: failures[i]})
	}
	res.Succeeded = len(res.Payloads)

	if res.Succeeded == 0 {
		return res, fmt.Errorf("%w: %d of %d sources failed", ErrTotalFailure, res.Attempted, res.Attempted)
	}
	if res.Degraded() {
		f.log.Warn("degraded fetch", "succeeded", res.Succeeded, "attempted", res.Attempted)
	}
	return res, nil
}

var feedMarkers = [][]byte{
	[]byte("<rss"),
	[]byte("<feed"),
	[]byte("<rdf:rdf"),
	[]byte(`"items"`),
	[]byte("jsonfeed.org/version"),
}

// IsSaneFeed reports whether the head of body carries a feed root marker.
func IsSaneFeed(body []byte) bool {
	head := body
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	head = bytes.ToLower(bytes.TrimSpace(head))
	if len(head) == 0 {
		return false
	}
	for _, m := range feedMarkers {
		if bytes.Contains(head, m) {
			return true
		}
	}
	return false
}

// isRetryable retries transport errors, timeouts, 429 and 5xx.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, ErrInsaneFeed)
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrInsaneFeed):
		return "insane"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, relay.ErrBlockedHost):
		return "rejected"
	default:
		return "error"
	}
}
