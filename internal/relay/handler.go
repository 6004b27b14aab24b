package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/newsmesh/internal/cache"
	"github.com/deusflow/newsmesh/internal/ratelimit"
)

const maxRedirects = 5

type cachedResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

type HandlerOptions struct {
	Policy    *HostPolicy
	Timeout   time.Duration
	CacheTTL  time.Duration // 0 disables caching
	Limiter   *ratelimit.HostLimiter
	UserAgent string
	MaxBody   int64
	Logger    *slog.Logger
	Client    *http.Client
}

// Handler is a CORS relay: it fetches the url query parameter on the
// caller's behalf and passes status and content type through.
type Handler struct {
	client    *http.Client
	policy    *HostPolicy
	cache     *cache.Cache[cachedResponse]
	ttl       time.Duration
	limiter   *ratelimit.HostLimiter
	userAgent string
	maxBody   int64
	log       *slog.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; NewsMesh/1.0)"
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 5 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Handler{
		policy:    opts.Policy,
		cache:     cache.New[cachedResponse](),
		ttl:       opts.CacheTTL,
		limiter:   opts.Limiter,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBody,
		log:       opts.Logger.With("component", "relay"),
	}

	client := &http.Client{Timeout: opts.Timeout}
	if opts.Client != nil {
		c := *opts.Client
		client = &c
	}
	// every redirect hop goes through the same policy
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		_, err := h.policy.Check(req.Context(), req.URL.String())
		return err
	}
	h.client = client
	return h
}

// Cache exposes the response cache so the caller can run its cleanup loop.
func (h *Handler) Cache() *cache.Cache[cachedResponse] {
	return h.cache
}

// Register mounts the relay at / and /api/proxy.
func (h *Handler) Register(r gin.IRoutes) {
	for _, path := range []string{"/", "/api/proxy"} {
		r.GET(path, h.Proxy)
		r.OPTIONS(path, h.Preflight)
	}
}

func (h *Handler) Preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, *")
	c.Status(http.StatusNoContent)
}

func (h *Handler) Proxy(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")

	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url parameter"})
		return
	}

	u, err := h.policy.Check(c.Request.Context(), target)
	if err != nil {
		switch {
		case errors.Is(err, ErrBlockedHost):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Local addresses blocked"})
		case errors.Is(err, ErrInvalidTarget):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid url parameter"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream fetch failed", "detail": err.Error()})
		}
		return
	}
	target = u.String()

	if resp, ok := h.cache.Get(target); ok {
		c.Header("X-Relay-Cache", "hit")
		h.write(c, resp)
		return
	}

	if !h.limiter.Allow(u.Hostname()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests for host"})
		return
	}

	resp, err := h.fetch(c, target)
	if err != nil {
		h.log.Warn("upstream fetch failed", "target", target, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream fetch failed", "detail": err.Error()})
		return
	}

	if h.ttl > 0 && resp.Status >= 200 && resp.Status < 300 {
		h.cache.Set(target, resp, h.ttl)
	}
	c.Header("X-Relay-Cache", "miss")
	h.write(c, resp)
}

func (h *Handler) fetch(c *gin.Context, target string) (cachedResponse, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target, nil)
	if err != nil {
		return cachedResponse{}, err
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := h.client.Do(req)
	if err != nil {
		return cachedResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
	if err != nil {
		return cachedResponse{}, fmt.Errorf("read upstream body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	return cachedResponse{Status: resp.StatusCode, ContentType: ct, Body: body}, nil
}

func (h *Handler) write(c *gin.Context, resp cachedResponse) {
	c.Header("Cache-Control", "s-maxage=60, stale-while-revalidate=300")
	c.Data(resp.Status, resp.ContentType, resp.Body)
}
