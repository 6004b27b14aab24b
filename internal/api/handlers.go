package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/newsmesh/internal/app"
	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/metrics"
)

type Handler struct {
	svc *app.Service
	log *slog.Logger
}

func errorJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, ErrorResponse{Error: msg, Code: code, Timestamp: time.Now()})
}

// Search handles GET /search?q=&limit=&session=&resume=
func (h *Handler) Search(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorJSON(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessionID := c.Query("session")
	if sessionID == "" {
		sessionID = c.GetHeader("X-Session-ID")
	}

	resp, err := h.svc.Search(c.Request.Context(), app.Request{
		Query:     c.Query("q"),
		Limit:     limit,
		SessionID: sessionID,
		Resume:    c.Query("resume") == "true",
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh handles POST /refresh and runs one aggregation cycle.
func (h *Handler) Refresh(c *gin.Context) {
	corpus, err := h.svc.Refresh(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.CorpusStats{
		Size:      corpus.Len(),
		BuiltAt:   corpus.BuiltAt,
		Attempted: corpus.Attempted,
		Succeeded: corpus.Succeeded,
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, fetch.ErrTotalFailure) {
		errorJSON(c, http.StatusServiceUnavailable, "AGGREGATION_FAILED", err.Error())
		return
	}
	h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// Health reports the outcome of the last aggregation cycle.
func (h *Handler) Health(c *gin.Context) {
	stats := h.svc.Metrics().GetStats()

	status := stats["status"].(string)
	code := http.StatusOK
	if status == metrics.StatusError {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
		"sources": gin.H{
			"attempted": stats["sources_attempted"],
			"succeeded": stats["sources_succeeded"],
		},
		"corpus_size": stats["corpus_size"],
	})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Metrics().GetStats())
}
