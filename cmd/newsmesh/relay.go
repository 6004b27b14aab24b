package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/deusflow/newsmesh/internal/api"
	"github.com/deusflow/newsmesh/internal/logger"
	"github.com/deusflow/newsmesh/internal/ratelimit"
	"github.com/deusflow/newsmesh/internal/relay"
)

func newRelayCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a CORS relay that fetches ?url= on the caller's behalf",
		Long: `Serves GET /?url=<target> and GET /api/proxy?url=<target>. Loopback,
private and link-local targets are refused. Successful responses are cached
for RELAY_CACHE_TTL and each upstream host is limited to RELAY_RATE req/s.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.RelayAddr = addr
			}
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger.Component("relay-server")
			h := relay.NewHandler(relay.HandlerOptions{
				Policy:    &relay.HostPolicy{Resolve: true},
				Timeout:   cfg.AttemptTimeout,
				CacheTTL:  cfg.RelayCacheTTL,
				Limiter:   ratelimit.NewHostLimiter(cfg.RelayRate, int(cfg.RelayRate)+1),
				UserAgent: cfg.UserAgent,
				MaxBody:   cfg.MaxBodyBytes,
				Logger:    logger.Logger,
			})
			if cfg.RelayCacheTTL > 0 {
				go h.Cache().RunCleanup(ctx, time.Minute)
			}

			r := gin.New()
			r.Use(api.RecoveryMiddleware(logger.Logger), api.LoggerMiddleware(logger.Logger))
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok", "cached": h.Cache().Len()})
			})
			h.Register(r)

			return runServer(ctx, newHTTPServer(cfg.RelayAddr, r), log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides RELAY_ADDR)")
	return cmd
}
