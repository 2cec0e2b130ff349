// Package dashboard serves a small JSON API with live bot statistics and
// registered clone tokens (redacted).
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Stats is a point-in-time snapshot of the bot's counters. CloneRecords is
// filled from the store by the stats handler; the other fields come from the
// StatsFunc supplied by the daemon.
type Stats struct {
	TotalUsers          int   `json:"total_users"`
	ActiveConversations int   `json:"active_conversations"`
	RateLimitedUsers    int   `json:"rate_limited_users"`
	BlockedUsers        int   `json:"blocked_users"`
	CloneRecords        int64 `json:"clone_records"`
}

// StatsFunc supplies the current snapshot for /api/stats.
type StatsFunc func() Stats

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB    *gorm.DB
	Addr  string // listen address, e.g. "127.0.0.1:8091"
	Stats StatsFunc
	Out   io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Stats == nil {
		return fmt.Errorf("dashboard: stats func is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8091"
	}

	router := newRouter(opts.DB, opts.Stats)

	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://%s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the Gin router with all routes registered.
func newRouter(db *gorm.DB, stats StatsFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, db, stats)
	return router
}
