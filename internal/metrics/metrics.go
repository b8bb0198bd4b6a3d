// Package metrics exposes run counters over a small gin HTTP server. The
// server is purely observational: nothing in the pipeline depends on it
// running or being reachable.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Registry holds process-wide counters. The Taxonomy Store bumps
// UnknownTaxids, the minimap2 adapter adds ParseErrors, and the
// orchestrator updates the rest, copying UnknownReferences from the
// Reference Registry's own lookup counter.
type Registry struct {
	QueriesClassified   atomic.Int64
	QueriesUnclassified atomic.Int64
	AmbiguousCalls      atomic.Int64
	ParseErrors         atomic.Int64
	UnknownTaxids       atomic.Int64
	UnknownReferences   atomic.Int64

	started atomic.Bool
}

// NewRegistry returns a zero-valued Registry ready for use.
func NewRegistry() *Registry { return &Registry{} }

// MarkStarted flips the readiness bit healthz reports once the pipeline
// has begun processing.
func (r *Registry) MarkStarted() { r.started.Store(true) }

// Snapshot is the JSON shape served at GET /metrics.
type Snapshot struct {
	QueriesClassified   int64 `json:"queries_classified"`
	QueriesUnclassified int64 `json:"queries_unclassified"`
	AmbiguousCalls      int64 `json:"ambiguous_calls"`
	ParseErrors         int64 `json:"parse_errors"`
	UnknownTaxids       int64 `json:"unknown_taxids"`
	UnknownReferences   int64 `json:"unknown_references"`
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		QueriesClassified:   r.QueriesClassified.Load(),
		QueriesUnclassified: r.QueriesUnclassified.Load(),
		AmbiguousCalls:      r.AmbiguousCalls.Load(),
		ParseErrors:         r.ParseErrors.Load(),
		UnknownTaxids:       r.UnknownTaxids.Load(),
		UnknownReferences:   r.UnknownReferences.Load(),
	}
}

// Server is the gin-backed /healthz + /metrics endpoint.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a Server bound to addr.
func NewServer(addr string, reg *Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) {
		if !reg.started.Load() {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	})
	return &Server{httpServer: &http.Server{Addr: addr, Handler: r}}
}

// Start runs the server in a background goroutine. Listen errors other
// than a graceful Shutdown are ignored by design: the metrics server is
// never required for pipeline correctness.
func (s *Server) Start() {
	go func() {
		_ = s.httpServer.ListenAndServe()
	}()
}

// Shutdown stops the server with a bounded timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
