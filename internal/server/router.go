package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/rankvisor/internal/metrics"
	"github.com/loykin/rankvisor/internal/supervisor"
)

// StatusSource is what the router reports on.
type StatusSource interface {
	Running() bool
	Status() supervisor.Status
}

// Router serves the supervisor's observability endpoints:
//
//	GET {basePath}/healthz  200 while the restart loop runs, 503 otherwise
//	GET {basePath}/status   JSON snapshot of the supervisor and current child
//	GET {basePath}/metrics  Prometheus exposition
type Router struct {
	src      StatusSource
	metrics  http.Handler
	sampler  *metrics.ChildSampler
	basePath string
}

// NewRouter builds a router. metricsHandler and sampler may be nil.
func NewRouter(src StatusSource, metricsHandler http.Handler, sampler *metrics.ChildSampler, basePath string) *Router {
	return &Router{src: src, metrics: metricsHandler, sampler: sampler, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/status", r.handleStatus)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

type healthResp struct {
	Status string `json:"status"`
}

// StatusReport is the body of GET /status.
type StatusReport struct {
	Supervisor supervisor.Status    `json:"supervisor"`
	Child      *metrics.ChildSample `json:"child,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	if !r.src.Running() {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{Status: "stopped"})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{Status: "ok"})
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusReport{Supervisor: r.src.Status()}
	if r.sampler != nil {
		if s := r.sampler.Last(); s.PID > 0 {
			resp.Child = &s
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

// Serve listens on addr and serves h until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
