package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rahul/querypilot/internal/events"
	"github.com/rahul/querypilot/internal/pipeline"
	"github.com/rahul/querypilot/internal/tenant"
)

// QueryRequest is the body of POST /api/query. userId selects the tenant.
type QueryRequest struct {
	UserID   string          `json:"userId" binding:"required"`
	Messages []pipeline.Turn `json:"messages" binding:"required,min=1"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPGateway serves the NDJSON query stream plus health and metrics.
type HTTPGateway struct {
	runner   Runner
	tenants  tenant.Repository
	gatherer prometheus.Gatherer
	ready    func(context.Context) error
}

// NewHTTPGateway wires the handlers. ready, when set, backs /healthz.
func NewHTTPGateway(runner Runner, tenants tenant.Repository, gatherer prometheus.Gatherer, ready func(context.Context) error) *HTTPGateway {
	return &HTTPGateway{runner: runner, tenants: tenants, gatherer: gatherer, ready: ready}
}

// Router builds the gin engine.
func (h *HTTPGateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/api/query", h.handleQuery)
	r.GET("/healthz", h.handleHealth)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (h *HTTPGateway) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP gateway listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *HTTPGateway) handleQuery(c *gin.Context) {
	var body QueryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	req, err := pipeline.NewRequest(body.UserID, body.UserID, body.Messages)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.tenants.Lookup(ctx, body.UserID); err != nil {
		status, code := http.StatusInternalServerError, "TENANT_LOOKUP_FAILED"
		if errors.Is(err, tenant.ErrNotFound) {
			status, code = http.StatusNotFound, "UNKNOWN_TENANT"
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// The stream is finished once the terminal event is out; anything the
	// run still does after that must not touch the response.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sink := events.NewSink(c.Writer)
	sink.OnClose(cancel)

	if err := h.runner.Run(ctx, req, sink); err != nil {
		log.Printf("query for %s ended with error: %v", body.UserID, err)
	}
	if !sink.Closed() {
		log.Printf("query for %s: stream ended without a terminal event", body.UserID)
	}
}

func (h *HTTPGateway) handleHealth(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
