package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"backtester/internal/api"
	"backtester/internal/dashboard"
	"backtester/pkg/backtester"
)

// Server serves the dashboard HTTP API.
type Server struct {
	svc    *api.Service
	engine *gin.Engine
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a server for svc listening on addr (host:port).
func NewServer(svc *api.Service, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		svc:    svc,
		engine: engine,
		log:    slog.Default().With("component", "httpapi"),
	}
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(s.loggerMiddleware())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/strategies", s.handleStrategies)
		v1.POST("/backtest", s.handleBacktest)
		v1.POST("/batch", s.handleBatch)
		v1.POST("/optimize", s.handleOptimize)
		v1.POST("/report", s.handleReport)
		v1.GET("/runs", s.handleRuns)
		v1.GET("/runs/:id", s.handleRun)

		v1.GET("/batch/stream", s.handleBatchStream)
		v1.GET("/events", s.handleEvents)
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())

		s.log.Debug("request", "method", c.Request.Method, "path", path, "status", status, "latency", latency)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// statusOf maps an error kind to an HTTP status.
func statusOf(kind string) int {
	switch kind {
	case api.KindInvalidRequest:
		return http.StatusBadRequest
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindNoViableParameters, api.KindDataUnavailable, api.KindComputation:
		return http.StatusUnprocessableEntity
	case api.KindUnavailable:
		return http.StatusServiceUnavailable
	case api.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := api.ErrorKind(err)
	status := statusOf(kind)
	if status >= 500 {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, backtester.ErrorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, backtester.ErrorResponse{
		Error: fmt.Sprintf("decoding request: %v", err),
		Kind:  api.KindInvalidRequest,
	})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, StrategiesResponse{Strategies: s.svc.Strategies()})
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req backtester.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.svc.Backtest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleBatch runs a batch. With view=tiers the rows are grouped by Sharpe
// tier and sorted by the sort query param, keeping at most top rows per
// tier.
func (s *Server) handleBatch(c *gin.Context) {
	var req backtester.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.svc.Batch(c.Request.Context(), req, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("view") == "tiers" {
		top, _ := strconv.Atoi(c.Query("top"))
		c.JSON(http.StatusOK, convertTiers(res, dashboard.ParseSortMode(c.Query("sort")), top))
		return
	}
	if q := c.Query("sort"); q != "" {
		dashboard.SortRows(res.Rows, dashboard.ParseSortMode(q))
	}
	c.JSON(http.StatusOK, res)
}

// handleOptimize answers 422 with the full ranked table when no parameter
// combination produced a defined Sharpe ratio.
func (s *Server) handleOptimize(c *gin.Context) {
	var req backtester.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.svc.Optimize(c.Request.Context(), req, nil)
	switch {
	case err != nil && res != nil:
		c.JSON(statusOf(api.ErrorKind(err)), res)
	case err != nil:
		writeError(c, err)
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleReport(c *gin.Context) {
	var req backtester.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	// Render into a buffer so that a failed run still gets a JSON error.
	var buf bytes.Buffer
	if err := s.svc.Report(c.Request.Context(), req, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", req.Symbol+"-report.html"))
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// handleRuns lists persisted runs. Optional filters: mode, symbol,
// strategy, failed=true.
func (s *Server) handleRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := s.svc.Runs(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	f := dashboard.RunFilter{
		Mode:     c.Query("mode"),
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
		Failed:   c.Query("failed") == "true",
	}
	if f != (dashboard.RunFilter{}) {
		runs = dashboard.FilterRuns(runs, f)
	}
	if runs == nil {
		runs = []backtester.RunSummary{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

func (s *Server) handleRun(c *gin.Context) {
	run, err := s.svc.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
