// Package server exposes the trainer's pause/resume control and its metric
// history over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/born-ml/trainkit/internal/metrics"
	"github.com/born-ml/trainkit/internal/store"
	"github.com/born-ml/trainkit/internal/train"
)

// Version is reported by GET /api/version.
var Version = "0.0.0"

// Trainer is the part of the training host the control surface drives.
type Trainer interface {
	Status() train.Status
	SetTrain(bool)
	Train() bool
	Store() *metrics.Store
}

// Server serves the control surface for one trainer.
type Server struct {
	trainer Trainer
	db      *store.DB
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDB enables the persisted run endpoints.
func WithDB(db *store.DB) Option {
	return func(s *Server) {
		s.db = db
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server for t.
func New(t Trainer, opts ...Option) *Server {
	s := &Server{trainer: t, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type trainRequest struct {
	Train *bool `json:"train"`
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "trainkit is running") })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": Version}) })

	r.GET("/api/status", s.StatusHandler)
	r.PUT("/api/train", s.TrainHandler)
	r.POST("/api/pause", s.PauseHandler)
	r.POST("/api/resume", s.ResumeHandler)

	r.GET("/api/metrics", s.MetricsHandler)
	r.GET("/api/metrics/summary", s.SummaryHandler)
	r.GET("/api/metrics/series/:name", s.SeriesHandler)

	r.GET("/api/runs", s.RunsHandler)
	r.GET("/api/runs/:run/:name", s.RunHistoryHandler)

	return r
}

// StatusHandler reports trainer progress.
func (s *Server) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.trainer.Status())
}

// TrainHandler sets the pause flag from {"train": bool}.
func (s *Server) TrainHandler(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Train == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "train is required"})
		return
	}
	s.trainer.SetTrain(*req.Train)
	c.JSON(http.StatusOK, s.trainer.Status())
}

// PauseHandler clears the pause flag.
func (s *Server) PauseHandler(c *gin.Context) {
	s.trainer.SetTrain(false)
	c.JSON(http.StatusOK, s.trainer.Status())
}

// ResumeHandler sets the pause flag.
func (s *Server) ResumeHandler(c *gin.Context) {
	s.trainer.SetTrain(true)
	c.JSON(http.StatusOK, s.trainer.Status())
}

// MetricsHandler returns every series in first-seen order.
func (s *Server) MetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics": s.trainer.Store().Snapshot()})
}

// SeriesHandler returns one series.
func (s *Server) SeriesHandler(c *gin.Context) {
	name := c.Param("name")
	st := s.trainer.Store()
	if st.Len(name) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("metric %q not found", name)})
		return
	}
	c.JSON(http.StatusOK, st.Series(name))
}

// SummaryHandler returns per-series statistics, as JSON or, with
// ?format=text, as a table.
func (s *Server) SummaryHandler(c *gin.Context) {
	st := s.trainer.Store()
	if c.Query("format") == "text" {
		c.Status(http.StatusOK)
		c.Header("Content-Type", "text/plain; charset=utf-8")
		st.WriteSummary(c.Writer)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": st.Summarize()})
}

// RunsHandler lists persisted runs.
func (s *Server) RunsHandler(c *gin.Context) {
	if s.db == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "metric persistence is disabled"})
		return
	}
	runs, err := s.db.Runs(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// RunHistoryHandler returns the persisted history of one metric of a run.
func (s *Server) RunHistoryHandler(c *gin.Context) {
	if s.db == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "metric persistence is disabled"})
		return
	}
	points, err := s.db.History(c.Request.Context(), c.Param("run"), c.Param("name"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	series := metrics.Series{Name: c.Param("name"), Points: make([]metrics.Point, len(points))}
	for i, p := range points {
		series.Points[i] = metrics.Point{X: p.Step, Y: p.Value}
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", strconv.Itoa(c.Writer.Status()),
			"duration", time.Since(start))
	}
}

// Serve runs the control surface on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("control surface listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
