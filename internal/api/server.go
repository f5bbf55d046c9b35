package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrNoRunService = errors.New("run service is required")

type Server struct {
	router *gin.Engine

	httpSrv *http.Server
}

type ServerOptions struct {
	RunService runService
	// Metrics may be nil; /metrics then serves an empty registry.
	Metrics *metrics.Recorder
	Logger  *zap.Logger
	Addr    string
}

func NewServer(opts *ServerOptions) (*Server, error) {
	if opts.RunService == nil {
		return nil, ErrNoRunService
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(
		RecoveryMiddleware(opts.Logger),
		RequestIDMiddleware(),
		LoggingMiddleware(opts.Logger),
	)

	h := NewHandler(opts.RunService, opts.Logger)
	setupRouter(router, h, opts.Metrics.Handler())

	return &Server{
		router: router,
		httpSrv: &http.Server{
			Addr:    opts.Addr,
			Handler: router,
		}}, nil
}

func (s *Server) Run() error {
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) Router() http.Handler {
	return s.router
}

func setupRouter(router *gin.Engine, h *handler, metricsHandler http.Handler) {
	group := router.Group("/")
	group.POST("/runs", h.startRun)
	group.GET("/runs", h.listRuns)
	group.GET("/runs/:id", h.getRun)
	group.GET("/status", h.status)
	group.GET("/metrics", gin.WrapH(metricsHandler))
	group.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
