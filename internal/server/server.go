package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dialqueue/internal/config"
	"dialqueue/internal/logging"
	"dialqueue/internal/queue"
)

// Dispatcher is the slice of the workflow engine the HTTP layer drives.
type Dispatcher interface {
	Advance(ctx context.Context)
	HandleCallEnded(ctx context.Context, customerID, callStatus, transcript string) (bool, error)
}

// Server exposes the queue over HTTP: workbook ingestion, the provider
// webhook, queue inspection and admin operations, and report download.
type Server struct {
	store          *queue.Store
	dispatcher     Dispatcher
	logger         *slog.Logger
	bind           string
	reportPath     string
	defaultCountry string

	router *gin.Engine

	mu      sync.Mutex
	httpSrv *http.Server
}

// New builds the HTTP server around an opened store and a running
// dispatcher.
func New(cfg *config.Config, store *queue.Store, dispatcher Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		store:          store,
		dispatcher:     dispatcher,
		logger:         logging.NewComponentLogger(logger, "api"),
		bind:           cfg.Paths.APIBind,
		reportPath:     cfg.Paths.ReportPath,
		defaultCountry: cfg.Provider.DefaultCountry,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleWelcome)
	r.GET("/healthz", s.handleHealth)

	r.POST("/add-call", s.handleAddCall)
	r.POST("/webhook/call-ended", s.handleCallEnded)

	r.GET("/status", s.handleQueueStatus)
	r.GET("/customer-data-status", s.handleProfileStatus)
	r.POST("/update-queue", s.handleUpdateQueue)
	r.DELETE("/delete-queue/:id", s.handleDeleteQueueItem)
	r.GET("/delete-all-queue", s.handleDeleteAllQueue)
	r.GET("/delete-customer-data-queue", s.handleDeleteProfiles)

	r.GET("/download-excel", s.handleDownloadExcel)
	r.GET("/excel-status", s.handleExcelStatus)
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on the configured bind address. It returns once the
// listener goroutine is launched; listen failures are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("http server already running")
	}

	srv := &http.Server{
		Addr:              s.bind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv

	go func() {
		s.logger.Info("http server listening", logging.String("bind", s.bind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", logging.Error(err))
		}
	}()
	return nil
}

// Stop gracefully drains connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Any("duration", time.Since(start).Round(time.Millisecond)))
	}
}

// advanceAsync triggers queue advancement without tying it to the request
// lifetime.
func (s *Server) advanceAsync(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	go s.dispatcher.Advance(ctx)
}

func (s *Server) handleWelcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to the dialqueue API."})
}

func (s *Server) handleHealth(c *gin.Context) {
	health, err := s.store.Health(c.Request.Context())
	if err != nil {
		s.logger.Error("health check failed", logging.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"queued":     health.Queued,
		"processing": health.Processing,
	})
}
