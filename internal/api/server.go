package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/metrics"
	"github.com/sympfindx-diagnosis-server/internal/middleware"
	"github.com/sympfindx-diagnosis-server/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Version is reported by the health endpoint
var Version = "1.0.0"

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	config  *domain.Config
	service *service.DiagnosisService
	logger  *logrus.Logger
	metrics *metrics.Collector
	checks  map[string]HealthCheck
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, svc *service.DiagnosisService, logger *logrus.Logger, collector *metrics.Collector) *Server {
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(logger, collector))
	router.Use(corsMiddleware())

	s := &Server{
		config:  config,
		service: svc,
		logger:  logger,
		metrics: collector,
		checks:  make(map[string]HealthCheck),
		router:  router,
	}
	s.setupRoutes()
	return s
}

// AddHealthCheck registers a dependency check for GET /health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	if s.config.RateLimit.Enabled {
		v1.Use(middleware.RateLimit(middleware.NewClientRateLimiter(s.config.RateLimit)))
	}
	v1.Use(middleware.CallerIdentity())

	predictions := v1.Group("/predictions")
	{
		predictions.POST("/analyze", s.handleAnalyze)
		predictions.GET("/history", s.handleHistory)
		predictions.GET("/analytics", s.handleAnalytics)
		predictions.GET("/:id", s.handleGetPrediction)
		predictions.DELETE("/:id", s.handleDeletePrediction)
		predictions.POST("/:id/archive", s.handleArchivePrediction)
		predictions.PUT("/:id/feedback", s.handleFeedback)
		predictions.PUT("/:id/routing", s.handleRouting)
	}

	v1.POST("/symptoms/analyze", s.handleAnalyzeSymptoms)
}

// handleHealth runs every registered dependency check
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC(),
		"version":    Version,
	})
}

// respondError maps pipeline errors onto HTTP statuses
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := domain.CodeInternalServer
	message := "Internal server error"
	var details any

	var validationErr *domain.RecordValidationError
	switch {
	case errors.As(err, &validationErr):
		status, code, message = http.StatusUnprocessableEntity, domain.CodeValidation, "Validation failed"
		details = validationErr.Messages()
	case errors.Is(err, domain.ErrValidationFailed):
		status, code, message = http.StatusUnprocessableEntity, domain.CodeValidation, err.Error()
	case errors.Is(err, domain.ErrUpstreamProtocol):
		status, code, message = http.StatusBadGateway, domain.CodeUpstreamProtocol, "Classifier returned an invalid response"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		status, code, message = http.StatusServiceUnavailable, domain.CodeUpstreamUnavailable, "Classifier is unavailable"
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, domain.CodeNotFound, "Prediction not found"
	case errors.Is(err, domain.ErrForbidden):
		status, code, message = http.StatusForbidden, domain.CodeForbidden, "Access denied"
	case errors.Is(err, domain.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, domain.CodeInvalidInput, err.Error()
	}

	requestID := c.GetString(middleware.CorrelationIDKey)
	entry := s.logger.WithFields(logrus.Fields{
		"correlation_id": requestID,
		"status":         status,
		"error":          err.Error(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request error")
	} else {
		entry.Debug("Request error")
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   domain.NewAPIError(code, message, details, requestID),
	})
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-User-ID, X-User-Role, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "X-Correlation-ID, X-RateLimit-Limit, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
