package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

// Components are the route groups the server mounts. Nil members are
// skipped, which keeps optional subsystems optional.
type Components struct {
	DB        Pinger
	Logs      *LogAPI
	Blacklist *BlacklistAPI
	Cleanup   *CleanupAPI
	Embedding *EmbeddingAPI
}

// Server is the HTTP front of the service.
type Server struct {
	cfg        config.ServerConfig
	components Components
	logger     observability.Logger
	httpServer *http.Server
}

// NewServer creates a Server.
func NewServer(cfg config.ServerConfig, components Components, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger("api.server")
	}
	s := &Server{cfg: cfg, components: components, logger: logger}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router builds the gin engine with the middleware chain and all mounted
// route groups.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(TracingMiddleware())
	router.Use(CORSMiddleware(s.cfg.CORS))
	if s.cfg.RateLimit.Enabled {
		router.Use(RateLimiter(s.cfg.RateLimit))
	}

	// Health and the API document stay reachable without a key.
	if s.components.DB != nil {
		router.GET("/health", HealthHandler(s.components.DB, Version))
	}
	router.GET("/openapi.json", OpenAPIHandler())

	authed := router.Group("/", AuthMiddleware(s.cfg.APIKey))
	if s.components.Logs != nil {
		s.components.Logs.RegisterRoutes(authed)
	}
	if s.components.Blacklist != nil {
		s.components.Blacklist.RegisterRoutes(authed)
	}
	if s.components.Cleanup != nil {
		s.components.Cleanup.RegisterRoutes(authed)
	}
	if s.components.Embedding != nil {
		s.components.Embedding.RegisterRoutes(authed)
	}
	return router
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]any{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down", nil)
	return s.httpServer.Shutdown(ctx)
}
