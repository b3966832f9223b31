// Package api serves the hub node's HTTP status API
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ZentaChain/hubstack/pkg/logging"
	"github.com/ZentaChain/hubstack/pkg/network"
	"github.com/ZentaChain/hubstack/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = logging.Logger("api")

// StatusProvider is the view of the node the API reports on. *network.Stack
// implements it.
type StatusProvider interface {
	Self() protocol.NodeInfo
	IsHub() bool
	KnownHubs() []protocol.NodeInfo
	Connections() []network.ConnectionInfo
	Stats() network.StackStats
	Find(ctx context.Context, identity protocol.GUID, timeout time.Duration) (protocol.NodeInfo, error)
}

// Server is the HTTP API server
type Server struct {
	node       StatusProvider
	gatherer   prometheus.Gatherer
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
	started    time.Time
}

// Config holds server configuration
type Config struct {
	Port          int
	EnableCORS    bool
	RateLimit     int // Requests per minute
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	LookupTimeout time.Duration // upper bound for /nodes/:id lookups
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:          8080,
		EnableCORS:    true,
		RateLimit:     100,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  45 * time.Second,
		LookupTimeout: 30 * time.Second,
	}
}

// NewServer creates the API server. gatherer may be nil to disable /metrics.
func NewServer(node StatusProvider, gatherer prometheus.Gatherer, config *Config) (*Server, error) {
	if node == nil {
		return nil, errors.New("api: nil status provider")
	}
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		node:     node,
		gatherer: gatherer,
		router:   gin.New(),
		config:   config,
		started:  time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimit)))
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/node", s.handleNodeInfo)
		v1.GET("/hubs", s.handleHubs)
		v1.GET("/connections", s.handleConnections)
		v1.GET("/stats", s.handleStats)
		v1.GET("/nodes/:id", s.handleLookup)
	}

	s.router.GET("/health", s.handleHealth)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🌐 HTTP API server starting on port %d", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
