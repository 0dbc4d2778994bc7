// Package server wires the gin HTTP ingress: the public /v1/messages and
// /health surfaces, the Prometheus /metrics endpoint, and the thin admin
// CRUD group, on top of the Request Orchestrator. Grounded on
// cmd/server/main.go's router assembly; the orchestrator/pipeline split
// itself replaces handler.EnhancedProxyHandler.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"claude-relay/internal/account"
	"claude-relay/internal/adminauth"
	"claude-relay/internal/circuit"
	"claude-relay/internal/concurrency"
	"claude-relay/internal/metrics"
	"claude-relay/internal/orchestrator"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/store"
)

// Server holds everything a request handler needs to reach the fleet.
type Server struct {
	orch        *orchestrator.Orchestrator
	registry    *account.Registry
	proxies     *proxypool.Pool
	circuit     circuit.Manager
	concurrency concurrency.Manager
	metrics     *metrics.Collector
	admin       *adminauth.Manager
	adminKey    string
	store       *store.Store
}

// Config bundles the already-constructed fleet layers the Server routes
// requests through.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *account.Registry
	Proxies      *proxypool.Pool
	Circuit      circuit.Manager
	Concurrency  concurrency.Manager
	Metrics      *metrics.Collector
	Admin        *adminauth.Manager
	AdminKey     string
	Store        *store.Store
}

// New constructs a Server from its Config.
func New(cfg Config) *Server {
	return &Server{
		orch:        cfg.Orchestrator,
		registry:    cfg.Registry,
		proxies:     cfg.Proxies,
		circuit:     cfg.Circuit,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		admin:       cfg.Admin,
		adminKey:    cfg.AdminKey,
		store:       cfg.Store,
	}
}

// Router builds the gin.Engine with every route group registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", s.handleHealth)

	if s.metrics != nil {
		router.GET("/metrics", s.metrics.Handler())
	}

	router.POST("/v1/messages", s.handleMessages)
	router.POST("/v1/messages/count_tokens", s.handleCountTokens)

	admin := router.Group("/api/admin")
	admin.Use(adminauth.Either(s.admin, s.adminKey))
	{
		admin.POST("/accounts", s.handleCreateAccount)
		admin.GET("/accounts", s.handleListAccounts)
		admin.GET("/accounts/:id", s.handleGetAccount)
		admin.DELETE("/accounts/:id", s.handleDeleteAccount)
		admin.POST("/accounts/batch_remove", s.handleBatchRemoveAccounts)
		admin.POST("/accounts/:id/refresh", s.handleRefreshAccount)
		admin.POST("/accounts/batch_refresh", s.handleBatchRefreshAccounts)

		admin.GET("/proxies", s.handleListProxies)
		admin.PUT("/proxies", s.handlePutProxies)
		admin.GET("/proxies/status", s.handleProxyStatus)

		admin.GET("/stats/overview", s.handleStatsOverview)
		admin.GET("/stats/circuit", s.handleStatsCircuit)
		admin.GET("/stats/concurrency", s.handleStatsConcurrency)
		admin.GET("/stats/requests", s.handleListRequestLogs)
		admin.GET("/stats/clients/:client_key", s.handleClientStats)
		admin.GET("/stats/accounts/:id", s.handleAccountStats)

		admin.POST("/session", s.handleAdminSessionIssue)
		admin.POST("/session/revoke", s.handleAdminSessionRevoke)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
