// Package server assembles the HTTP gateway: ambient middleware, admission
// control and the demo and admin routes.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/manenim/admission-gate/pkg/admin"
	"github.com/manenim/admission-gate/pkg/admission"
	"github.com/manenim/admission-gate/pkg/identity"
	"github.com/manenim/admission-gate/pkg/metrics"
)

type Options struct {
	Logger    *zap.Logger
	Limiter   *admission.Limiter
	Collector *metrics.Collector
	Admin     *admin.API

	// CORSOrigin is a single allowed origin, or "*" for any.
	CORSOrigin string
	// HeavyDelay is how long /api/heavy works before answering.
	HeavyDelay time.Duration
}

// New builds the gin engine. Middleware order: recovery, request log, CORS,
// correlation id, latency, admission. Every route, including /health and
// /admin, sits behind admission control.
func New(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HeavyDelay == 0 {
		opts.HeavyDelay = 200 * time.Millisecond
	}

	router := gin.New()
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(cors.New(corsConfig(opts.CORSOrigin)))
	router.Use(admission.CorrelationID())
	if opts.Collector != nil {
		router.Use(opts.Collector.RequestLatency())
	}
	router.Use(admission.Middleware(opts.Limiter))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Collector != nil {
		router.GET("/metrics", gin.WrapH(opts.Collector.Handler()))
	}

	api := router.Group("/api")
	api.GET("/hello", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "hello world",
			"user":    c.GetString(admission.ContextIdentity),
			"tier":    c.GetString(admission.ContextTier),
		})
	})
	api.GET("/heavy", func(c *gin.Context) {
		select {
		case <-time.After(opts.HeavyDelay):
			c.JSON(http.StatusOK, gin.H{"message": "heavy work done"})
		case <-c.Request.Context().Done():
		}
	})

	if opts.Admin != nil {
		opts.Admin.Register(router.Group("/admin"))
	}
	return router
}

func corsConfig(origin string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, identity.HeaderAuthorization, identity.HeaderAPIKey, admin.HeaderAdminKey, admission.HeaderCorrelationID)
	cfg.ExposeHeaders = []string{
		admission.HeaderLimit,
		admission.HeaderRemaining,
		admission.HeaderReset,
		admission.HeaderRetryAfter,
		admission.HeaderCorrelationID,
	}
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{origin}
	}
	return cfg
}
