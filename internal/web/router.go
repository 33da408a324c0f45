// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterConfig configures the HTTP engine.
type RouterConfig struct {
	// AllowedOrigins lists the CORS origins allowed to send credentials.
	// CORS is disabled when empty.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the gin engine with middleware, health and auth routes.
func NewRouter(cfg RouterConfig, h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(cfg.Logger))

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", RequestIDHeader}
		corsConfig.ExposeHeaders = []string{RequestIDHeader}
		corsConfig.MaxAge = 12 * time.Hour
		router.Use(cors.New(corsConfig))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Routes(router)

	return router
}
