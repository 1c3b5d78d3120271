// Package api exposes the operational endpoints served by `roster serve`.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// NewRouter builds the Gin engine serving /healthz and the Prometheus metrics at metricsPath.
func NewRouter(db *gorm.DB, metricsPath string) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	metricsPath = strings.TrimSpace(metricsPath)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog())

	r.GET("/healthz", health(db))
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	return r, nil
}

// health reports 503 when the database does not answer a ping.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status, state := http.StatusOK, "ok"
		if err := ping(ctx, db); err != nil {
			logger.WithModule("http").Warn("health check failed", zap.Error(err))
			status, state = http.StatusServiceUnavailable, "unavailable"
		}
		c.JSON(status, gin.H{
			"status":     state,
			"checked_at": time.Now().UTC(),
		})
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithModule("http").Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
