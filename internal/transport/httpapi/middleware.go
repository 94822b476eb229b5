package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const bearerPrefix = "Bearer "

// bearerAuth пропускает запрос только с верным секретом. Пустой секрет вне dev-режима
// закрывает доступ полностью.
func bearerAuth(cfg Config, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.DevMode {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, bearerPrefix)
		if cfg.CronSecret == "" || header == token ||
			subtle.ConstantTimeCompare([]byte(token), []byte(cfg.CronSecret)) != 1 {
			logger.WithFields(log.Fields{
				"path":   c.FullPath(),
				"remote": c.ClientIP(),
			}).Warn("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Success: false, Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	}
}
