package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"threatguard/internal/metrics"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

// BlockCheckMiddleware rejects requests from blocked addresses. Health
// and metrics stay reachable so operators are never locked out of the
// service's own telemetry.
func (h *APIHandler) BlockCheckMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		if h.blocking.IsIPBlocked(c.Request.Context(), clientIP) {
			zlog.Warn().Str("ip", clientIP).Str("path", path).Msg("Blocked IP attempted access")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Your IP has been blocked due to security policies.",
				"code":  "IP_BLOCKED",
			})
			return
		}
		c.Next()
	}
}

// GeoBlockMiddleware rejects requests from blocked countries.
func (h *APIHandler) GeoBlockMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		blocked, country, err := h.geo.IsIPGeoBlocked(c.Request.Context(), clientIP)
		if err != nil {
			zlog.Warn().Err(err).Str("ip", clientIP).Msg("Geo check failed, allowing request")
			c.Next()
			return
		}
		if blocked {
			zlog.Warn().Str("ip", clientIP).Str("country", country).Str("path", path).
				Msg("Geo-blocked IP attempted access")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access from your region is not permitted.",
				"code":  "GEO_BLOCKED",
			})
			return
		}
		c.Next()
	}
}

// MetricsAllowlistMiddleware limits /metrics to the configured IPs and
// CIDRs. An empty allowlist leaves it open.
func (h *APIHandler) MetricsAllowlistMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ipInList(c.ClientIP(), h.metricsAllowedIPs) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func ipInList(ipStr, list string) bool {
	if list == "" {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			if network.Contains(ip) {
				return true
			}
		} else if entry == ipStr {
			return true
		}
	}
	return false
}

// PrometheusMiddleware records request latency per route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.MetricHttpDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
