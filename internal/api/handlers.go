package api

import (
	"net/http"

	"threatguard/internal/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
)

type APIHandler struct {
	blocking          BlockingProvider
	threats           ThreatProvider
	geo               GeoProvider
	hub               *Hub
	metricsAllowedIPs string
}

func NewAPIHandler(blocking BlockingProvider, threats ThreatProvider, geo GeoProvider, hub *Hub, metricsAllowedIPs string) *APIHandler {
	return &APIHandler{
		blocking:          blocking,
		threats:           threats,
		geo:               geo,
		hub:               hub,
		metricsAllowedIPs: metricsAllowedIPs,
	}
}

// RegisterRoutes wires the HTTP surface onto the router. Enforcement
// middleware is expected to be installed by the caller before this.
func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.MetricsAllowlistMiddleware(), gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1/threats")
	{
		v1.POST("/events/login-failure", h.ReportLoginFailure)
		v1.POST("/events", h.LogThreatEvent)
		v1.GET("/events", h.ListThreatEvents)
		v1.GET("/events/:id", h.GetThreatEvent)
		v1.POST("/events/:id/resolve", h.ResolveThreatEvent)

		v1.GET("/rules", h.ListThreatRules)
		v1.POST("/rules", h.SaveThreatRule)

		v1.GET("/dashboard", h.Dashboard)

		v1.POST("/blocked-ips", h.BlockIP)
		v1.GET("/blocked-ips", h.ListBlockedIPs)
		v1.GET("/blocked-ips/:id", h.GetBlockedIP)
		v1.DELETE("/blocked-ips/:id", h.UnblockIP)
		v1.GET("/check/:ip", h.CheckIP)

		v1.POST("/geo-blocks", h.AddGeoBlockRule)
		v1.GET("/geo-blocks", h.ListGeoBlockRules)
		v1.PATCH("/geo-blocks/:id", h.SetGeoBlockRuleEnabled)
		v1.DELETE("/geo-blocks/:id", h.RemoveGeoBlockRule)

		v1.GET("/stream", h.ServeStream)
	}
}

func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps service errors onto HTTP responses. Unclassified
// errors become opaque 500s; the detail goes to the log, not the
// client.
func respondError(c *gin.Context, err error) {
	status := security.StatusOf(err)
	if status == http.StatusInternalServerError {
		zlog.Error().Err(err).Str("path", c.Request.URL.Path).Msg("API: internal error")
		c.JSON(status, gin.H{"error": "internal error", "code": "INTERNAL"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": security.CodeOf(err)})
}
