package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *APIHandler) AddGeoBlockRule(c *gin.Context) {
	var req struct {
		CountryCode string `json:"country_code"`
		CountryName string `json:"country_name"`
		CreatedBy   string `json:"created_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "INVALID_BODY"})
		return
	}

	rule, err := h.geo.AddGeoBlockRule(c.Request.Context(), req.CountryCode, req.CountryName, req.CreatedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *APIHandler) ListGeoBlockRules(c *gin.Context) {
	rules, err := h.geo.GetGeoBlockRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *APIHandler) SetGeoBlockRuleEnabled(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled flag is required", "code": "INVALID_BODY"})
		return
	}

	rule, err := h.geo.SetGeoBlockRuleEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *APIHandler) RemoveGeoBlockRule(c *gin.Context) {
	if err := h.geo.RemoveGeoBlockRule(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
