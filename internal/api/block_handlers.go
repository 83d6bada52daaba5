package api

import (
	"net/http"

	"threatguard/internal/service"

	"github.com/gin-gonic/gin"
)

// BlockIP handles the request to block an IP address or CIDR range.
func (h *APIHandler) BlockIP(c *gin.Context) {
	var req service.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "INVALID_BODY"})
		return
	}

	b, err := h.blocking.BlockIP(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *APIHandler) UnblockIP(c *gin.Context) {
	if err := h.blocking.UnblockIP(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) GetBlockedIP(c *gin.Context) {
	b, err := h.blocking.GetBlockedIP(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *APIHandler) ListBlockedIPs(c *gin.Context) {
	page, size := pageParams(c)
	blocks, err := h.blocking.GetBlockedIPs(c.Request.Context(), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, blocks)
}

// CheckIP answers the enforcement question for other services.
func (h *APIHandler) CheckIP(c *gin.Context) {
	ip := c.Param("ip")
	blocked := h.blocking.IsIPBlocked(c.Request.Context(), ip)
	c.JSON(http.StatusOK, gin.H{"ip": ip, "blocked": blocked})
}
