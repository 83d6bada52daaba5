package api

import (
	"net/http"
	"strconv"

	"threatguard/internal/models"
	"threatguard/internal/service"

	"github.com/gin-gonic/gin"
)

// ReportLoginFailure records a failed login and runs brute-force
// detection over it.
func (h *APIHandler) ReportLoginFailure(c *gin.Context) {
	var login service.LoginFailure
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "INVALID_BODY"})
		return
	}

	result, err := h.threats.AnalyzeLoginEvent(c.Request.Context(), login)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *APIHandler) LogThreatEvent(c *gin.Context) {
	var ev models.ThreatEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "INVALID_BODY"})
		return
	}

	if err := h.threats.LogThreatEvent(c.Request.Context(), &ev); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *APIHandler) ListThreatEvents(c *gin.Context) {
	page, size := pageParams(c)
	events, err := h.threats.GetThreatEvents(c.Request.Context(),
		c.Query("event_type"), c.Query("severity"), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *APIHandler) GetThreatEvent(c *gin.Context) {
	ev, err := h.threats.GetThreatEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h *APIHandler) ResolveThreatEvent(c *gin.Context) {
	var req struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "INVALID_BODY"})
		return
	}

	ev, err := h.threats.ResolveThreatEvent(c.Request.Context(), c.Param("id"), req.ResolvedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h *APIHandler) ListThreatRules(c *gin.Context) {
	rules, err := h.threats.GetThreatRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// SaveThreatRule creates a rule or, when the body carries an id,
// updates it.
func (h *APIHandler) SaveThreatRule(c *gin.Context) {
	var rule models.ThreatRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "INVALID_BODY"})
		return
	}

	created := rule.ID == ""
	if err := h.threats.SaveThreatRule(c.Request.Context(), &rule); err != nil {
		respondError(c, err)
		return
	}
	if created {
		c.JSON(http.StatusCreated, rule)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *APIHandler) Dashboard(c *gin.Context) {
	d, err := h.threats.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	return page, size
}
