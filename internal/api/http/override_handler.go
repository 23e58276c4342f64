package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"virtual-tabletop/internal/action"
	"virtual-tabletop/internal/session"
	"virtual-tabletop/internal/shared"
)

// @Summary Get classification overrides
// @Description Returns the session's per-action-type oversight overrides
// @Tags Config
// @Produce json
// @Param code query string true "Session join code"
// @Success 200 {object} map[string]interface{}
// @Router /overrides [get]
func GetOverridesHandler(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sm.GetByCode(c.Query("code"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": s.Code(), "overrides": s.Overrides()})
	}
}

// @Summary Set a classification override
// @Description GM-only; overrides the game system's default oversight level for one action type. An empty level clears the override.
// @Tags Config
// @Accept json
// @Produce json
// @Param request body http.OverrideRequest true "Override"
// @Success 200 {object} map[string]interface{}
// @Router /overrides [post]
func SetOverrideHandler(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Code       string `json:"code"`
			GMID       string `json:"gmId"`
			ActionType string `json:"actionType"`
			Level      string `json:"level"`
		}
		if err := c.BindJSON(&req); err != nil || req.Code == "" || req.ActionType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and actionType required"})
			return
		}
		s, ok := sm.GetByCode(req.Code)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if req.GMID != s.GM() {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the gm sets overrides"})
			return
		}
		level := shared.Level(req.Level)
		if req.Level != "" && !level.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be automatic, reviewable or manual-only"})
			return
		}
		s.SetOverride(req.ActionType, level)
		c.JSON(http.StatusOK, gin.H{"overrides": s.Overrides()})
	}
}

// @Summary Probe an action type's effective level
// @Description Resolves the oversight level the engine would apply right now: override first, then the system default, then manual-only
// @Tags Config
// @Produce json
// @Param code query string true "Session join code"
// @Param actionType query string true "Action type"
// @Success 200 {object} map[string]interface{}
// @Router /classify [get]
func ClassifyHandler(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		actionType := c.Query("actionType")
		if actionType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "actionType is required"})
			return
		}
		s, ok := sm.GetByCode(c.Query("code"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		level := action.Classify(actionType, s.Overrides(), s.System())
		c.JSON(http.StatusOK, gin.H{"actionType": actionType, "level": level})
	}
}
