package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"virtual-tabletop/internal/engine"
	"virtual-tabletop/internal/gamesys"
	"virtual-tabletop/internal/session"
	"virtual-tabletop/internal/shared"
)

// @Summary Create new session
// @Description Open a table running the named game system; the creator becomes its GM
// @Tags Session
// @Accept json
// @Produce json
// @Param request body http.CreateSessionRequest true "GM info"
// @Success 200 {object} map[string]interface{}
// @Router /create-session [post]
func CreateSessionHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			GMName string `json:"gmName"`
			System string `json:"system"`
		}
		if err := c.BindJSON(&req); err != nil || req.GMName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gmName required"})
			return
		}
		if req.System == "" {
			req.System = "basic"
		}
		s, gm, err := eng.CreateSession(req.GMName, req.System)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": s.ID(), "code": s.Code(), "gm": gm})
	}
}

// @Summary Join a session
// @Description Register a participant identity on an existing table by join code
// @Tags Session
// @Accept json
// @Produce json
// @Param request body http.JoinSessionRequest true "Participant info"
// @Success 200 {object} map[string]interface{}
// @Router /join-session [post]
func JoinSessionHandler(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Code string `json:"code"`
			Name string `json:"name"`
			Role string `json:"role"`
		}
		if err := c.BindJSON(&req); err != nil || req.Code == "" || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and name required"})
			return
		}
		role := shared.Role(req.Role)
		if req.Role == "" {
			role = shared.RolePlayer
		}
		s, p, err := sm.Join(req.Code, req.Name, role)
		if err != nil {
			status := http.StatusBadRequest
			if err == session.ErrSessionNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": s.ID(), "participant": p})
	}
}

// @Summary Get session info
// @Description Participants, state version and turn order of a session
// @Tags Session
// @Produce json
// @Param code query string true "Session join code"
// @Success 200 {object} map[string]interface{}
// @Router /session [get]
func SessionInfoHandler(sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sm.GetByCode(c.Query("code"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId":    s.ID(),
			"code":         s.Code(),
			"system":       s.System().Name(),
			"createdAt":    s.CreatedAt(),
			"participants": s.Participants(),
			"version":      s.Version(),
			"turnState":    s.TurnSnapshot(),
		})
	}
}

// @Summary List pending approvals
// @Description Actions awaiting the GM's decision, in arrival order
// @Tags Approval
// @Produce json
// @Param code query string true "Session join code"
// @Param gmId query string true "GM participant ID"
// @Success 200 {object} map[string]interface{}
// @Router /pending-approvals [get]
func PendingApprovalsHandler(eng *engine.Engine, sm *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sm.GetByCode(c.Query("code"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if c.Query("gmId") != s.GM() {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the gm sees the approval queue"})
			return
		}
		pending := eng.PendingApprovals(s.ID())
		c.JSON(http.StatusOK, gin.H{
			"pending":       pending,
			"count":         len(pending),
			"queuedActions": eng.QueuedActions(s.ID()),
		})
	}
}

// @Summary List game systems
// @Description Names of the registered game system modules
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /systems [get]
func SystemsHandler(registry *gamesys.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"systems": registry.Names()})
	}
}

// @Summary Health check
// @Tags Meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// @Summary Server status
// @Description Uptime and engine activity counters
// @Tags Meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /status [get]
func StatusHandler(eng *engine.Engine, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uptime": time.Since(startedAt).Round(time.Second).String(),
			"stats":  eng.Stats(),
		})
	}
}
