package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"virtual-tabletop/internal/api/ws"
	"virtual-tabletop/internal/engine"
	"virtual-tabletop/internal/gamesys"
	"virtual-tabletop/internal/session"
)

func NewRouter(eng *engine.Engine, sm *session.Manager, registry *gamesys.Registry, hub *ws.Hub) *gin.Engine {
	r := gin.Default()
	startedAt := time.Now()

	// WebSocket correlation channel
	r.GET("/ws", hub.HandleWS)

	// --- SESSION ENDPOINTS ---
	r.POST("/create-session", CreateSessionHandler(eng))
	r.POST("/join-session", JoinSessionHandler(sm))
	r.GET("/session", SessionInfoHandler(sm))
	r.GET("/systems", SystemsHandler(registry))

	// --- APPROVAL ENDPOINTS ---
	r.GET("/pending-approvals", PendingApprovalsHandler(eng, sm))

	// --- CONFIG ENDPOINTS ---
	r.GET("/overrides", GetOverridesHandler(sm))
	r.POST("/overrides", SetOverrideHandler(sm))
	r.GET("/classify", ClassifyHandler(sm))

	// --- META ENDPOINTS ---
	r.GET("/health", HealthHandler())
	r.GET("/status", StatusHandler(eng, startedAt))

	return r
}
