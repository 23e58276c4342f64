package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	httpapi "virtual-tabletop/internal/api/http"
	"virtual-tabletop/internal/api/ws"
	"virtual-tabletop/internal/action"
	"virtual-tabletop/internal/config"
	"virtual-tabletop/internal/engine"
	"virtual-tabletop/internal/gamesys"
	"virtual-tabletop/internal/gmwatch"
	"virtual-tabletop/internal/roll"
	"virtual-tabletop/internal/session"
	"virtual-tabletop/internal/shared"
	"virtual-tabletop/internal/store"
)

// @title Virtual Tabletop Coordination API
// @version 1.0
// @description GM-authoritative action and roll coordination engine (Go + Gin)
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var st store.Store
	if cfg.SnapshotDB != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.SnapshotDB)
		if err != nil {
			log.Fatalf("snapshot db: %v", err)
		}
		defer sqlStore.Close()
		st = sqlStore
		log.Printf("snapshots persisted to %s", cfg.SnapshotDB)
	} else {
		st = store.NewMemoryStore()
	}

	registry := gamesys.NewRegistry()
	if err := registry.Register(gamesys.NewBasicSystem()); err != nil {
		log.Fatalf("game systems: %v", err)
	}

	sessions := session.NewManager(st, registry, cfg.SessionIdleTTL)
	hub := ws.NewHub(sessions)
	rolls := roll.NewService(hub, cfg.RollTimeout)
	monitor := gmwatch.NewMonitor(hub, cfg.HeartbeatInterval, cfg.GMNoticeInterval, cfg.HeartbeatMisses, cfg.MaxQueuedActions)
	eng := engine.New(sessions, rolls, monitor, action.NewApprovalQueue(), hub, cfg)

	hub.AddListener(eng)
	hub.OnEvent(shared.EventActionRequest, eng.HandleActionEvent)
	hub.OnEvent(shared.EventRollResponse, eng.HandleRollResponseEvent)
	hub.OnEvent(shared.EventHeartbeatPong, eng.HandleHeartbeatPongEvent)
	hub.OnEvent(shared.EventGMConfirmResp, eng.HandleConfirmResponseEvent)
	hub.OnEvent(shared.EventApprovalDecision, eng.HandleApprovalDecisionEvent)
	hub.OnEvent(shared.EventChatMessage, eng.HandleChatEvent)
	hub.OnEvent(shared.EventStateResync, eng.HandleResyncEvent)
	hub.OnEvent(shared.EventTurnStart, eng.HandleTurnStartEvent)
	hub.OnEvent(shared.EventTurnAdvance, eng.HandleTurnAdvanceEvent)
	hub.OnEvent(shared.EventTurnReorder, eng.HandleTurnReorderEvent)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go monitor.Run(ctx)
	go sessions.Janitor(ctx, time.Minute)
	staleEvery := cfg.ApprovalStaleAfter / 4
	if staleEvery < time.Second {
		staleEvery = time.Second
	}
	go eng.StaleLoop(ctx, staleEvery)

	r := httpapi.NewRouter(eng, sessions, registry, hub)

	log.Printf("listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal(err)
	}
}
