package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the coordination engine. All values can be
// overridden from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// GM heartbeat probing. Missing HeartbeatMisses consecutive pongs is
	// treated the same as an explicit disconnect.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	HeartbeatMisses   int           `env:"HEARTBEAT_MISSES" envDefault:"3"`

	// How often players are reminded that the GM is offline.
	GMNoticeInterval time.Duration `env:"GM_NOTICE_INTERVAL" envDefault:"15s"`

	// Default wait for a roll response when the caller does not pick one.
	RollTimeout time.Duration `env:"ROLL_TIMEOUT" envDefault:"60s"`

	// Wait for the GM to answer an in-action confirmation prompt.
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"120s"`

	// Pending approvals older than this are flagged stale (never
	// auto-approved).
	ApprovalStaleAfter time.Duration `env:"APPROVAL_STALE_AFTER" envDefault:"2m"`

	// Sessions with no connected participant for this long are destroyed.
	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`

	// Path to the sqlite snapshot database. Empty keeps snapshots in memory.
	SnapshotDB string `env:"SNAPSHOT_DB"`

	// Cap on actions held while the GM is offline, per session.
	MaxQueuedActions int `env:"MAX_QUEUED_ACTIONS" envDefault:"256"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
