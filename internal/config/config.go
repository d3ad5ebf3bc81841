// Package config holds the JSON configuration shared by the client and the
// pairing node. Missing fields fall back to defaults; Load always validates.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/disquelabs/roulette/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Queue    Queue    `json:"queue"`
	Session  Session  `json:"session"`
	Pipeline Pipeline `json:"pipeline"`
	Relay    Relay    `json:"relay"`
}

type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	// KeyFile holds the libp2p identity key (pubsub relay mode only).
	KeyFile string `json:"key_file"`
}

type Queue struct {
	// TimeoutSec is how long an enqueue waits for a partner.
	TimeoutSec int `json:"timeout_seconds"`
}

type Session struct {
	// NegotiationTimeoutSec bounds each handshake attempt.
	NegotiationTimeoutSec int `json:"negotiation_timeout_seconds"`
	// ICERestarts is how many path retries run before a session fails.
	ICERestarts int      `json:"ice_restarts"`
	ICEServers  []string `json:"ice_servers"`
}

type Pipeline struct {
	FrameRate int `json:"frame_rate"`
	// SmoothingMs is the overlay easing duration.
	SmoothingMs int `json:"smoothing_ms"`
	// HoldMs is how long the overlay stays put after tracking is lost
	// before it eases to the fallback position.
	HoldMs int    `json:"hold_ms"`
	Filter string `json:"filter"`
}

// Relay selects the transport carrying signaling, chat and queue traffic.
type Relay struct {
	// Mode is "pubsub" (libp2p gossipsub), "ws" (websocket broker) or
	// "memory" (in-process, tests and single-binary demos).
	Mode string `json:"mode"`
	// WSURL is the broker endpoint for ws mode.
	WSURL string `json:"ws_url"`
	// ListenPort is the libp2p TCP port for pubsub mode; 0 picks one.
	ListenPort int `json:"listen_port"`
	// Bootstrap multiaddrs to dial in pubsub mode.
	Bootstrap []string `json:"bootstrap"`
	// MdnsTag enables LAN peer discovery in pubsub mode when non-empty.
	MdnsTag string `json:"mdns_tag"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		Queue: Queue{
			TimeoutSec: 30,
		},
		Session: Session{
			NegotiationTimeoutSec: 12,
			ICERestarts:           1,
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
			},
		},
		Pipeline: Pipeline{
			FrameRate:   30,
			SmoothingMs: 120,
			HoldMs:      500,
			Filter:      "normal",
		},
		Relay: Relay{
			Mode:       "pubsub",
			ListenPort: 0,
			MdnsTag:    "roulette-mdns",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if c.Identity.UserID != "" {
		if _, err := util.ValidateUserID(c.Identity.UserID); err != nil {
			return fmt.Errorf("identity.user_id: %w", err)
		}
	}

	// Queue
	if c.Queue.TimeoutSec <= 0 {
		return errors.New("queue.timeout_seconds must be > 0")
	}

	// Session
	if c.Session.NegotiationTimeoutSec <= 0 {
		return errors.New("session.negotiation_timeout_seconds must be > 0")
	}
	if c.Session.ICERestarts < 0 {
		return errors.New("session.ice_restarts must be >= 0")
	}
	if len(c.Session.ICEServers) == 0 {
		return errors.New("session.ice_servers must not be empty")
	}
	for _, s := range c.Session.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("session.ice_servers: %q must be a stun:/turn:/turns: URL", s)
		}
	}

	// Pipeline
	if c.Pipeline.FrameRate < 24 {
		return errors.New("pipeline.frame_rate must be >= 24")
	}
	if c.Pipeline.SmoothingMs < 0 {
		return errors.New("pipeline.smoothing_ms must be >= 0")
	}
	if c.Pipeline.HoldMs < 0 {
		return errors.New("pipeline.hold_ms must be >= 0")
	}

	// Relay
	switch c.Relay.Mode {
	case "pubsub":
		if c.Relay.ListenPort < 0 || c.Relay.ListenPort > 65535 {
			return errors.New("relay.listen_port must be 0..65535")
		}
	case "ws":
		if !strings.HasPrefix(c.Relay.WSURL, "ws://") && !strings.HasPrefix(c.Relay.WSURL, "wss://") {
			return errors.New("relay.ws_url must be a ws:// or wss:// URL in ws mode")
		}
	case "memory":
	default:
		return fmt.Errorf("relay.mode must be pubsub, ws or memory, got %q", c.Relay.Mode)
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
