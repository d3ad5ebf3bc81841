// Package app assembles a pairing node: the daemon that owns the queue
// and matchmaker and answers queue traffic over the configured relay.
// Clients negotiate their sessions peer-to-peer; the node never touches
// media.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/disquelabs/roulette/internal/config"
	"github.com/disquelabs/roulette/internal/match"
	"github.com/disquelabs/roulette/internal/relay"
)

// Run starts a pairing node and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	mm := match.New(match.WithDefaultTimeout(time.Duration(cfg.Queue.TimeoutSec) * time.Second))
	defer mm.Close()

	rl, cleanup, err := buildRelay(ctx, cfg)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer cleanup()

	svc := NewQueueService(rl, mm)
	svc.Start()
	defer svc.Close()

	log.Printf("APP: pairing node running (relay mode %s, queue timeout %ds)", cfg.Relay.Mode, cfg.Queue.TimeoutSec)
	<-ctx.Done()
	log.Printf("APP: shutting down")
	return nil
}

// buildRelay constructs the transport selected by cfg.Relay.Mode. The
// returned cleanup releases the relay and any host behind it.
func buildRelay(ctx context.Context, cfg config.Config) (relay.Relay, func(), error) {
	switch cfg.Relay.Mode {
	case "memory":
		// Single-process deployments and tests.
		bus := relay.NewBus()
		rl := bus.Client("pairing-node")
		return rl, func() { rl.Close() }, nil

	case "ws":
		rl, err := relay.DialWS(cfg.Relay.WSURL, "pairing-node")
		if err != nil {
			return nil, nil, err
		}
		return rl, func() { rl.Close() }, nil

	default: // pubsub
		node, err := NewNode(ctx, cfg.Relay.ListenPort, cfg.Identity.KeyFile, cfg.Relay.Bootstrap, cfg.Relay.MdnsTag)
		if err != nil {
			return nil, nil, err
		}
		rl, err := relay.NewPubSub(ctx, node.Host, node.ID())
		if err != nil {
			node.Close()
			return nil, nil, err
		}
		return rl, func() {
			rl.Close()
			node.Close()
		}, nil
	}
}
