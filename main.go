// main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/disquelabs/roulette/internal/app"
	"github.com/disquelabs/roulette/internal/config"
)

var (
	configPath = flag.String("config", "config.json", "path to config file (created with defaults if missing)")
	listenPort = flag.Int("listen", -1, "override relay.listen_port for pubsub mode")
)

func main() {
	flag.Parse()

	cfg, created, err := config.Ensure(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if created {
		log.Printf("Created default config: %s", *configPath)
	}
	if *listenPort >= 0 {
		cfg.Relay.ListenPort = *listenPort
		if err := cfg.Validate(); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
}
