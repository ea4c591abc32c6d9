// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"memoria/internal/app"
	"memoria/internal/chaos"
	"memoria/internal/config"
	"memoria/internal/logging"
	"memoria/internal/memorial"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "how long each fault stays injected")
	cooldown := flag.Duration("cooldown", 5*time.Second, "pause between experiments")
	cleanup := flag.Bool("cleanup", true, "delete the memorials the experiments created")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	ctx := context.Background()
	backend, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Close()

	target := chaos.NewTarget(backend.Store, log, *duration)
	engine := chaos.NewEngine(log)
	engine.RegisterExperiments(target)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Memoria Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Cooldown:  *cooldown,
	})
	if *cleanup {
		removeChaosData(ctx, backend.Store, log)
	}
	if err != nil {
		log.Fatalf("Chaos Game Day failed: %v", err)
	}
	if !held {
		log.Error("At least one hypothesis was violated")
		backend.Close()
		os.Exit(1)
	}
}

func removeChaosData(ctx context.Context, store memorial.Store, log logrus.FieldLogger) {
	all, err := store.ListByField(ctx, memorial.FieldUserID, chaos.Owner)
	if err != nil {
		log.WithError(err).Warn("Could not list chaos memorials")
		return
	}
	for _, m := range all {
		if err := store.Delete(ctx, m.ID); err != nil {
			log.WithError(err).WithField("memorial_id", m.ID).Warn("Could not delete chaos memorial")
		}
	}
	log.WithField("count", len(all)).Info("Removed chaos memorials")
}
