// cmd/reconcile/main.go marks every pending donation of one owner as paid.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"memoria/internal/app"
	"memoria/internal/config"
	"memoria/internal/logging"
	"memoria/internal/memorial"
)

func main() {
	owner := flag.String("owner", "", "owner whose pending donations were paid out")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	if *owner == "" {
		log.Fatal("-owner is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Close()

	rec, err := app.NewLedger(cfg, backend, log).MarkPaidForOwner(ctx, *owner, memorial.PayoutPaid)
	entry := log.WithField("owner_id", *owner)
	if rec != nil {
		entry = entry.WithFields(logrus.Fields{
			"memorials": rec.Memorials,
			"donations": rec.Donations,
			"failed":    rec.Failed,
		})
	}
	if err != nil {
		entry.WithError(err).Error("Reconciliation incomplete")
		backend.Close()
		os.Exit(1)
	}
	entry.Info("Reconciliation complete")
}
