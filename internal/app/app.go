// Package app wires configuration into stores, services and the router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"memoria/internal/auth"
	"memoria/internal/config"
	"memoria/internal/donation"
	"memoria/internal/entitlement"
	"memoria/internal/eventstore"
	"memoria/internal/httpapi"
	"memoria/internal/memorial"
	"memoria/internal/notify"
	"memoria/internal/payments"
	firestorestore "memoria/internal/store/firestore"
	"memoria/internal/store/memory"
	"memoria/internal/store/postgres"
)

// Backend is the persistence selected by configuration.
type Backend struct {
	Store   memorial.Store
	Journal memorial.Journal
	History eventstore.Reader

	closers []func() error
}

// Close releases every connection the backend opened.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenBackend connects the configured store driver. The event journal is
// kept in postgres whenever DATABASE_URL is set, otherwise in memory.
func OpenBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Backend, error) {
	b := &Backend{}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		es := eventstore.NewEventStore(db)
		if err := es.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Journal = eventstore.NewJournal(es)
		b.History = es
	} else {
		events := eventstore.NewMemoryStore()
		b.Journal = eventstore.NewJournal(events)
		b.History = events
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Store = store
	case config.DriverFirestore:
		client, err := firestorestore.Open(ctx, cfg.FirestoreProjectID)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.Store = firestorestore.New(client)
	default:
		b.Store = memory.New()
	}

	log.WithField("driver", cfg.StoreDriver).Info("memorial store ready")
	return b, nil
}

// OpenEntitlements loads the feature catalog and the override settings. With
// a redis URL the overrides are shared and changes are watched until ctx
// ends.
func OpenEntitlements(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (entitlement.Service, func() error, error) {
	catalog, err := entitlement.DefaultCatalog()
	if cfg.FeatureCatalogPath != "" {
		catalog, err = entitlement.LoadCatalog(cfg.FeatureCatalogPath)
	}
	if err != nil {
		return nil, nil, err
	}

	var backend entitlement.Backend = entitlement.NewMemoryBackend(nil)
	closeFn := func() error { return nil }
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		backend = entitlement.NewRedisBackend(client)
		closeFn = client.Close
	}

	settings := entitlement.NewSettings(backend, log)
	if err := settings.Reload(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	go func() {
		if err := settings.Watch(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("feature override watch stopped")
		}
	}()
	return entitlement.NewService(catalog, settings), closeFn, nil
}

// NewLedger builds the donation ledger with the configured notifiers.
func NewLedger(cfg *config.Config, backend *Backend, log logrus.FieldLogger) donation.Service {
	opts := []donation.Option{donation.WithJournal(backend.Journal)}
	if cfg.SMTP.Enabled() {
		dialer := notify.NewDialer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
		opts = append(opts, donation.WithNotifiers(notify.NewEmailNotifier(dialer, cfg.SMTP.From, log)))
	} else {
		log.Info("SMTP not configured, donor emails disabled")
	}
	return donation.NewService(backend.Store, log, opts...)
}

// NewHandler assembles every service behind the HTTP router.
func NewHandler(cfg *config.Config, backend *Backend, features entitlement.Service, log logrus.FieldLogger) http.Handler {
	memorials := memorial.NewService(backend.Store, log, memorial.WithJournal(backend.Journal))
	ledger := NewLedger(cfg, backend, log)

	perMinute := rate.Limit(float64(cfg.DonationRatePerMinute) / 60)
	donations := donation.NewHandler(ledger, rate.NewLimiter(perMinute, cfg.DonationRatePerMinute))
	entitlements := entitlement.NewHandler(features)

	public := []httpapi.Routes{memorial.NewHandler(memorials), donations, entitlements}
	if cfg.Stripe.SecretKey != "" {
		prices := payments.Prices{
			entitlement.PlanPremium: cfg.Stripe.PremiumCents,
			entitlement.PlanEternal: cfg.Stripe.EternalCents,
		}
		svc := payments.NewService(memorials, payments.NewClient(cfg.Stripe.SecretKey), prices, cfg.Stripe.WebhookSecret, log)
		public = append(public, payments.NewHandler(svc, memorials, log))
	} else {
		log.Info("STRIPE_SECRET_KEY not set, plan payments disabled")
	}

	return httpapi.NewRouter(httpapi.Options{
		Tokens:       auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		AdminKeyHash: cfg.AdminKeyHash,
		AdminKeySalt: cfg.AdminKeySalt,
		Log:          log,
		Public:       public,
		Admin:        []httpapi.AdminRoutes{donations, entitlements, eventstore.NewHandler(backend.History)},
	})
}
