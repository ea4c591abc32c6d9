package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"memoria/internal/donation"
	"memoria/internal/memorial"
)

// Owner is the user ID that owns every memorial the experiments create.
const Owner = "chaos-engine"

const probesPerSample = 5

// Target is the system under test: the services run on top of a FaultyStore.
type Target struct {
	Store     *FaultyStore
	Memorials memorial.Service
	Ledger    donation.Service
	// Duration is how long each fault stays injected.
	Duration time.Duration
}

// NewTarget wraps store with fault injection and builds the services on it.
func NewTarget(store memorial.Store, log logrus.FieldLogger, duration time.Duration) *Target {
	faulty := NewFaultyStore(store)
	return &Target{
		Store:     faulty,
		Memorials: memorial.NewService(faulty, log),
		Ledger:    donation.NewService(faulty, log),
		Duration:  duration,
	}
}

// RegisterExperiments registers the predefined experiments against t.
func (e *Engine) RegisterExperiments(t *Target) {
	e.Register(SlugRaceExperiment(t, 25))
	e.Register(StoreLatencyExperiment(t, 50*time.Millisecond, 500*time.Millisecond))
	e.Register(StoreOutageExperiment(t, 0.5))
}

func raceDraft() memorial.Draft {
	return memorial.Draft{
		UserID:    Owner,
		FirstName: "Chaos",
		LastName:  "Race",
		DeathDate: "2024-01-01",
	}
}

// duplicateSlugs counts memorials of Owner that share a slug with another.
func duplicateSlugs(t *Target) Metric {
	return Metric{
		Name: "duplicate_slugs",
		Query: func(ctx context.Context) (float64, error) {
			all, err := t.Store.Inner().ListByField(ctx, memorial.FieldUserID, Owner)
			if err != nil {
				return 0, err
			}
			seen := make(map[string]int, len(all))
			dups := 0
			for _, m := range all {
				seen[m.Slug]++
				if seen[m.Slug] == 2 {
					dups++
				}
			}
			return float64(dups), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// SlugRaceExperiment creates the same memorial from many goroutines at once.
func SlugRaceExperiment(t *Target, workers int) Experiment {
	return Experiment{
		Name:        "concurrent-slug-race",
		Hypothesis:  "Concurrent creates with the same name always receive distinct slugs",
		SteadyState: []Metric{duplicateSlugs(t)},
		Method: []Action{
			{
				Type:   "race",
				Target: "slug-allocator",
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					errs := make([]error, workers)
					for i := 0; i < workers; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							_, errs[i] = t.Memorials.Create(ctx, raceDraft())
						}(i)
					}
					wg.Wait()
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "duplicate_slugs",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "no two memorials share a slug",
			},
		},
		Duration: t.Duration,
	}
}

// StoreLatencyExperiment slows every store call by latency while clients
// wait at most timeout. Probes use distinct names so each create costs one
// slug probe and one insert.
func StoreLatencyExperiment(t *Target, latency, timeout time.Duration) Experiment {
	var probes atomic.Int64
	successRate := Metric{
		Name: "create_success_rate",
		Query: func(ctx context.Context) (float64, error) {
			ok := 0
			for i := 0; i < probesPerSample; i++ {
				d := memorial.Draft{
					UserID:    Owner,
					FirstName: "Latency",
					LastName:  fmt.Sprintf("Probe %d", probes.Add(1)),
				}
				probeCtx, cancel := context.WithTimeout(ctx, timeout)
				if _, err := t.Memorials.Create(probeCtx, d); err == nil {
					ok++
				}
				cancel()
			}
			return float64(ok) * 100 / probesPerSample, nil
		},
		Threshold: Threshold{Operator: ">=", Value: 99},
	}

	return Experiment{
		Name:        "store-latency-injection",
		Hypothesis:  "Memorial creation completes when store latency stays below the client timeout",
		SteadyState: []Metric{successRate, duplicateSlugs(t)},
		Method: []Action{
			{
				Type:   "latency",
				Target: "memorial-store",
				Execute: func(context.Context) error {
					t.Store.InjectLatency(latency)
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "latency",
				Target: "memorial-store",
				Execute: func(context.Context) error {
					t.Store.Reset()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "create_success_rate",
				Condition: func(v float64) bool { return v > 95 },
				Message:   "creates succeed under latency",
			},
			{
				Metric:    "duplicate_slugs",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "no two memorials share a slug",
			},
		},
		Duration: t.Duration,
	}
}

// StoreOutageExperiment fails store calls with probability failRate while
// donations keep arriving.
func StoreOutageExperiment(t *Target, failRate float64) Experiment {
	var (
		mu           sync.Mutex
		memorialID   string
		acknowledged atomic.Int64
	)
	ensureMemorial := func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if memorialID != "" {
			return memorialID, nil
		}
		m, err := t.Memorials.Create(ctx, raceDraft())
		if err != nil {
			return "", err
		}
		memorialID = m.ID
		return memorialID, nil
	}

	successRate := Metric{
		Name: "donation_success_rate",
		Query: func(ctx context.Context) (float64, error) {
			id, err := ensureMemorial(ctx)
			if err != nil {
				return 0, err
			}
			ok := 0
			for i := 0; i < probesPerSample; i++ {
				_, err := t.Ledger.Record(ctx, id, donation.Input{
					Amount: 10,
					Name:   "Chaos Donor",
					Email:  "chaos@example.com",
				})
				if err == nil {
					ok++
					acknowledged.Add(1)
				}
			}
			return float64(ok) * 100 / probesPerSample, nil
		},
		Threshold: Threshold{Operator: ">=", Value: 99},
	}

	phantoms := Metric{
		Name: "phantom_donations",
		Query: func(ctx context.Context) (float64, error) {
			id, err := ensureMemorial(ctx)
			if err != nil {
				return 0, err
			}
			m, err := t.Store.Inner().GetByID(ctx, id)
			if err != nil {
				return 0, err
			}
			return float64(int64(len(m.Donations)) - acknowledged.Load()), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}

	return Experiment{
		Name:        "store-partial-outage",
		Hypothesis:  "Failed donation writes are reported to the donor and never stored",
		SteadyState: []Metric{successRate, phantoms},
		Method: []Action{
			{
				Type:   "failure",
				Target: "memorial-store",
				Execute: func(context.Context) error {
					t.Store.InjectFailures(failRate)
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "failure",
				Target: "memorial-store",
				Execute: func(context.Context) error {
					t.Store.Reset()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "phantom_donations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "only acknowledged donations are stored",
			},
		},
		Duration: t.Duration,
	}
}
