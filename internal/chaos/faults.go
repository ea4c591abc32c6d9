package chaos

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"memoria/internal/apperr"
	"memoria/internal/entitlement"
	"memoria/internal/memorial"
)

var errInjected = errors.New("injected fault")

// FaultyStore wraps a memorial.Store and adds latency or transport failures
// on demand. With no fault injected it is a passthrough.
type FaultyStore struct {
	inner memorial.Store

	mu       sync.RWMutex
	latency  time.Duration
	failRate float64
}

func NewFaultyStore(inner memorial.Store) *FaultyStore {
	return &FaultyStore{inner: inner}
}

// Inner returns the wrapped store, for measuring ground truth while a fault
// is active.
func (f *FaultyStore) Inner() memorial.Store { return f.inner }

// InjectLatency delays every call by d.
func (f *FaultyStore) InjectLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// InjectFailures fails calls with probability rate in [0, 1].
func (f *FaultyStore) InjectFailures(rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRate = rate
}

// Reset removes every injected fault.
func (f *FaultyStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = 0
	f.failRate = 0
}

func (f *FaultyStore) fault(ctx context.Context, op string) error {
	f.mu.RLock()
	latency, failRate := f.latency, f.failRate
	f.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return apperr.Unavailable(op, ctx.Err())
		case <-t.C:
		}
	}
	if failRate > 0 && rand.Float64() < failRate {
		return apperr.Unavailable(op, errInjected)
	}
	return nil
}

func (f *FaultyStore) FindBySlug(ctx context.Context, slug string) (*memorial.Memorial, error) {
	if err := f.fault(ctx, "find by slug"); err != nil {
		return nil, err
	}
	return f.inner.FindBySlug(ctx, slug)
}

func (f *FaultyStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	if err := f.fault(ctx, "slug exists"); err != nil {
		return false, err
	}
	return f.inner.SlugExists(ctx, slug)
}

func (f *FaultyStore) Insert(ctx context.Context, m *memorial.Memorial) (string, error) {
	if err := f.fault(ctx, "insert memorial"); err != nil {
		return "", err
	}
	return f.inner.Insert(ctx, m)
}

func (f *FaultyStore) GetByID(ctx context.Context, id string) (*memorial.Memorial, error) {
	if err := f.fault(ctx, "get memorial"); err != nil {
		return nil, err
	}
	return f.inner.GetByID(ctx, id)
}

func (f *FaultyStore) ListByField(ctx context.Context, field memorial.Field, value string) ([]*memorial.Memorial, error) {
	if err := f.fault(ctx, "list memorials"); err != nil {
		return nil, err
	}
	return f.inner.ListByField(ctx, field, value)
}

func (f *FaultyStore) Patch(ctx context.Context, id string, p memorial.Patch) error {
	if err := f.fault(ctx, "patch memorial"); err != nil {
		return err
	}
	return f.inner.Patch(ctx, id, p)
}

func (f *FaultyStore) SetSlug(ctx context.Context, id, slug string) error {
	if err := f.fault(ctx, "set slug"); err != nil {
		return err
	}
	return f.inner.SetSlug(ctx, id, slug)
}

func (f *FaultyStore) ClaimOwner(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	if err := f.fault(ctx, "claim owner"); err != nil {
		return false, err
	}
	return f.inner.ClaimOwner(ctx, id, userID, at)
}

func (f *FaultyStore) RaisePlan(ctx context.Context, id string, plan entitlement.Plan, at time.Time) (entitlement.Plan, bool, error) {
	if err := f.fault(ctx, "raise plan"); err != nil {
		return "", false, err
	}
	return f.inner.RaisePlan(ctx, id, plan, at)
}

func (f *FaultyStore) Delete(ctx context.Context, id string) error {
	if err := f.fault(ctx, "delete memorial"); err != nil {
		return err
	}
	return f.inner.Delete(ctx, id)
}

func (f *FaultyStore) AppendDonation(ctx context.Context, id string, d memorial.Donation) error {
	if err := f.fault(ctx, "append donation"); err != nil {
		return err
	}
	return f.inner.AppendDonation(ctx, id, d)
}

func (f *FaultyStore) TransitionPayouts(ctx context.Context, id string, from, to memorial.PayoutStatus) (int, error) {
	if err := f.fault(ctx, "transition payouts"); err != nil {
		return 0, err
	}
	return f.inner.TransitionPayouts(ctx, id, from, to)
}

func (f *FaultyStore) AddTribute(ctx context.Context, memorialID string, t memorial.Tribute) error {
	if err := f.fault(ctx, "add tribute"); err != nil {
		return err
	}
	return f.inner.AddTribute(ctx, memorialID, t)
}

func (f *FaultyStore) ListTributes(ctx context.Context, memorialID string) ([]memorial.Tribute, error) {
	if err := f.fault(ctx, "list tributes"); err != nil {
		return nil, err
	}
	return f.inner.ListTributes(ctx, memorialID)
}
