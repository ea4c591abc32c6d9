package entitlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Backend persists admin-configured feature overrides.
type Backend interface {
	Load(ctx context.Context) (map[string]PlanSet, error)
	Save(ctx context.Context, feature string, plans PlanSet) error
	Delete(ctx context.Context, feature string) error
}

// Watcher is implemented by backends that can push change notifications
// from other processes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Settings is the site-wide override configuration. Reads are served from
// the in-process snapshot; writes go to the backend first.
type Settings struct {
	backend Backend
	log     logrus.FieldLogger

	mu        sync.RWMutex
	overrides map[string]PlanSet
	subs      map[int]chan struct{}
	nextSub   int
}

// NewSettings creates a settings service over backend. Call Reload to
// populate it.
func NewSettings(backend Backend, log logrus.FieldLogger) *Settings {
	return &Settings{
		backend:   backend,
		log:       log,
		overrides: make(map[string]PlanSet),
		subs:      make(map[int]chan struct{}),
	}
}

// Override returns the plan set configured for feature, if any.
func (s *Settings) Override(feature string) (PlanSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plans, ok := s.overrides[feature]
	if !ok {
		return nil, false
	}
	return append(PlanSet(nil), plans...), true
}

// Overrides returns a copy of every configured override.
func (s *Settings) Overrides() map[string]PlanSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PlanSet, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = append(PlanSet(nil), v...)
	}
	return out
}

// SetOverride replaces the plan set for feature.
func (s *Settings) SetOverride(ctx context.Context, feature string, plans PlanSet) error {
	for _, p := range plans {
		if !p.Valid() {
			return fmt.Errorf("override %s: unknown plan %q", feature, p)
		}
	}
	plans = append(PlanSet{}, plans...)
	if err := s.backend.Save(ctx, feature, plans); err != nil {
		return fmt.Errorf("save override %s: %w", feature, err)
	}

	s.mu.Lock()
	s.overrides[feature] = plans
	s.mu.Unlock()

	s.log.WithField("feature", feature).WithField("plans", plans).Info("feature override set")
	s.notify()
	return nil
}

// ClearOverride removes the override for feature, restoring catalog defaults.
func (s *Settings) ClearOverride(ctx context.Context, feature string) error {
	if err := s.backend.Delete(ctx, feature); err != nil {
		return fmt.Errorf("delete override %s: %w", feature, err)
	}

	s.mu.Lock()
	delete(s.overrides, feature)
	s.mu.Unlock()

	s.log.WithField("feature", feature).Info("feature override cleared")
	s.notify()
	return nil
}

// Reload replaces the snapshot with the backend's current state.
func (s *Settings) Reload(ctx context.Context) error {
	loaded, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	if loaded == nil {
		loaded = make(map[string]PlanSet)
	}

	s.mu.Lock()
	s.overrides = loaded
	s.mu.Unlock()

	s.log.WithField("count", len(loaded)).Debug("feature overrides reloaded")
	s.notify()
	return nil
}

// Subscribe returns a channel signalled after every change. Signals are
// coalesced; the returned func unsubscribes.
func (s *Settings) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// Watch reloads on every change pushed by the backend until ctx is done.
// Backends without push support return immediately.
func (s *Settings) Watch(ctx context.Context) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil {
			s.log.WithError(err).Warn("reload feature overrides")
		}
	})
}

func (s *Settings) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// MemoryBackend keeps overrides in process memory.
type MemoryBackend struct {
	mu        sync.Mutex
	overrides map[string]PlanSet
}

// NewMemoryBackend creates a backend seeded with initial.
func NewMemoryBackend(initial map[string]PlanSet) *MemoryBackend {
	b := &MemoryBackend{overrides: make(map[string]PlanSet, len(initial))}
	for k, v := range initial {
		b.overrides[k] = append(PlanSet(nil), v...)
	}
	return b
}

func (b *MemoryBackend) Load(context.Context) (map[string]PlanSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]PlanSet, len(b.overrides))
	for k, v := range b.overrides {
		out[k] = append(PlanSet(nil), v...)
	}
	return out, nil
}

func (b *MemoryBackend) Save(_ context.Context, feature string, plans PlanSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[feature] = append(PlanSet(nil), plans...)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, feature string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.overrides, feature)
	return nil
}
