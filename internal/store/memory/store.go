// Package memory is an in-process memorial store used for development and
// tests. All records are copied on the way in and out.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoria/internal/entitlement"
	"memoria/internal/memorial"
)

type Store struct {
	mu       sync.RWMutex
	byID     map[string]*memorial.Memorial
	bySlug   map[string]string
	tributes map[string][]memorial.Tribute
}

func New() *Store {
	return &Store{
		byID:     make(map[string]*memorial.Memorial),
		bySlug:   make(map[string]string),
		tributes: make(map[string][]memorial.Tribute),
	}
}

func (s *Store) FindBySlug(_ context.Context, slug string) (*memorial.Memorial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlug[slug]
	if !ok {
		return nil, memorial.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Store) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySlug[slug]
	return ok, nil
}

func (s *Store) Insert(_ context.Context, m *memorial.Memorial) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.bySlug[m.Slug]; taken {
		return "", memorial.ErrSlugTaken
	}
	rec := m.Clone()
	rec.ID = uuid.NewString()
	s.byID[rec.ID] = rec
	s.bySlug[rec.Slug] = rec.ID
	return rec.ID, nil
}

func (s *Store) GetByID(_ context.Context, id string) (*memorial.Memorial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, memorial.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) ListByField(_ context.Context, field memorial.Field, value string) ([]*memorial.Memorial, error) {
	var get func(*memorial.Memorial) string
	switch field {
	case memorial.FieldUserID:
		get = func(m *memorial.Memorial) string { return m.UserID }
	case memorial.FieldStatus:
		get = func(m *memorial.Memorial) string { return string(m.Status) }
	case memorial.FieldPlan:
		get = func(m *memorial.Memorial) string { return string(m.Plan) }
	default:
		return nil, fmt.Errorf("unsupported field %q", field)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memorial.Memorial
	for _, m := range s.byID {
		if get(m) == value {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Patch(_ context.Context, id string, p memorial.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return memorial.ErrNotFound
	}
	p.Apply(m)
	return nil
}

func (s *Store) SetSlug(_ context.Context, id, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return memorial.ErrNotFound
	}
	if holder, taken := s.bySlug[slug]; taken && holder != id {
		return memorial.ErrSlugTaken
	}
	delete(s.bySlug, m.Slug)
	m.Slug = slug
	s.bySlug[slug] = id
	return nil
}

func (s *Store) ClaimOwner(_ context.Context, id, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return false, memorial.ErrNotFound
	}
	switch m.UserID {
	case userID:
		return false, nil
	case "":
		m.UserID = userID
		m.UpdatedAt = at
		return true, nil
	default:
		return false, memorial.ErrOwnedByOther
	}
}

func (s *Store) RaisePlan(_ context.Context, id string, plan entitlement.Plan, at time.Time) (entitlement.Plan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return "", false, memorial.ErrNotFound
	}
	previous := m.Plan
	if plan.Rank() <= previous.Rank() {
		return previous, false, nil
	}
	m.Plan = plan
	m.UpdatedAt = at
	return previous, true, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return memorial.ErrNotFound
	}
	delete(s.bySlug, m.Slug)
	delete(s.byID, id)
	delete(s.tributes, id)
	return nil
}

func (s *Store) AppendDonation(_ context.Context, id string, d memorial.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return memorial.ErrNotFound
	}
	m.Donations = append(m.Donations, d)
	return nil
}

func (s *Store) TransitionPayouts(_ context.Context, id string, from, to memorial.PayoutStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return 0, memorial.ErrNotFound
	}
	changed := 0
	for i := range m.Donations {
		if m.Donations[i].PayoutStatus == from {
			m.Donations[i].PayoutStatus = to
			changed++
		}
	}
	return changed, nil
}

func (s *Store) AddTribute(_ context.Context, memorialID string, t memorial.Tribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[memorialID]; !ok {
		return memorial.ErrNotFound
	}
	s.tributes[memorialID] = append(s.tributes[memorialID], t)
	return nil
}

func (s *Store) ListTributes(_ context.Context, memorialID string) ([]memorial.Tribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]memorial.Tribute(nil), s.tributes[memorialID]...), nil
}
