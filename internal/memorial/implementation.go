// internal/memorial/implementation.go
package memorial

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"memoria/internal/apperr"
	"memoria/internal/entitlement"
	"memoria/internal/slug"
	"memoria/internal/validation"
)

const aggregateType = "memorial"

// service implements the Service interface.
type service struct {
	store   Store
	slugs   *slug.Allocator
	journal Journal
	clock   Clock
	log     logrus.FieldLogger
}

// Option configures the service.
type Option func(*service)

// WithJournal records domain events to j.
func WithJournal(j Journal) Option {
	return func(s *service) { s.journal = j }
}

// WithClock replaces SystemClock.
func WithClock(c Clock) Option {
	return func(s *service) { s.clock = c }
}

// WithAllocator replaces the default slug allocator probing the store.
func WithAllocator(a *slug.Allocator) Option {
	return func(s *service) { s.slugs = a }
}

// NewService creates a new memorial service instance.
func NewService(store Store, log logrus.FieldLogger, opts ...Option) Service {
	s := &service{
		store:   store,
		journal: NopJournal{},
		clock:   SystemClock,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.slugs == nil {
		s.slugs = slug.NewAllocator(store)
	}
	return s
}

// Create fills defaults, allocates a slug and persists the memorial. A slug
// lost to a concurrent insert is re-allocated.
func (s *service) Create(ctx context.Context, d Draft) (*Memorial, error) {
	if err := validation.Struct(d); err != nil {
		return nil, err
	}

	m := s.fromDraft(d)
	base := slug.Base(d.FirstName, d.LastName, d.DeathDate)

	for attempt := 1; attempt <= slug.DefaultMaxAttempts; attempt++ {
		candidate, err := s.slugs.Free(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("allocate slug: %w", err)
		}
		m.Slug = candidate

		id, err := s.store.Insert(ctx, m)
		if errors.Is(err, ErrSlugTaken) {
			s.log.WithFields(logrus.Fields{"slug": candidate, "attempt": attempt}).Debug("slug taken at insert, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert memorial: %w", err)
		}
		m.ID = id

		s.record(ctx, id, "MemorialCreated", MemorialCreatedEvent{
			ID:     id,
			Slug:   m.Slug,
			UserID: m.UserID,
			Plan:   m.Plan,
			Status: m.Status,
		})
		s.log.WithFields(logrus.Fields{"memorial_id": id, "slug": m.Slug}).Info("memorial created")
		return m, nil
	}
	return nil, apperr.Conflict(apperr.CodeSlugTaken, "could not reserve a unique slug for %q", base)
}

func (s *service) fromDraft(d Draft) *Memorial {
	fullName := FullName(d.FirstName, d.MiddleName, d.LastName)
	now := s.clock.Now()

	m := &Memorial{
		UserID:              d.UserID,
		Status:              d.Status,
		Plan:                d.Plan,
		FirstName:           d.FirstName,
		MiddleName:          d.MiddleName,
		LastName:            d.LastName,
		FullName:            fullName,
		BirthDate:           d.BirthDate,
		DeathDate:           d.DeathDate,
		Location:            d.Location,
		CauseOfDeath:        append([]string(nil), d.CauseOfDeath...),
		CauseOfDeathPrivate: d.CauseOfDeathPrivate,
		Biography:           d.Biography,
		ProfileImageURL:     d.ProfileImageURL,
		Gallery:             append([]GalleryItem{}, d.Gallery...),
		ThemeID:             d.ThemeID,
		LayoutID:            d.LayoutID,
		Donations:           []Donation{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if m.Plan == "" {
		m.Plan = entitlement.PlanFree
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	if d.DonationInfo != nil {
		m.DonationInfo = *d.DonationInfo
		m.DonationInfo.SuggestedAmounts = append([]float64(nil), d.DonationInfo.SuggestedAmounts...)
	} else {
		m.DonationInfo = DefaultDonationInfo()
	}
	if d.EmailSettings != nil {
		m.EmailSettings = *d.EmailSettings
	} else {
		m.EmailSettings = DefaultEmailSettings(fullName, d.ProfileImageURL)
	}
	return m
}

// Get retrieves a memorial by ID.
func (s *service) Get(ctx context.Context, id string) (*Memorial, error) {
	m, err := s.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("memorial", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memorial: %w", err)
	}
	return m, nil
}

// GetBySlug resolves a public slug.
func (s *service) GetBySlug(ctx context.Context, sl string) (*Memorial, error) {
	m, err := s.store.FindBySlug(ctx, sl)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("memorial", sl)
	}
	if err != nil {
		return nil, fmt.Errorf("find memorial by slug: %w", err)
	}
	return m, nil
}

func (s *service) ListByOwner(ctx context.Context, ownerID string) ([]*Memorial, error) {
	if ownerID == "" {
		return nil, apperr.Invalid(apperr.CodeInvalidInput, "owner id is required")
	}
	ms, err := s.store.ListByField(ctx, FieldUserID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list memorials: %w", err)
	}
	return ms, nil
}

// Update applies a merge patch. The full name follows name changes.
func (s *service) Update(ctx context.Context, id string, p Patch) error {
	if err := validation.Struct(p); err != nil {
		return err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if p.FirstName != nil || p.MiddleName != nil || p.LastName != nil {
		first, middle, last := current.FirstName, current.MiddleName, current.LastName
		if p.FirstName != nil {
			first = *p.FirstName
		}
		if p.MiddleName != nil {
			middle = *p.MiddleName
		}
		if p.LastName != nil {
			last = *p.LastName
		}
		full := FullName(first, middle, last)
		p.FullName = &full
	}

	fields := p.Fields()
	if len(fields) == 0 {
		return nil
	}
	p.UpdatedAt = s.clock.Now()

	if err := s.patch(ctx, id, p); err != nil {
		return err
	}
	s.record(ctx, id, "MemorialUpdated", MemorialUpdatedEvent{ID: id, Fields: fields})
	return nil
}

func (s *service) patch(ctx context.Context, id string, p Patch) error {
	err := s.store.Patch(ctx, id, p)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("memorial", id)
	}
	if err != nil {
		return fmt.Errorf("patch memorial: %w", err)
	}
	return nil
}

// Delete removes a memorial with its tributes and donations.
func (s *service) Delete(ctx context.Context, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("memorial", id)
	}
	if err != nil {
		return fmt.Errorf("delete memorial: %w", err)
	}

	s.record(ctx, id, "MemorialDeleted", MemorialDeletedEvent{ID: id, Slug: m.Slug})
	s.log.WithFields(logrus.Fields{"memorial_id": id, "slug": m.Slug}).Info("memorial deleted")
	return nil
}

// PreviewSlug returns the slug a memorial with these names would get now.
func (s *service) PreviewSlug(ctx context.Context, firstName, lastName, deathDate string) (string, error) {
	return s.slugs.Allocate(ctx, firstName, lastName, deathDate)
}

// Rename moves a memorial to a caller-chosen slug.
func (s *service) Rename(ctx context.Context, id, proposed string) (string, error) {
	next := slug.Normalize(proposed)
	if next == "" {
		return "", apperr.Invalid(apperr.CodeEmptySlug, "slug must contain at least one letter or digit")
	}

	m, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if m.Slug == next {
		return next, nil
	}

	err = s.store.SetSlug(ctx, id, next)
	switch {
	case errors.Is(err, ErrSlugTaken):
		return "", apperr.Conflict(apperr.CodeSlugTaken, "the address %q is already in use", next)
	case errors.Is(err, ErrNotFound):
		return "", apperr.NotFound("memorial", id)
	case err != nil:
		return "", fmt.Errorf("set slug: %w", err)
	}

	s.record(ctx, id, "SlugChanged", SlugChangedEvent{ID: id, OldSlug: m.Slug, NewSlug: next})
	s.log.WithFields(logrus.Fields{"memorial_id": id, "old_slug": m.Slug, "slug": next}).Info("memorial renamed")
	return next, nil
}

// Claim attaches an owner to a guest draft. The ownership check and the
// write happen atomically in the store, so of two concurrent claimants
// exactly one wins.
func (s *service) Claim(ctx context.Context, id, userID string) (*Memorial, error) {
	if userID == "" {
		return nil, apperr.Invalid(apperr.CodeInvalidInput, "user id is required")
	}

	claimed, err := s.store.ClaimOwner(ctx, id, userID, s.clock.Now())
	switch {
	case errors.Is(err, ErrOwnedByOther):
		return nil, apperr.Conflict(apperr.CodeAlreadyClaimed, "memorial already belongs to another account")
	case errors.Is(err, ErrNotFound):
		return nil, apperr.NotFound("memorial", id)
	case err != nil:
		return nil, fmt.Errorf("claim memorial: %w", err)
	}

	if claimed {
		s.record(ctx, id, "MemorialClaimed", MemorialClaimedEvent{ID: id, UserID: userID})
		s.log.WithFields(logrus.Fields{"memorial_id": id, "owner_id": userID}).Info("memorial claimed")
	}
	return s.Get(ctx, id)
}

// UpgradePlan raises the plan after payment. Lower or equal plans are a
// no-op and report false; the comparison runs inside the store so a late
// lower-tier upgrade can never overwrite a higher one.
func (s *service) UpgradePlan(ctx context.Context, id string, plan entitlement.Plan) (bool, error) {
	if !plan.Valid() {
		return false, apperr.Invalid(apperr.CodeInvalidPlan, "unknown plan %q", plan)
	}

	previous, raised, err := s.store.RaisePlan(ctx, id, plan, s.clock.Now())
	if errors.Is(err, ErrNotFound) {
		return false, apperr.NotFound("memorial", id)
	}
	if err != nil {
		return false, fmt.Errorf("raise plan: %w", err)
	}
	if !raised {
		return false, nil
	}

	s.record(ctx, id, "PlanUpgraded", PlanUpgradedEvent{ID: id, OldPlan: previous, NewPlan: plan})
	s.log.WithFields(logrus.Fields{"memorial_id": id, "plan": plan}).Info("plan upgraded")
	return true, nil
}

func (s *service) AddTribute(ctx context.Context, id string, in TributeInput) (*Tribute, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	t := Tribute{
		ID:         uuid.NewString(),
		MemorialID: id,
		AuthorName: in.AuthorName,
		Message:    in.Message,
		CreatedAt:  s.clock.Now(),
	}
	err := s.store.AddTribute(ctx, id, t)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("memorial", id)
	}
	if err != nil {
		return nil, fmt.Errorf("add tribute: %w", err)
	}
	return &t, nil
}

func (s *service) ListTributes(ctx context.Context, id string) ([]Tribute, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	ts, err := s.store.ListTributes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tributes: %w", err)
	}
	return ts, nil
}

// record journals an event. The store is authoritative, so a journal
// failure is logged and does not fail the write.
func (s *service) record(ctx context.Context, id, eventType string, data interface{}) {
	if err := s.journal.Record(ctx, id, aggregateType, eventType, data); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"memorial_id": id,
			"event":       eventType,
		}).Warn("failed to journal event")
	}
}
