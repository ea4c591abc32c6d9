// Package firestore stores memorials in Cloud Firestore.
//
// Each memorial is a document in "memorials" with its donations as an array
// field and tributes in a sub-collection. Slug uniqueness is enforced by a
// "slugs/{slug}" index document written in the same transaction as the
// memorial, so two writers can never both claim a slug.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"memoria/internal/apperr"
	"memoria/internal/entitlement"
	"memoria/internal/memorial"
)

const (
	memorialsCollection = "memorials"
	slugsCollection     = "slugs"
	tributesCollection  = "tributes"
)

type slugIndex struct {
	MemorialID string `firestore:"memorialId"`
}

type Store struct {
	client *firestore.Client
	tracer trace.Tracer
}

// Open initializes a Firestore client through the Firebase app for
// projectID. Credentials come from opts or Application Default Credentials.
func Open(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firestore: %w", err)
	}
	return client, nil
}

func New(client *firestore.Client) *Store {
	return &Store{client: client, tracer: otel.Tracer("memoria/store/firestore")}
}

func (s *Store) memorials() *firestore.CollectionRef { return s.client.Collection(memorialsCollection) }
func (s *Store) slugs() *firestore.CollectionRef     { return s.client.Collection(slugsCollection) }

func (s *Store) FindBySlug(ctx context.Context, slug string) (*memorial.Memorial, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.find_by_slug", trace.WithAttributes(attribute.String("slug", slug)))
	defer span.End()

	iter := s.memorials().Where("slug", "==", slug).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, memorial.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("find by slug", err)
	}
	return decode(doc)
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := s.slugs().Doc(slug).Get(ctx)
	switch {
	case err == nil:
		return true, nil
	case status.Code(err) == codes.NotFound:
		return false, nil
	default:
		return false, apperr.Unavailable("probe slug", err)
	}
}

func (s *Store) Insert(ctx context.Context, m *memorial.Memorial) (string, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.insert", trace.WithAttributes(attribute.String("slug", m.Slug)))
	defer span.End()

	ref := s.memorials().NewDoc()
	slugRef := s.slugs().Doc(m.Slug)
	rec := m.Clone()
	if rec.Donations == nil {
		rec.Donations = []memorial.Donation{}
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(slugRef); err == nil {
			return memorial.ErrSlugTaken
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Create(ref, rec); err != nil {
			return err
		}
		return tx.Create(slugRef, slugIndex{MemorialID: ref.ID})
	})
	switch {
	case err == nil:
		return ref.ID, nil
	case errors.Is(err, memorial.ErrSlugTaken), status.Code(err) == codes.AlreadyExists:
		span.SetAttributes(attribute.Bool("slug.conflict", true))
		return "", memorial.ErrSlugTaken
	default:
		return "", apperr.Unavailable("insert memorial", err)
	}
}

func (s *Store) GetByID(ctx context.Context, id string) (*memorial.Memorial, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.get", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	doc, err := s.memorials().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, memorial.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("get memorial", err)
	}
	return decode(doc)
}

func (s *Store) ListByField(ctx context.Context, field memorial.Field, value string) ([]*memorial.Memorial, error) {
	switch field {
	case memorial.FieldUserID, memorial.FieldStatus, memorial.FieldPlan:
	default:
		return nil, fmt.Errorf("unsupported field %q", field)
	}
	ctx, span := s.tracer.Start(ctx, "memorials.list", trace.WithAttributes(attribute.String("field", string(field))))
	defer span.End()

	iter := s.memorials().Where(string(field), "==", value).Documents(ctx)
	defer iter.Stop()

	var out []*memorial.Memorial
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, apperr.Unavailable("list memorials", err)
		}
		m, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Patch(ctx context.Context, id string, p memorial.Patch) error {
	ctx, span := s.tracer.Start(ctx, "memorials.patch", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	updates := patchUpdates(p)
	if len(updates) == 0 {
		_, err := s.GetByID(ctx, id)
		return err
	}
	_, err := s.memorials().Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return memorial.ErrNotFound
	}
	if err != nil {
		return apperr.Unavailable("patch memorial", err)
	}
	return nil
}

func (s *Store) SetSlug(ctx context.Context, id, slug string) error {
	ctx, span := s.tracer.Start(ctx, "memorials.set_slug", trace.WithAttributes(
		attribute.String("memorial.id", id), attribute.String("slug", slug)))
	defer span.End()

	ref := s.memorials().Doc(id)
	newSlugRef := s.slugs().Doc(slug)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := doc.DataAt("slug")
		if err != nil {
			return err
		}
		if current == slug {
			return nil
		}

		held, err := tx.Get(newSlugRef)
		if err == nil {
			var idx slugIndex
			if err := held.DataTo(&idx); err != nil {
				return err
			}
			if idx.MemorialID != id {
				return memorial.ErrSlugTaken
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if old, ok := current.(string); ok && old != "" {
			if err := tx.Delete(s.slugs().Doc(old)); err != nil {
				return err
			}
		}
		if err := tx.Set(newSlugRef, slugIndex{MemorialID: id}); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{{Path: "slug", Value: slug}})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memorial.ErrSlugTaken):
		return memorial.ErrSlugTaken
	case status.Code(err) == codes.NotFound:
		return memorial.ErrNotFound
	default:
		return apperr.Unavailable("set slug", err)
	}
}

// Delete removes the memorial, its slug index and its tributes.
func (s *Store) ClaimOwner(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.claim", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	ref := s.memorials().Doc(id)
	var claimed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var m memorial.Memorial
		if err := doc.DataTo(&m); err != nil {
			return err
		}
		switch m.UserID {
		case userID:
			return nil
		case "":
		default:
			return memorial.ErrOwnedByOther
		}
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "userId", Value: userID},
			{Path: "updatedAt", Value: at},
		})
	})
	switch {
	case status.Code(err) == codes.NotFound:
		return false, memorial.ErrNotFound
	case errors.Is(err, memorial.ErrOwnedByOther):
		return false, err
	case err != nil:
		return false, apperr.Unavailable("claim memorial", err)
	}
	return claimed, nil
}

func (s *Store) RaisePlan(ctx context.Context, id string, plan entitlement.Plan, at time.Time) (entitlement.Plan, bool, error) {
	ctx, span := s.tracer.Start(ctx, "memorials.raise_plan", trace.WithAttributes(
		attribute.String("memorial.id", id), attribute.String("plan", string(plan))))
	defer span.End()

	ref := s.memorials().Doc(id)
	var (
		previous entitlement.Plan
		raised   bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		raised = false
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var m memorial.Memorial
		if err := doc.DataTo(&m); err != nil {
			return err
		}
		previous = m.Plan
		if plan.Rank() <= previous.Rank() {
			return nil
		}
		raised = true
		return tx.Update(ref, []firestore.Update{
			{Path: "plan", Value: string(plan)},
			{Path: "updatedAt", Value: at},
		})
	})
	if status.Code(err) == codes.NotFound {
		return "", false, memorial.ErrNotFound
	}
	if err != nil {
		return "", false, apperr.Unavailable("raise plan", err)
	}
	return previous, raised, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "memorials.delete", trace.WithAttributes(attribute.String("memorial.id", id)))
	defer span.End()

	ref := s.memorials().Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if slug, err := doc.DataAt("slug"); err == nil {
			if sl, ok := slug.(string); ok && sl != "" {
				if err := tx.Delete(s.slugs().Doc(sl)); err != nil {
					return err
				}
			}
		}
		return tx.Delete(ref)
	})
	if status.Code(err) == codes.NotFound {
		return memorial.ErrNotFound
	}
	if err != nil {
		return apperr.Unavailable("delete memorial", err)
	}

	iter := ref.Collection(tributesCollection).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return apperr.Unavailable("list tributes for delete", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return apperr.Unavailable("delete tribute", err)
		}
	}
}

// AppendDonation adds d with a server-side array union.
func (s *Store) AppendDonation(ctx context.Context, id string, d memorial.Donation) error {
	_, err := s.memorials().Doc(id).Update(ctx, []firestore.Update{
		{Path: "donations", Value: firestore.ArrayUnion(d)},
	})
	if status.Code(err) == codes.NotFound {
		return memorial.ErrNotFound
	}
	if err != nil {
		return apperr.Unavailable("append donation", err)
	}
	return nil
}

func (s *Store) TransitionPayouts(ctx context.Context, id string, from, to memorial.PayoutStatus) (int, error) {
	ctx, span := s.tracer.Start(ctx, "donations.transition", trace.WithAttributes(
		attribute.String("memorial.id", id), attribute.String("to", string(to))))
	defer span.End()

	ref := s.memorials().Doc(id)
	var changed int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = 0
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var m memorial.Memorial
		if err := doc.DataTo(&m); err != nil {
			return err
		}
		for i := range m.Donations {
			if m.Donations[i].PayoutStatus == from {
				m.Donations[i].PayoutStatus = to
				changed++
			}
		}
		if changed == 0 {
			return nil
		}
		return tx.Update(ref, []firestore.Update{{Path: "donations", Value: m.Donations}})
	})
	if status.Code(err) == codes.NotFound {
		return 0, memorial.ErrNotFound
	}
	if err != nil {
		return 0, apperr.Unavailable("transition payouts", err)
	}
	return changed, nil
}

func (s *Store) AddTribute(ctx context.Context, memorialID string, t memorial.Tribute) error {
	ref := s.memorials().Doc(memorialID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Create(ref.Collection(tributesCollection).Doc(t.ID), t)
	})
	if status.Code(err) == codes.NotFound {
		return memorial.ErrNotFound
	}
	if err != nil {
		return apperr.Unavailable("add tribute", err)
	}
	return nil
}

func (s *Store) ListTributes(ctx context.Context, memorialID string) ([]memorial.Tribute, error) {
	iter := s.memorials().Doc(memorialID).Collection(tributesCollection).
		OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []memorial.Tribute
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, apperr.Unavailable("list tributes", err)
		}
		var t memorial.Tribute
		if err := doc.DataTo(&t); err != nil {
			return nil, fmt.Errorf("decode tribute %s: %w", doc.Ref.ID, err)
		}
		out = append(out, t)
	}
}

func decode(doc *firestore.DocumentSnapshot) (*memorial.Memorial, error) {
	var m memorial.Memorial
	if err := doc.DataTo(&m); err != nil {
		return nil, fmt.Errorf("decode memorial %s: %w", doc.Ref.ID, err)
	}
	m.ID = doc.Ref.ID
	if m.Donations == nil {
		m.Donations = []memorial.Donation{}
	}
	return &m, nil
}

// patchUpdates maps the set fields of p onto document paths.
func patchUpdates(p memorial.Patch) []firestore.Update {
	var updates []firestore.Update
	set := func(path string, v interface{}) {
		updates = append(updates, firestore.Update{Path: path, Value: v})
	}

	if p.UserID != nil {
		set("userId", *p.UserID)
	}
	if p.Plan != nil {
		set("plan", string(*p.Plan))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.FirstName != nil {
		set("firstName", *p.FirstName)
	}
	if p.MiddleName != nil {
		set("middleName", *p.MiddleName)
	}
	if p.LastName != nil {
		set("lastName", *p.LastName)
	}
	if p.FullName != nil {
		set("fullName", *p.FullName)
	}
	if p.BirthDate != nil {
		set("birthDate", *p.BirthDate)
	}
	if p.DeathDate != nil {
		set("deathDate", *p.DeathDate)
	}
	if p.Location != nil {
		set("location", *p.Location)
	}
	if p.CauseOfDeath != nil {
		set("causeOfDeath", *p.CauseOfDeath)
	}
	if p.CauseOfDeathPrivate != nil {
		set("causeOfDeathPrivate", *p.CauseOfDeathPrivate)
	}
	if p.Biography != nil {
		set("biography", *p.Biography)
	}
	if p.ProfileImageURL != nil {
		set("profileImageUrl", *p.ProfileImageURL)
	}
	if p.Gallery != nil {
		set("gallery", *p.Gallery)
	}
	if p.ThemeID != nil {
		set("themeId", *p.ThemeID)
	}
	if p.LayoutID != nil {
		set("layoutId", *p.LayoutID)
	}
	if p.DonationInfo != nil {
		set("donationInfo", *p.DonationInfo)
	}
	if p.EmailSettings != nil {
		set("emailSettings", *p.EmailSettings)
	}
	if !p.UpdatedAt.IsZero() {
		set("updatedAt", p.UpdatedAt)
	}
	return updates
}
