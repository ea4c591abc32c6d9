// Package storetest holds the behavioural contract every memorial.Store
// adapter is tested against.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/entitlement"
	"memoria/internal/memorial"
)

// Factory returns an empty store. Adapters backed by shared infrastructure
// may return a store over fresh, uniquely named data instead.
type Factory func(t *testing.T) memorial.Store

// Run exercises the full Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("InsertRejectsTakenSlug", func(t *testing.T) { testInsertRejectsTakenSlug(t, newStore(t)) })
	t.Run("ConcurrentInsertSameSlug", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("Patch", func(t *testing.T) { testPatch(t, newStore(t)) })
	t.Run("SetSlug", func(t *testing.T) { testSetSlug(t, newStore(t)) })
	t.Run("ListByField", func(t *testing.T) { testListByField(t, newStore(t)) })
	t.Run("Donations", func(t *testing.T) { testDonations(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
	t.Run("ClaimOwner", func(t *testing.T) { testClaimOwner(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("RaisePlan", func(t *testing.T) { testRaisePlan(t, newStore(t)) })
	t.Run("ConcurrentRaisePlan", func(t *testing.T) { testConcurrentRaisePlan(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newStore(t)) })
}

// Sample returns a fully populated memorial with a unique slug.
func Sample(owner string) *memorial.Memorial {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &memorial.Memorial{
		Slug:          "jane-doe-" + uuid.NewString()[:8],
		UserID:        owner,
		Status:        memorial.StatusActive,
		Plan:          entitlement.PlanFree,
		FirstName:     "Jane",
		LastName:      "Doe",
		FullName:      "Jane Doe",
		DeathDate:     "2023-01-01",
		CauseOfDeath:  []string{"illness"},
		Gallery:       []memorial.GalleryItem{{ID: "g1", Kind: "photo", URL: "https://example.com/a.jpg"}},
		DonationInfo:  memorial.DefaultDonationInfo(),
		EmailSettings: memorial.DefaultEmailSettings("Jane Doe", ""),
		Donations:     []memorial.Donation{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func donation(amount float64) memorial.Donation {
	return memorial.Donation{
		ID:           uuid.NewString(),
		Amount:       amount,
		Name:         "Sam",
		Email:        "sam@example.com",
		Type:         memorial.DonationOneTime,
		Date:         time.Now().UTC().Truncate(time.Millisecond),
		PayoutStatus: memorial.PayoutPending,
	}
}

func testInsertAndFind(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	m := Sample("owner-" + uuid.NewString())

	id, err := s.Insert(ctx, m)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	exists, err := s.SlugExists(ctx, m.Slug)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.FindBySlug(ctx, m.Slug)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Jane Doe", got.FullName)
	assert.Equal(t, []float64{25, 50, 100, 250}, got.DonationInfo.SuggestedAmounts)
	assert.Equal(t, "In loving memory of Jane Doe.", got.EmailSettings.FooterMessage)
	assert.Len(t, got.Gallery, 1)

	byID, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, m.Slug, byID.Slug)
}

func testInsertRejectsTakenSlug(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	m := Sample("")
	_, err := s.Insert(ctx, m)
	require.NoError(t, err)

	dup := Sample("")
	dup.Slug = m.Slug
	_, err = s.Insert(ctx, dup)
	assert.ErrorIs(t, err, memorial.ErrSlugTaken)
}

func testConcurrentInsert(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	slug := "race-" + uuid.NewString()[:8]

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		lost    int
		another []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := Sample("")
			m.Slug = slug
			_, err := s.Insert(ctx, m)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, memorial.ErrSlugTaken):
				lost++
			default:
				another = append(another, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, another)
	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, lost)
}

func testPatch(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	m := Sample("")
	id, err := s.Insert(ctx, m)
	require.NoError(t, err)

	bio := "A life well lived."
	gallery := []memorial.GalleryItem{{ID: "g2", Kind: "video", URL: "https://example.com/v.mp4"}}
	info := m.DonationInfo
	info.Enabled = true
	info.SuggestedAmounts = []float64{10}
	updated := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)

	require.NoError(t, s.Patch(ctx, id, memorial.Patch{
		Biography:    &bio,
		Gallery:      &gallery,
		DonationInfo: &info,
		UpdatedAt:    updated,
	}))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bio, got.Biography)
	assert.Equal(t, gallery, got.Gallery)
	assert.Equal(t, []float64{10}, got.DonationInfo.SuggestedAmounts)
	assert.True(t, got.DonationInfo.Enabled)
	assert.Equal(t, "Jane", got.FirstName)
	assert.True(t, updated.Equal(got.UpdatedAt))
}

func testSetSlug(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	a := Sample("")
	b := Sample("")
	idA, err := s.Insert(ctx, a)
	require.NoError(t, err)
	_, err = s.Insert(ctx, b)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetSlug(ctx, idA, b.Slug), memorial.ErrSlugTaken)
	require.NoError(t, s.SetSlug(ctx, idA, a.Slug))

	next := a.Slug + "-renamed"
	require.NoError(t, s.SetSlug(ctx, idA, next))

	exists, err := s.SlugExists(ctx, a.Slug)
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := s.FindBySlug(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, idA, got.ID)
}

func testListByField(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()
	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, Sample(owner))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, Sample("someone-else-"+uuid.NewString()))
	require.NoError(t, err)

	got, err := s.ListByField(ctx, memorial.FieldUserID, owner)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, m := range got {
		assert.Equal(t, owner, m.UserID)
	}
}

func testDonations(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, Sample(""))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendDonation(ctx, id, donation(float64(i*10))))
	}

	n, err := s.TransitionPayouts(ctx, id, memorial.PayoutPending, memorial.PayoutPaid)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.TransitionPayouts(ctx, id, memorial.PayoutPending, memorial.PayoutPaid)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.AppendDonation(ctx, id, donation(5)))
	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Donations, 4)
	for _, d := range got.Donations[:3] {
		assert.Equal(t, memorial.PayoutPaid, d.PayoutStatus)
	}
	assert.Equal(t, memorial.PayoutPending, got.Donations[3].PayoutStatus)
	assert.Equal(t, 5.0, got.Donations[3].Amount)
}

func testConcurrentAppend(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, Sample(""))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendDonation(ctx, id, donation(float64(i+1)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Donations, n)
}

func testClaimOwner(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, Sample(""))
	require.NoError(t, err)
	at := time.Now().UTC().Truncate(time.Millisecond).Add(time.Minute)

	claimed, err := s.ClaimOwner(ctx, id, "owner-a", at)
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := s.ClaimOwner(ctx, id, "owner-a", at)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = s.ClaimOwner(ctx, id, "owner-b", at)
	assert.ErrorIs(t, err, memorial.ErrOwnedByOther)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", got.UserID)
	assert.True(t, got.UpdatedAt.Equal(at))
}

func testConcurrentClaim(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, Sample(""))
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		lost    int
		another []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			claimed, err := s.ClaimOwner(ctx, id, user, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && claimed:
				winners = append(winners, user)
			case errors.Is(err, memorial.ErrOwnedByOther):
				lost++
			case err != nil:
				another = append(another, err)
			}
		}("user-" + uuid.NewString()[:8])
	}
	wg.Wait()

	assert.Empty(t, another)
	require.Len(t, winners, 1)
	assert.Equal(t, n-1, lost)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.UserID)
}

func testRaisePlan(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, Sample("owner"))
	require.NoError(t, err)
	at := time.Now().UTC().Truncate(time.Millisecond)

	previous, raised, err := s.RaisePlan(ctx, id, entitlement.PlanEternal, at)
	require.NoError(t, err)
	assert.True(t, raised)
	assert.Equal(t, entitlement.PlanFree, previous)

	for _, lower := range []entitlement.Plan{entitlement.PlanPremium, entitlement.PlanEternal, entitlement.PlanFree} {
		previous, raised, err = s.RaisePlan(ctx, id, lower, at)
		require.NoError(t, err)
		assert.False(t, raised, lower)
		assert.Equal(t, entitlement.PlanEternal, previous)
	}

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanEternal, got.Plan)
}

func testConcurrentRaisePlan(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, Sample("owner"))
	require.NoError(t, err)

	plans := []entitlement.Plan{
		entitlement.PlanEternal, entitlement.PlanPremium,
		entitlement.PlanPremium, entitlement.PlanEternal,
		entitlement.PlanPremium, entitlement.PlanPremium,
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(plans))
	for _, p := range plans {
		wg.Add(1)
		go func(p entitlement.Plan) {
			defer wg.Done()
			_, _, err := s.RaisePlan(ctx, id, p, time.Now().UTC())
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanEternal, got.Plan)
}

func testDeleteCascades(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	m := Sample("")
	id, err := s.Insert(ctx, m)
	require.NoError(t, err)
	require.NoError(t, s.AddTribute(ctx, id, memorial.Tribute{
		ID: uuid.NewString(), MemorialID: id, AuthorName: "Ann", Message: "Miss you",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}))
	require.NoError(t, s.AppendDonation(ctx, id, donation(20)))

	ts, err := s.ListTributes(ctx, id)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "Ann", ts[0].AuthorName)

	require.NoError(t, s.Delete(ctx, id))

	_, err = s.GetByID(ctx, id)
	assert.ErrorIs(t, err, memorial.ErrNotFound)
	exists, err := s.SlugExists(ctx, m.Slug)
	require.NoError(t, err)
	assert.False(t, exists)
	ts, err = s.ListTributes(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func testMissing(t *testing.T, s memorial.Store) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := s.GetByID(ctx, missing)
	assert.ErrorIs(t, err, memorial.ErrNotFound)
	_, err = s.FindBySlug(ctx, "no-such-"+missing)
	assert.ErrorIs(t, err, memorial.ErrNotFound)
	assert.ErrorIs(t, s.Patch(ctx, missing, memorial.Patch{}), memorial.ErrNotFound)
	assert.ErrorIs(t, s.AppendDonation(ctx, missing, donation(1)), memorial.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, missing), memorial.ErrNotFound)
	_, err = s.TransitionPayouts(ctx, missing, memorial.PayoutPending, memorial.PayoutPaid)
	assert.ErrorIs(t, err, memorial.ErrNotFound)
	_, err = s.ClaimOwner(ctx, missing, "owner", time.Now())
	assert.ErrorIs(t, err, memorial.ErrNotFound)
	_, _, err = s.RaisePlan(ctx, missing, entitlement.PlanPremium, time.Now())
	assert.ErrorIs(t, err, memorial.ErrNotFound)
}
