package entitlement

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"memoria/internal/apperr"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

const testCatalog = `
features:
  - name: x
    display_name: Feature X
    available_in: [premium, eternal]
  - name: gallery
    display_name: Gallery
    available_in: [eternal, free, premium]
limits:
  free: {photo: 5, video: 0, audio: 0}
  premium: {photo: unlimited, video: unlimited, audio: unlimited}
  eternal: {photo: unlimited, video: unlimited, audio: unlimited}
`

func newTestService(t *testing.T, overrides map[string]PlanSet) (Service, *Settings) {
	t.Helper()
	catalog, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	settings := NewSettings(NewMemoryBackend(overrides), quietLogger())
	require.NoError(t, settings.Reload(context.Background()))
	return NewService(catalog, settings), settings
}

func TestHasAccessDefaults(t *testing.T) {
	svc, _ := newTestService(t, nil)

	assert.False(t, svc.HasAccess(PlanFree, "x"))
	assert.True(t, svc.HasAccess(PlanPremium, "x"))
	assert.True(t, svc.HasAccess(PlanEternal, "x"))
	assert.False(t, svc.HasAccess(PlanEternal, "no-such-feature"))
}

func TestOverridePrecedence(t *testing.T) {
	svc, _ := newTestService(t, map[string]PlanSet{"x": {PlanFree}})

	assert.True(t, svc.HasAccess(PlanFree, "x"))
	assert.False(t, svc.HasAccess(PlanPremium, "x"))
	assert.False(t, svc.HasAccess(PlanEternal, "x"))
}

func TestMinimumPlanIgnoresOverride(t *testing.T) {
	svc, _ := newTestService(t, map[string]PlanSet{"x": {PlanFree}})

	minimum, ok := svc.MinimumPlan("x")
	require.True(t, ok)
	assert.Equal(t, PlanPremium, minimum)

	effective, ok := svc.EffectiveMinimumPlan("x")
	require.True(t, ok)
	assert.Equal(t, PlanFree, effective)
}

func TestRequiredPlanIsLowestAvailable(t *testing.T) {
	svc, _ := newTestService(t, nil)

	minimum, ok := svc.MinimumPlan("gallery")
	require.True(t, ok)
	assert.Equal(t, PlanFree, minimum)

	_, ok = svc.MinimumPlan("missing")
	assert.False(t, ok)
}

func TestEffectiveMinimumPlanRevokedForEveryone(t *testing.T) {
	svc, _ := newTestService(t, map[string]PlanSet{"x": {}})

	_, ok := svc.EffectiveMinimumPlan("x")
	assert.False(t, ok)
	assert.False(t, svc.HasAccess(PlanEternal, "x"))
}

func TestRemainingUploadSlots(t *testing.T) {
	svc, _ := newTestService(t, nil)

	assert.Equal(t, Slots{Count: 3}, svc.RemainingUploadSlots(PlanFree, 2, MediaPhoto))
	assert.Equal(t, Slots{Count: 0}, svc.RemainingUploadSlots(PlanFree, 9, MediaPhoto))
	assert.Equal(t, Slots{Count: 0}, svc.RemainingUploadSlots(PlanFree, 0, MediaVideo))
	assert.Equal(t, Slots{Count: 5}, svc.RemainingUploadSlots(PlanFree, -3, MediaPhoto))
	assert.Equal(t, UnlimitedSlots, svc.RemainingUploadSlots(PlanPremium, 1000, MediaPhoto))
	assert.True(t, svc.RemainingUploadSlots(PlanEternal, 1, MediaAudio).Allows(1<<30))
	assert.False(t, svc.RemainingUploadSlots(PlanFree, 4, MediaPhoto).Allows(2))
}

func TestSetOverrideValidates(t *testing.T) {
	svc, settings := newTestService(t, nil)
	ctx := context.Background()

	err := svc.SetOverride(ctx, "missing", PlanSet{PlanFree})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, apperr.CodeUnknownFeature, ve.Code)

	err = svc.SetOverride(ctx, "x", PlanSet{"gold"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, apperr.CodeInvalidPlan, ve.Code)

	require.NoError(t, svc.SetOverride(ctx, "x", PlanSet{PlanFree}))
	assert.True(t, svc.HasAccess(PlanFree, "x"))
	_, ok := settings.Override("x")
	assert.True(t, ok)

	require.NoError(t, svc.ClearOverride(ctx, "x"))
	assert.False(t, svc.HasAccess(PlanFree, "x"))
}

func TestOverridePrecedenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		override := PlanSet(rapid.SliceOfDistinct(rapid.SampledFrom(Plans()), func(p Plan) Plan { return p }).Draw(t, "override"))
		plan := rapid.SampledFrom(Plans()).Draw(t, "plan")

		catalog, err := ParseCatalog([]byte(testCatalog))
		if err != nil {
			t.Fatal(err)
		}
		settings := NewSettings(NewMemoryBackend(map[string]PlanSet{"x": override}), quietLogger())
		if err := settings.Reload(context.Background()); err != nil {
			t.Fatal(err)
		}
		svc := NewService(catalog, settings)

		if got, want := svc.HasAccess(plan, "x"), override.Contains(plan); got != want {
			t.Fatalf("HasAccess(%s) = %v with override %v", plan, got, override)
		}
		if minimum, _ := svc.MinimumPlan("x"); minimum != PlanPremium {
			t.Fatalf("MinimumPlan changed to %s", minimum)
		}
	})
}
