package entitlement

import (
	"context"

	"memoria/internal/apperr"
)

// resolver implements the Service interface.
type resolver struct {
	catalog  *Catalog
	settings *Settings
}

// NewService creates a resolver over a static catalog and the override
// settings service.
func NewService(catalog *Catalog, settings *Settings) Service {
	return &resolver{
		catalog:  catalog,
		settings: settings,
	}
}

// HasAccess consults the override for feature when one exists, else the
// catalog. Unknown features are never accessible.
func (r *resolver) HasAccess(plan Plan, feature string) bool {
	cfg, ok := r.catalog.Lookup(feature)
	if !ok {
		return false
	}
	if plans, ok := r.settings.Override(feature); ok {
		return plans.Contains(plan)
	}
	return cfg.AvailableIn.Contains(plan)
}

// MinimumPlan is the advertised minimum from the catalog. Overrides do not
// change it.
func (r *resolver) MinimumPlan(feature string) (Plan, bool) {
	cfg, ok := r.catalog.Lookup(feature)
	if !ok {
		return "", false
	}
	return cfg.RequiredPlan, true
}

// EffectiveMinimumPlan honors overrides: the lowest plan in the override set,
// or false when the override grants the feature to nobody.
func (r *resolver) EffectiveMinimumPlan(feature string) (Plan, bool) {
	cfg, ok := r.catalog.Lookup(feature)
	if !ok {
		return "", false
	}
	if plans, ok := r.settings.Override(feature); ok {
		return plans.Lowest()
	}
	return cfg.RequiredPlan, true
}

// RemainingUploadSlots is the plan limit for kind minus currentCount,
// floored at zero. A negative count is treated as zero, so the result never
// exceeds the limit.
func (r *resolver) RemainingUploadSlots(plan Plan, currentCount int, kind MediaKind) Slots {
	limit := r.catalog.Limit(plan, kind)
	if limit.Unlimited {
		return UnlimitedSlots
	}
	if currentCount < 0 {
		currentCount = 0
	}
	remaining := limit.Max - currentCount
	if remaining < 0 {
		remaining = 0
	}
	return Slots{Count: remaining}
}

func (r *resolver) Lookup(feature string) (FeatureConfig, bool) {
	return r.catalog.Lookup(feature)
}

func (r *resolver) Features() []FeatureConfig {
	return r.catalog.Features()
}

// Overrides lists the active override per feature.
func (r *resolver) Overrides() map[string]PlanSet {
	return r.settings.Overrides()
}

// SetOverride validates feature and plans before handing off to settings.
func (r *resolver) SetOverride(ctx context.Context, feature string, plans PlanSet) error {
	if _, ok := r.catalog.Lookup(feature); !ok {
		return apperr.Invalid(apperr.CodeUnknownFeature, "unknown feature %q", feature)
	}
	for _, p := range plans {
		if !p.Valid() {
			return apperr.Invalid(apperr.CodeInvalidPlan, "unknown plan %q", p)
		}
	}
	return r.settings.SetOverride(ctx, feature, plans)
}

func (r *resolver) ClearOverride(ctx context.Context, feature string) error {
	if _, ok := r.catalog.Lookup(feature); !ok {
		return apperr.Invalid(apperr.CodeUnknownFeature, "unknown feature %q", feature)
	}
	return r.settings.ClearOverride(ctx, feature)
}
