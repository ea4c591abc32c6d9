package entitlement

import "context"

// Service defines the interface for plan-gated feature checks.
type Service interface {
	HasAccess(plan Plan, feature string) bool
	MinimumPlan(feature string) (Plan, bool)
	EffectiveMinimumPlan(feature string) (Plan, bool)
	RemainingUploadSlots(plan Plan, currentCount int, kind MediaKind) Slots
	Lookup(feature string) (FeatureConfig, bool)
	Features() []FeatureConfig
	Overrides() map[string]PlanSet
	SetOverride(ctx context.Context, feature string, plans PlanSet) error
	ClearOverride(ctx context.Context, feature string) error
}
