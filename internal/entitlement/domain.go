package entitlement

import (
	"fmt"
	"strconv"
	"strings"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanEternal Plan = "eternal"
)

var planRank = map[Plan]int{
	PlanFree:    0,
	PlanPremium: 1,
	PlanEternal: 2,
}

// Plans lists every plan in ascending order.
func Plans() []Plan {
	return []Plan{PlanFree, PlanPremium, PlanEternal}
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// Rank orders plans; unknown plans rank below free.
func (p Plan) Rank() int {
	if r, ok := planRank[p]; ok {
		return r
	}
	return -1
}

// ParsePlan converts user input into a Plan.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// PlanSet is an unordered set of plans.
type PlanSet []Plan

// Contains reports whether p is in the set.
func (s PlanSet) Contains(p Plan) bool {
	for _, q := range s {
		if q == p {
			return true
		}
	}
	return false
}

// Lowest returns the lowest-ordered plan in the set.
func (s PlanSet) Lowest() (Plan, bool) {
	var (
		lowest Plan
		found  bool
	)
	for _, p := range s {
		if !p.Valid() {
			continue
		}
		if !found || p.Rank() < lowest.Rank() {
			lowest, found = p, true
		}
	}
	return lowest, found
}

// FeatureConfig is one entry of the static feature catalog.
type FeatureConfig struct {
	Name         string  `json:"name" yaml:"name"`
	DisplayName  string  `json:"display_name" yaml:"display_name"`
	Description  string  `json:"description" yaml:"description"`
	AvailableIn  PlanSet `json:"available_in" yaml:"available_in"`
	RequiredPlan Plan    `json:"required_plan" yaml:"-"`
}

// MediaKind is a gallery upload category with its own quota.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaAudio:
		return true
	}
	return false
}

// Slots is a remaining upload allowance. Unlimited is a flag rather than a
// large count so comparisons stay exact.
type Slots struct {
	Count     int  `json:"count"`
	Unlimited bool `json:"unlimited"`
}

// UnlimitedSlots is the infinite allowance.
var UnlimitedSlots = Slots{Unlimited: true}

// Allows reports whether n more uploads fit.
func (s Slots) Allows(n int) bool {
	return s.Unlimited || n <= s.Count
}

func (s Slots) String() string {
	if s.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(s.Count)
}
