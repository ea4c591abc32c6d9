// Package slug derives human-readable memorial identifiers and probes the
// store for a free variant.
package slug

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DefaultMaxAttempts bounds the number of counter variants probed before the
// allocator falls back to a random suffix.
const DefaultMaxAttempts = 50

// fallbackBase is used when neither name survives normalization.
const fallbackBase = "memorial"

// Lookup reports whether a slug is already held by a stored memorial.
type Lookup interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// LookupFunc adapts a plain function to Lookup.
type LookupFunc func(ctx context.Context, slug string) (bool, error)

func (f LookupFunc) SlugExists(ctx context.Context, slug string) (bool, error) {
	return f(ctx, slug)
}

// Allocator hands out free slugs. It only reads; the store's conditional
// insert is what finally guarantees uniqueness.
type Allocator struct {
	lookup      Lookup
	maxAttempts int
	suffix      func() string
	collisions  metric.Int64Counter
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithSuffix overrides the random suffix source used after exhaustion.
func WithSuffix(fn func() string) Option {
	return func(a *Allocator) {
		if fn != nil {
			a.suffix = fn
		}
	}
}

// NewAllocator creates an allocator probing lookup.
func NewAllocator(lookup Lookup, opts ...Option) *Allocator {
	collisions, _ := otel.Meter("memoria/slug").Int64Counter("slug.collisions",
		metric.WithDescription("slug candidates rejected because they were already taken"))

	a := &Allocator{
		lookup:      lookup,
		maxAttempts: DefaultMaxAttempts,
		suffix:      randomSuffix,
		collisions:  collisions,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the first free slug among base, base-2, base-3, ...
func (a *Allocator) Allocate(ctx context.Context, firstName, lastName, deathDate string) (string, error) {
	return a.Free(ctx, Base(firstName, lastName, deathDate))
}

// Free probes base and its counter variants. After maxAttempts probes it
// returns base with a random suffix, unprobed.
func (a *Allocator) Free(ctx context.Context, base string) (string, error) {
	candidate := base
	for attempt, counter := 1, 2; attempt <= a.maxAttempts; attempt, counter = attempt+1, counter+1 {
		taken, err := a.lookup.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("probe slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		a.collisions.Add(ctx, 1)
		candidate = base + "-" + strconv.Itoa(counter)
	}
	return base + "-" + a.suffix(), nil
}

// Base builds "{first}-{last}[-{year}]" from normalized name parts. Empty
// parts are skipped; if nothing remains the base is "memorial".
func Base(firstName, lastName, deathDate string) string {
	parts := make([]string, 0, 3)
	for _, name := range []string{firstName, lastName} {
		if n := Normalize(name); n != "" {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, fallbackBase)
	}
	if year, ok := DeathYear(deathDate); ok {
		parts = append(parts, strconv.Itoa(year))
	}
	return strings.Join(parts, "-")
}

// Normalize lowercases s, collapses every run of characters outside [a-z0-9]
// into a single hyphen and trims hyphens from both ends.
func Normalize(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	pendingHyphen := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006",
}

// DeathYear extracts the year from a date string, if it parses.
func DeathYear(deathDate string) (int, bool) {
	deathDate = strings.TrimSpace(deathDate)
	if deathDate == "" {
		return 0, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, deathDate); err == nil && t.Year() > 0 {
			return t.Year(), true
		}
	}
	return 0, false
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
