package memorial

import (
	"context"
	"errors"
	"time"

	"memoria/internal/entitlement"
)

var (
	// ErrNotFound is returned by a Store when no memorial has the given ID
	// or slug.
	ErrNotFound = errors.New("memorial not found")
	// ErrSlugTaken is returned by Insert and SetSlug when another memorial
	// already holds the slug.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrOwnedByOther is returned by ClaimOwner when a different user
	// already owns the memorial.
	ErrOwnedByOther = errors.New("memorial owned by another user")
)

// Field names an equality-filterable memorial field.
type Field string

const (
	FieldUserID Field = "userId"
	FieldStatus Field = "status"
	FieldPlan   Field = "plan"
)

// Store is the persistent store the repository and ledger are built on.
// Transport failures are wrapped with apperr.ErrStoreUnavailable.
type Store interface {
	FindBySlug(ctx context.Context, slug string) (*Memorial, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	// Insert persists m under a new ID unless its slug is already taken.
	Insert(ctx context.Context, m *Memorial) (string, error)
	GetByID(ctx context.Context, id string) (*Memorial, error)
	ListByField(ctx context.Context, field Field, value string) ([]*Memorial, error)
	Patch(ctx context.Context, id string, p Patch) error
	// SetSlug moves the memorial to slug unless a different memorial
	// holds it.
	SetSlug(ctx context.Context, id, slug string) error
	// ClaimOwner sets the owner of an unowned memorial. It reports false
	// when userID already owns it.
	ClaimOwner(ctx context.Context, id, userID string, at time.Time) (bool, error)
	// RaisePlan sets plan only when it ranks above the stored plan, and
	// returns the plan held before the call.
	RaisePlan(ctx context.Context, id string, plan entitlement.Plan, at time.Time) (entitlement.Plan, bool, error)
	// Delete removes the memorial together with its tributes and donations.
	Delete(ctx context.Context, id string) error

	// AppendDonation adds d without rewriting existing donations.
	AppendDonation(ctx context.Context, id string, d Donation) error
	// TransitionPayouts moves every donation of the memorial in status from
	// to status to and reports how many changed. It is atomic per memorial.
	TransitionPayouts(ctx context.Context, id string, from, to PayoutStatus) (int, error)

	AddTribute(ctx context.Context, memorialID string, t Tribute) error
	ListTributes(ctx context.Context, memorialID string) ([]Tribute, error)
}

// Journal records domain events. Implementations live in the eventstore
// package.
type Journal interface {
	Record(ctx context.Context, aggregateID, aggregateType, eventType string, data interface{}) error
}

// NopJournal discards events.
type NopJournal struct{}

func (NopJournal) Record(context.Context, string, string, string, interface{}) error { return nil }

// Clock is the time source of the repository and ledger.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns UTC wall-clock time.
var SystemClock = ClockFunc(func() time.Time { return time.Now().UTC() })
