// internal/donation/service.go
package donation

import (
	"context"

	"memoria/internal/memorial"
)

// Service defines the interface for the donation ledger.
type Service interface {
	Record(ctx context.Context, memorialID string, in Input) (*memorial.Donation, error)
	MarkPaidForOwner(ctx context.Context, ownerID string, target memorial.PayoutStatus) (*Reconciliation, error)
	Summary(ctx context.Context, memorialID string) (*Summary, error)
}

// Notifier is told about every recorded donation. It runs after the write
// has succeeded and its outcome never affects the caller.
type Notifier interface {
	DonationRecorded(ctx context.Context, m *memorial.Memorial, d memorial.Donation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m *memorial.Memorial, d memorial.Donation) error

func (f NotifierFunc) DonationRecorded(ctx context.Context, m *memorial.Memorial, d memorial.Donation) error {
	return f(ctx, m, d)
}
