// internal/donation/domain.go
package donation

import (
	"memoria/internal/memorial"
)

// Input is a donor-submitted contribution. Date, ID and payout status are
// assigned by the ledger.
type Input struct {
	Amount      float64               `json:"amount" validate:"gt=0"`
	Name        string                `json:"name" validate:"required,max=120"`
	Email       string                `json:"email" validate:"required,email"`
	Message     string                `json:"message,omitempty" validate:"max=2000"`
	IsAnonymous bool                  `json:"is_anonymous"`
	Type        memorial.DonationType `json:"type,omitempty" validate:"omitempty,oneof=one-time monthly"`
}

// Reconciliation reports what a payout run changed.
type Reconciliation struct {
	OwnerID   string   `json:"owner_id"`
	Memorials int      `json:"memorials"`
	Donations int      `json:"donations"`
	Failed    []string `json:"failed,omitempty"`
}

// Summary aggregates a memorial's donations for the family dashboard.
type Summary struct {
	MemorialID    string  `json:"memorial_id"`
	Count         int     `json:"count"`
	TotalRaised   float64 `json:"total_raised"`
	PendingPayout float64 `json:"pending_payout"`
	PaidOut       float64 `json:"paid_out"`
	GoalAmount    float64 `json:"goal_amount"`
	GoalProgress  float64 `json:"goal_progress"`
}

// DonationRecordedEvent is journaled for every accepted donation.
type DonationRecordedEvent struct {
	MemorialID string                `json:"memorial_id"`
	DonationID string                `json:"donation_id"`
	Amount     float64               `json:"amount"`
	Type       memorial.DonationType `json:"type"`
}

// PayoutsReconciledEvent is journaled per memorial whose donations moved.
type PayoutsReconciledEvent struct {
	MemorialID string                `json:"memorial_id"`
	OwnerID    string                `json:"owner_id"`
	Status     memorial.PayoutStatus `json:"status"`
	Donations  int                   `json:"donations"`
}
