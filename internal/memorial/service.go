// internal/memorial/service.go
package memorial

import (
	"context"

	"memoria/internal/entitlement"
)

// Service defines the interface for the memorial repository.
type Service interface {
	Create(ctx context.Context, d Draft) (*Memorial, error)
	Get(ctx context.Context, id string) (*Memorial, error)
	GetBySlug(ctx context.Context, slug string) (*Memorial, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Memorial, error)
	Update(ctx context.Context, id string, p Patch) error
	Delete(ctx context.Context, id string) error

	PreviewSlug(ctx context.Context, firstName, lastName, deathDate string) (string, error)
	Rename(ctx context.Context, id, proposed string) (string, error)
	Claim(ctx context.Context, id, userID string) (*Memorial, error)
	UpgradePlan(ctx context.Context, id string, plan entitlement.Plan) (bool, error)

	AddTribute(ctx context.Context, id string, in TributeInput) (*Tribute, error)
	ListTributes(ctx context.Context, id string) ([]Tribute, error)
}

// TributeInput is a visitor-submitted tribute.
type TributeInput struct {
	AuthorName string `json:"author_name" validate:"required,max=120"`
	Message    string `json:"message" validate:"required,max=5000"`
}
