package payments

import (
	"context"

	"github.com/stripe/stripe-go/v76"

	"memoria/internal/entitlement"
)

// IntentCreator creates payment intents. *paymentintent.Client satisfies it.
type IntentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Service defines plan purchase operations.
type Service interface {
	CreatePlanIntent(ctx context.Context, memorialID string, plan entitlement.Plan) (*Intent, error)
	// HandleEvent verifies and applies a webhook delivery.
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}
