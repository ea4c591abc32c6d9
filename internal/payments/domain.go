// Package payments connects plan purchases to the memorial plan transition:
// it creates payment intents for upgrades and consumes the provider's
// completion webhook.
package payments

import (
	"memoria/internal/entitlement"
)

// Metadata keys attached to every plan payment intent.
const (
	MetadataMemorialID = "memorial_id"
	MetadataPlan       = "plan"
)

const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
)

// Prices maps a purchasable plan to its one-time price in cents.
type Prices map[entitlement.Plan]int64

// DefaultPrices returns the list prices for the paid plans.
func DefaultPrices() Prices {
	return Prices{
		entitlement.PlanPremium: 4900,
		entitlement.PlanEternal: 14900,
	}
}

// Intent is returned to the client to complete the payment.
type Intent struct {
	ID           string           `json:"id"`
	ClientSecret string           `json:"client_secret"`
	MemorialID   string           `json:"memorial_id"`
	Plan         entitlement.Plan `json:"plan"`
	Amount       int64            `json:"amount"`
	Currency     string           `json:"currency"`
}
