package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"

	"memoria/internal/apperr"
	"memoria/internal/entitlement"
	"memoria/internal/memorial"
)

const signatureTolerance = 5 * time.Minute

// ErrInvalidSignature is returned for webhook deliveries that fail
// verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type service struct {
	memorials     memorial.Service
	intents       IntentCreator
	prices        Prices
	webhookSecret string
	log           logrus.FieldLogger
}

// NewClient returns a payment intent client bound to the given API key.
func NewClient(secretKey string) *paymentintent.Client {
	return &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

// NewService creates the payments service.
func NewService(memorials memorial.Service, intents IntentCreator, prices Prices, webhookSecret string, log logrus.FieldLogger) Service {
	return &service{
		memorials:     memorials,
		intents:       intents,
		prices:        prices,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

func (s *service) CreatePlanIntent(ctx context.Context, memorialID string, plan entitlement.Plan) (*Intent, error) {
	price, ok := s.prices[plan]
	if !ok {
		return nil, apperr.Invalid(apperr.CodeInvalidPlan, "plan %q cannot be purchased", plan)
	}
	m, err := s.memorials.Get(ctx, memorialID)
	if err != nil {
		return nil, err
	}
	if plan.Rank() <= m.Plan.Rank() {
		return nil, apperr.Invalid(apperr.CodeInvalidPlan, "memorial is already on plan %q", m.Plan)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(price),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(fmt.Sprintf("%s plan for %s", plan, m.FullName)),
		Metadata: map[string]string{
			MetadataMemorialID: m.ID,
			MetadataPlan:       string(plan),
		},
	}
	params.Context = ctx

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"memorial_id": m.ID,
		"plan":        plan,
		"intent_id":   pi.ID,
	}).Info("plan payment intent created")

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		MemorialID:   m.ID,
		Plan:         plan,
		Amount:       price,
		Currency:     string(stripe.CurrencyUSD),
	}, nil
}

func (s *service) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithTolerance(payload, signature, s.webhookSecret, signatureTolerance)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case eventIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return apperr.Invalid(apperr.CodeInvalidInput, "malformed payment intent: %v", err)
		}
		return s.intentSucceeded(ctx, &pi)
	case eventIntentFailed:
		s.log.WithField("event_id", event.ID).Warn("plan payment failed")
		return nil
	default:
		return nil
	}
}

func (s *service) intentSucceeded(ctx context.Context, pi *stripe.PaymentIntent) error {
	log := s.log.WithField("intent_id", pi.ID)
	memorialID := pi.Metadata[MetadataMemorialID]
	if memorialID == "" {
		log.Debug("payment intent carries no memorial, ignoring")
		return nil
	}
	plan, err := entitlement.ParsePlan(pi.Metadata[MetadataPlan])
	if err != nil {
		log.WithError(err).Warn("payment intent carries an unknown plan")
		return nil
	}

	changed, err := s.memorials.UpgradePlan(ctx, memorialID, plan)
	if err != nil {
		if apperr.IsNotFound(err) {
			log.WithField("memorial_id", memorialID).Warn("paid for a memorial that no longer exists")
			return nil
		}
		return err
	}
	log.WithFields(logrus.Fields{
		"memorial_id": memorialID,
		"plan":        plan,
		"changed":     changed,
	}).Info("plan payment applied")
	return nil
}
