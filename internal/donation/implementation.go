// internal/donation/implementation.go
package donation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"memoria/internal/apperr"
	"memoria/internal/memorial"
	"memoria/internal/validation"
)

const notifyTimeout = 30 * time.Second

// ledger implements the Service interface.
type ledger struct {
	store     memorial.Store
	journal   memorial.Journal
	clock     memorial.Clock
	notifiers []Notifier
	log       logrus.FieldLogger

	recorded   metric.Int64Counter
	reconciled metric.Int64Counter
}

// Option configures the ledger.
type Option func(*ledger)

func WithJournal(j memorial.Journal) Option {
	return func(l *ledger) { l.journal = j }
}

func WithClock(c memorial.Clock) Option {
	return func(l *ledger) { l.clock = c }
}

// WithNotifiers registers callbacks run after each recorded donation.
func WithNotifiers(n ...Notifier) Option {
	return func(l *ledger) { l.notifiers = append(l.notifiers, n...) }
}

// NewService creates a new donation ledger.
func NewService(store memorial.Store, log logrus.FieldLogger, opts ...Option) Service {
	meter := otel.Meter("memoria/donation")
	recorded, _ := meter.Int64Counter("donations.recorded",
		metric.WithDescription("donations appended to a memorial"))
	reconciled, _ := meter.Int64Counter("donations.payouts_reconciled",
		metric.WithDescription("donations moved to a new payout status"))

	l := &ledger{
		store:      store,
		journal:    memorial.NopJournal{},
		clock:      memorial.SystemClock,
		log:        log,
		recorded:   recorded,
		reconciled: reconciled,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stamps and appends a donation, then fans out to the notifiers.
func (l *ledger) Record(ctx context.Context, memorialID string, in Input) (*memorial.Donation, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = memorial.DonationOneTime
	}

	m, err := l.store.GetByID(ctx, memorialID)
	if errors.Is(err, memorial.ErrNotFound) {
		return nil, apperr.NotFound("memorial", memorialID)
	}
	if err != nil {
		return nil, fmt.Errorf("get memorial: %w", err)
	}

	d := memorial.Donation{
		ID:           uuid.NewString(),
		Amount:       in.Amount,
		Name:         in.Name,
		Email:        in.Email,
		Message:      in.Message,
		IsAnonymous:  in.IsAnonymous,
		Type:         in.Type,
		Date:         l.clock.Now(),
		PayoutStatus: memorial.PayoutPending,
	}

	err = l.store.AppendDonation(ctx, memorialID, d)
	if errors.Is(err, memorial.ErrNotFound) {
		return nil, apperr.NotFound("memorial", memorialID)
	}
	if err != nil {
		return nil, fmt.Errorf("append donation: %w", err)
	}

	l.recorded.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(d.Type))))
	l.record(ctx, memorialID, "DonationRecorded", DonationRecordedEvent{
		MemorialID: memorialID,
		DonationID: d.ID,
		Amount:     d.Amount,
		Type:       d.Type,
	})
	l.log.WithFields(logrus.Fields{
		"memorial_id": memorialID,
		"donation_id": d.ID,
		"amount":      d.Amount,
	}).Info("donation recorded")

	m.Donations = append(m.Donations, d)
	l.notify(ctx, m, d)
	return &d, nil
}

func (l *ledger) notify(ctx context.Context, m *memorial.Memorial, d memorial.Donation) {
	if len(l.notifiers) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, n := range l.notifiers {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(detached, notifyTimeout)
			defer cancel()
			if err := n.DonationRecorded(ctx, m.Clone(), d); err != nil {
				l.log.WithError(err).WithFields(logrus.Fields{
					"memorial_id": m.ID,
					"donation_id": d.ID,
				}).Warn("donation notifier failed")
			}
		}(n)
	}
}

// MarkPaidForOwner moves every pending donation on the owner's memorials to
// target. Each memorial is updated atomically; there is no transaction across
// memorials, so a failure leaves earlier memorials reconciled. Re-running is
// safe.
func (l *ledger) MarkPaidForOwner(ctx context.Context, ownerID string, target memorial.PayoutStatus) (*Reconciliation, error) {
	if ownerID == "" {
		return nil, apperr.Invalid(apperr.CodeInvalidInput, "owner id is required")
	}
	if target == "" {
		target = memorial.PayoutPaid
	}
	if target != memorial.PayoutPaid {
		return nil, apperr.Invalid(apperr.CodeInvalidPayoutTransition, "payout status can only move to %q", memorial.PayoutPaid)
	}

	ms, err := l.store.ListByField(ctx, memorial.FieldUserID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owner memorials: %w", err)
	}

	rec := &Reconciliation{OwnerID: ownerID}
	var firstErr error
	for _, m := range ms {
		n, err := l.store.TransitionPayouts(ctx, m.ID, memorial.PayoutPending, target)
		if err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{
				"memorial_id": m.ID,
				"owner_id":    ownerID,
			}).Warn("payout reconciliation failed for memorial")
			rec.Failed = append(rec.Failed, m.ID)
			if firstErr == nil {
				firstErr = fmt.Errorf("reconcile memorial %s: %w", m.ID, err)
			}
			continue
		}
		if n == 0 {
			continue
		}
		rec.Memorials++
		rec.Donations += n
		l.reconciled.Add(ctx, int64(n))
		l.record(ctx, m.ID, "PayoutsReconciled", PayoutsReconciledEvent{
			MemorialID: m.ID,
			OwnerID:    ownerID,
			Status:     target,
			Donations:  n,
		})
	}

	l.log.WithFields(logrus.Fields{
		"owner_id":  ownerID,
		"memorials": rec.Memorials,
		"donations": rec.Donations,
		"failed":    len(rec.Failed),
	}).Info("payouts reconciled")
	return rec, firstErr
}

func (l *ledger) Summary(ctx context.Context, memorialID string) (*Summary, error) {
	m, err := l.store.GetByID(ctx, memorialID)
	if errors.Is(err, memorial.ErrNotFound) {
		return nil, apperr.NotFound("memorial", memorialID)
	}
	if err != nil {
		return nil, fmt.Errorf("get memorial: %w", err)
	}

	s := &Summary{
		MemorialID: memorialID,
		Count:      len(m.Donations),
		GoalAmount: m.DonationInfo.GoalAmount,
	}
	for _, d := range m.Donations {
		s.TotalRaised += d.Amount
		switch d.PayoutStatus {
		case memorial.PayoutPending:
			s.PendingPayout += d.Amount
		case memorial.PayoutPaid:
			s.PaidOut += d.Amount
		}
	}
	if s.GoalAmount > 0 {
		s.GoalProgress = s.TotalRaised / s.GoalAmount
	}
	return s, nil
}

func (l *ledger) record(ctx context.Context, id, eventType string, data interface{}) {
	if err := l.journal.Record(ctx, id, "memorial", eventType, data); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"memorial_id": id,
			"event":       eventType,
		}).Warn("failed to journal event")
	}
}
