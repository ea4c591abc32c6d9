package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const maxAppendRetries = 5

// Appender is the write side shared by EventStore and MemoryStore.
type Appender interface {
	CurrentVersion(ctx context.Context, aggregateID string) (int, error)
	AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error
}

// Journal appends single events at the aggregate's next version, retrying
// when a concurrent writer got there first.
type Journal struct {
	store Appender
}

func NewJournal(store Appender) *Journal {
	return &Journal{store: store}
}

// Record marshals data and appends it as eventType.
func (j *Journal) Record(ctx context.Context, aggregateID, aggregateType, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	event := Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     payload,
	}

	for attempt := 1; ; attempt++ {
		version, err := j.store.CurrentVersion(ctx, aggregateID)
		if err != nil {
			return err
		}
		err = j.store.AppendEvents(ctx, aggregateID, aggregateType, version, []Event{event})
		if !errors.Is(err, ErrConcurrencyConflict) || attempt == maxAppendRetries {
			return err
		}
	}
}

// MemoryStore keeps events in process. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events map[string][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]Event)}
}

func (m *MemoryStore) CurrentVersion(_ context.Context, aggregateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[aggregateID]), nil
}

func (m *MemoryStore) AppendEvents(_ context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events[aggregateID]) != expectedVersion {
		return ErrConcurrencyConflict
	}
	now := time.Now().UTC()
	for i, e := range events {
		m.nextID++
		e.ID = m.nextID
		e.AggregateID = aggregateID
		e.AggregateType = aggregateType
		e.Version = expectedVersion + i + 1
		e.CreatedAt = now
		m.events[aggregateID] = append(m.events[aggregateID], e)
	}
	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events[aggregateID] {
		if e.Version >= fromVersion && (toVersion <= 0 || e.Version <= toVersion) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) StreamEvents(_ context.Context, fromID int64, batchSize int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, stream := range m.events {
		for _, e := range stream {
			if e.ID > fromID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if batchSize > 0 && len(out) > batchSize {
		out = out[:batchSize]
	}
	return out, nil
}
