package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to the PG* database and prepares the schema.
func openTestDB(t testing.TB) (*sql.DB, error) {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("PGHOST", "localhost"), getenv("PGPORT", "5432"), getenv("PGUSER", "user"),
		getenv("PGPASSWORD", "password"), getenv("PGDATABASE", "testdb"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	t.Cleanup(func() { db.Close() })

	if err := NewEventStore(db).EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// setupTestDB skips the test when postgres is unreachable.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := openTestDB(t)
	if err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type testEvent struct {
	Message string `json:"message"`
}

func appenders(t *testing.T) map[string]Appender {
	out := map[string]Appender{"memory": NewMemoryStore()}
	if testing.Short() {
		return out
	}
	if db, err := openTestDB(t); err == nil {
		out["postgres"] = NewEventStore(db)
	}
	return out
}

func TestAppendOptimisticConcurrency(t *testing.T) {
	for name, store := range appenders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.NewString()
			data, _ := json.Marshal(testEvent{Message: "hello"})

			require.NoError(t, store.AppendEvents(ctx, id, "memorial", 0, []Event{{EventType: "MemorialCreated", EventData: data}}))
			err := store.AppendEvents(ctx, id, "memorial", 0, []Event{{EventType: "MemorialCreated", EventData: data}})
			assert.ErrorIs(t, err, ErrConcurrencyConflict)

			assert.ErrorIs(t, store.AppendEvents(ctx, id, "memorial", -1, nil), ErrInvalidVersion)

			version, err := store.CurrentVersion(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 1, version)
		})
	}
}

func TestJournalSequencesConcurrentWriters(t *testing.T) {
	store := NewMemoryStore()
	journal := NewJournal(store)
	ctx := context.Background()
	id := uuid.NewString()

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, journal.Record(ctx, id, "memorial", "MemorialUpdated", testEvent{Message: fmt.Sprint(i)}))
		}(i)
	}
	wg.Wait()

	events, err := store.LoadEvents(ctx, id, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
		assert.Equal(t, "memorial", e.AggregateType)
	}

	streamed, err := store.StreamEvents(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, streamed, 2)
}

type conflictingStore struct {
	*MemoryStore
	conflicts int
}

func (c *conflictingStore) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	if c.conflicts > 0 {
		c.conflicts--
		return ErrConcurrencyConflict
	}
	return c.MemoryStore.AppendEvents(ctx, aggregateID, aggregateType, expectedVersion, events)
}

func TestJournalGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()

	store := &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: 2}
	require.NoError(t, NewJournal(store).Record(ctx, "a", "memorial", "X", nil))

	store = &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: maxAppendRetries}
	assert.ErrorIs(t, NewJournal(store).Record(ctx, "a", "memorial", "X", nil), ErrConcurrencyConflict)
}

func TestPostgresLoadAndStream(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres test")
	}
	store := NewEventStore(setupTestDB(t))
	journal := NewJournal(store)
	ctx := context.Background()
	id := uuid.NewString()

	for i := 0; i < 3; i++ {
		require.NoError(t, journal.Record(ctx, id, "memorial", "MemorialUpdated", testEvent{Message: fmt.Sprint(i)}))
	}
	events, err := store.LoadEvents(ctx, id, 2, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Version)

	var payload testEvent
	require.NoError(t, json.Unmarshal(events[1].EventData, &payload))
	assert.Equal(t, "2", payload.Message)

	streamed, err := store.StreamEvents(ctx, events[0].ID-1, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(streamed), 2)
}

func BenchmarkJournalRecord(b *testing.B) {
	journal := NewJournal(NewMemoryStore())
	ctx := context.Background()
	id := uuid.NewString()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := journal.Record(ctx, id, "memorial", "MemorialUpdated", testEvent{Message: "bench"}); err != nil {
			b.Fatal(err)
		}
	}
}
