package eventstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistoryRouter(t *testing.T) (http.Handler, *Journal) {
	t.Helper()
	store := NewMemoryStore()
	r := chi.NewRouter()
	r.Route("/admin", NewHandler(store).AdminRoutes)
	return r, NewJournal(store)
}

func TestHandleHistory(t *testing.T) {
	router, journal := newHistoryRouter(t)
	ctx := context.Background()
	require.NoError(t, journal.Record(ctx, "m-1", "memorial", "MemorialCreated", testEvent{Message: "a"}))
	require.NoError(t, journal.Record(ctx, "m-1", "memorial", "MemorialClaimed", testEvent{Message: "b"}))
	require.NoError(t, journal.Record(ctx, "m-2", "memorial", "MemorialCreated", testEvent{Message: "c"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/memorials/m-1/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "MemorialCreated", events[0].EventType)
	assert.Equal(t, "MemorialClaimed", events[1].EventType)
	assert.Equal(t, 2, events[1].Version)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/memorials/m-1/history?from=2", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "MemorialClaimed", events[0].EventType)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/memorials/unknown/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/memorials/m-1/history?from=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStreamPages(t *testing.T) {
	router, journal := newHistoryRouter(t)
	ctx := context.Background()
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		require.NoError(t, journal.Record(ctx, id, "memorial", "MemorialCreated", testEvent{Message: id}))
	}

	var page struct {
		Events []Event `json:"events"`
		Next   int64   `json:"next"`
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/events?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, page.Events[1].ID, page.Next)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/events?limit=2&after="+strconv.FormatInt(page.Next, 10), nil))
	page.Events = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, "m-3", page.Events[0].AggregateID)
}
