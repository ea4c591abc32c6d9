package eventstore

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"memoria/internal/respond"
)

const (
	defaultStreamBatch = 100
	maxStreamBatch     = 1000
)

// Reader is the read side shared by EventStore and MemoryStore.
type Reader interface {
	LoadEvents(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error)
	StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error)
}

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// AdminRoutes exposes the journal to operators. Events carry owner ids, so
// callers mount it behind the admin guard.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/memorials/{id}/history", h.handleHistory)
	r.Get("/events", h.handleStream)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := intParam(w, q.Get("from"), 1, "from")
	if !ok {
		return
	}
	to, ok := intParam(w, q.Get("to"), 0, "to")
	if !ok {
		return
	}

	events, err := h.reader.LoadEvents(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if events == nil {
		events = []Event{}
	}
	respond.JSON(w, http.StatusOK, events)
}

// handleStream pages through every event by id. The response carries the
// cursor for the next page.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, ok := intParam(w, q.Get("after"), 0, "after")
	if !ok {
		return
	}
	limit, ok := intParam(w, q.Get("limit"), defaultStreamBatch, "limit")
	if !ok {
		return
	}
	switch {
	case limit == 0:
		limit = defaultStreamBatch
	case limit > maxStreamBatch:
		limit = maxStreamBatch
	}

	events, err := h.reader.StreamEvents(r.Context(), int64(after), limit)
	if err != nil {
		respond.Error(w, err)
		return
	}
	next := int64(after)
	if len(events) > 0 {
		next = events[len(events)-1].ID
	} else {
		events = []Event{}
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"next":   next,
	})
}

func intParam(w http.ResponseWriter, raw string, fallback int, name string) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respond.BadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
