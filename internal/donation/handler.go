package donation

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"memoria/internal/memorial"
	"memoria/internal/respond"
)

type Handler struct {
	service Service
	limiter *rate.Limiter
}

// NewHandler builds the donation endpoints. limiter throttles public
// donation submissions; nil disables throttling.
func NewHandler(service Service, limiter *rate.Limiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/memorials/{id}/donations", h.handleRecord)
	r.Get("/memorials/{id}/donations/summary", h.handleSummary)
}

// AdminRoutes registers payout reconciliation behind the admin guard.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/owners/{ownerID}/payouts", h.handleReconcile)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		respond.JSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]string{"code": "RATE_LIMITED", "message": "too many donations, please try again shortly"},
		})
		return
	}

	var in Input
	if err := respond.Decode(r, &in); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	d, err := h.service.Record(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, d)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status memorial.PayoutStatus `json:"status"`
	}
	// The body is optional; chunked requests report no length, so read
	// until EOF rather than trusting ContentLength.
	if r.Body != nil && r.Body != http.NoBody {
		if err := respond.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
			respond.BadRequest(w, err.Error())
			return
		}
	}

	rec, err := h.service.MarkPaidForOwner(r.Context(), chi.URLParam(r, "ownerID"), req.Status)
	if err != nil && rec == nil {
		respond.Error(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	respond.JSON(w, status, rec)
}
