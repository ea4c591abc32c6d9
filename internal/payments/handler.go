package payments

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"memoria/internal/auth"
	"memoria/internal/entitlement"
	"memoria/internal/memorial"
	"memoria/internal/respond"
)

const maxWebhookBody = 65536

type Handler struct {
	service   Service
	memorials memorial.Service
	log       logrus.FieldLogger
}

func NewHandler(service Service, memorials memorial.Service, log logrus.FieldLogger) *Handler {
	return &Handler{service: service, memorials: memorials, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/memorials/{id}/plan-intents", h.handleCreateIntent)
	r.Post("/webhooks/stripe", h.handleWebhook)
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.memorials.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}
	owner, _ := auth.OwnerID(r.Context())
	if !m.EditableBy(owner) {
		respond.Forbidden(w, "you do not own this memorial")
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	plan, err := entitlement.ParsePlan(req.Plan)
	if err != nil {
		respond.BadRequest(w, err.Error())
		return
	}

	intent, err := h.service.CreatePlanIntent(r.Context(), id, plan)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, intent)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respond.BadRequest(w, "unreadable payload")
		return
	}

	err = h.service.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, ErrInvalidSignature) {
		h.log.WithError(err).Warn("rejected webhook delivery")
		respond.BadRequest(w, "invalid webhook payload")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("webhook processing failed")
		respond.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
