package entitlement

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"memoria/internal/apperr"
	"memoria/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the public read endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/features", h.handleListFeatures)
	r.Get("/features/{name}/access", h.handleAccess)
	r.Get("/plans/{plan}/upload-slots", h.handleUploadSlots)
}

// AdminRoutes registers override management; callers mount it behind the
// admin guard.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/features/overrides", h.handleListOverrides)
	r.Put("/features/{name}/override", h.handleSetOverride)
	r.Delete("/features/{name}/override", h.handleClearOverride)
}

type featureView struct {
	FeatureConfig
	EffectiveMinimumPlan Plan `json:"effective_minimum_plan,omitempty"`
}

func (h *Handler) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features := h.service.Features()
	out := make([]featureView, 0, len(features))
	for _, f := range features {
		effective, _ := h.service.EffectiveMinimumPlan(f.Name)
		out = append(out, featureView{FeatureConfig: f, EffectiveMinimumPlan: effective})
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.service.Lookup(name); !ok {
		respond.Error(w, apperr.NotFound("feature", name))
		return
	}
	plan, err := ParsePlan(r.URL.Query().Get("plan"))
	if err != nil {
		respond.Error(w, apperr.Invalid(apperr.CodeInvalidPlan, "%v", err))
		return
	}

	minimum, _ := h.service.MinimumPlan(name)
	effective, _ := h.service.EffectiveMinimumPlan(name)
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"feature":                name,
		"plan":                   plan,
		"has_access":             h.service.HasAccess(plan, name),
		"minimum_plan":           minimum,
		"effective_minimum_plan": effective,
	})
}

func (h *Handler) handleUploadSlots(w http.ResponseWriter, r *http.Request) {
	plan, err := ParsePlan(chi.URLParam(r, "plan"))
	if err != nil {
		respond.Error(w, apperr.Invalid(apperr.CodeInvalidPlan, "%v", err))
		return
	}
	q := r.URL.Query()
	kind := MediaKind(q.Get("kind"))
	if !kind.Valid() {
		respond.BadRequest(w, "kind must be photo, video or audio")
		return
	}
	current := 0
	if raw := q.Get("current"); raw != "" {
		current, err = strconv.Atoi(raw)
		if err != nil || current < 0 {
			respond.BadRequest(w, "current must be a non-negative integer")
			return
		}
	}

	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"plan":      plan,
		"kind":      kind,
		"remaining": h.service.RemainingUploadSlots(plan, current, kind),
	})
}

func (h *Handler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.service.Overrides())
}

func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plans PlanSet `json:"plans"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if req.Plans == nil {
		req.Plans = PlanSet{}
	}

	name := chi.URLParam(r, "name")
	if err := h.service.SetOverride(r.Context(), name, req.Plans); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"feature": name, "plans": req.Plans})
}

func (h *Handler) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearOverride(r.Context(), chi.URLParam(r, "name")); err != nil {
		respond.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
