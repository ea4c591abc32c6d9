package memorial

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"memoria/internal/auth"
	"memoria/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the memorial endpoints. It expects auth.Authenticate to
// run first so owned operations can see the caller.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/memorials", h.handleCreate)
	r.Get("/memorials/{id}", h.handleGet)
	r.Patch("/memorials/{id}", h.handleUpdate)
	r.Delete("/memorials/{id}", h.handleDelete)
	r.Put("/memorials/{id}/slug", h.handleRename)
	r.With(auth.RequireOwner).Post("/memorials/{id}/claim", h.handleClaim)
	r.Get("/memorials/{id}/tributes", h.handleListTributes)
	r.Post("/memorials/{id}/tributes", h.handleAddTribute)

	r.Get("/slugs/preview", h.handlePreviewSlug)
	r.Get("/slugs/{slug}", h.handleResolveSlug)
	r.With(auth.RequireOwner).Get("/owners/me/memorials", h.handleListMine)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var d Draft
	if err := respond.Decode(r, &d); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if owner, ok := auth.OwnerID(r.Context()); ok {
		d.UserID = owner
	} else {
		d.UserID = ""
		d.Status = StatusDraft
	}

	m, err := h.service.Create(r.Context(), d)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleResolveSlug(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorize(w, r, id) {
		return
	}

	var p Patch
	if err := respond.Decode(r, &p); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if err := h.service.Update(r.Context(), id, p); err != nil {
		respond.Error(w, err)
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorize(w, r, id) {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		respond.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorize(w, r, id) {
		return
	}

	var req struct {
		Slug string `json:"slug"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	next, err := h.service.Rename(r.Context(), id, req.Slug)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"id": id, "slug": next})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerID(r.Context())
	m, err := h.service.Claim(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) handlePreviewSlug(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s, err := h.service.PreviewSlug(r.Context(), q.Get("first"), q.Get("last"), q.Get("death"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"slug": s})
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerID(r.Context())
	ms, err := h.service.ListByOwner(r.Context(), owner)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if ms == nil {
		ms = []*Memorial{}
	}
	respond.JSON(w, http.StatusOK, ms)
}

func (h *Handler) handleAddTribute(w http.ResponseWriter, r *http.Request) {
	var in TributeInput
	if err := respond.Decode(r, &in); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	t, err := h.service.AddTribute(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handleListTributes(w http.ResponseWriter, r *http.Request) {
	ts, err := h.service.ListTributes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	if ts == nil {
		ts = []Tribute{}
	}
	respond.JSON(w, http.StatusOK, ts)
}

// authorize admits the owner of the memorial. Unclaimed guest drafts are
// editable by anyone holding the link until claimed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, id string) bool {
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return false
	}
	owner, _ := auth.OwnerID(r.Context())
	if m.EditableBy(owner) {
		return true
	}
	respond.Forbidden(w, "you do not own this memorial")
	return false
}
