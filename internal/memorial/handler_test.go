package memorial_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/auth"
	"memoria/internal/memorial"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.Tokens) {
	svc, _, _ := newTestService(t)
	tokens := auth.NewTokens("test-secret", time.Hour)
	r := chi.NewRouter()
	r.Use(tokens.Authenticate)
	memorial.NewHandler(svc).Routes(r)
	return r, tokens
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateAndResolve(t *testing.T) {
	router, tokens := newTestRouter(t)
	token, err := tokens.Issue("owner-1")
	require.NoError(t, err)

	rec := do(t, router, http.MethodPost, "/memorials",
		`{"first_name":"Jane","last_name":"Doe","death_date":"2023-01-01"}`, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var m memorial.Memorial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "jane-doe-2023", m.Slug)
	assert.Equal(t, "owner-1", m.UserID)
	assert.Equal(t, memorial.StatusActive, m.Status)

	rec = do(t, router, http.MethodGet, "/slugs/jane-doe-2023", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/slugs/preview?first=Jane&last=Doe&death=2023-01-01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"slug":"jane-doe-2023-2"}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/owners/me/memorials", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []memorial.Memorial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Len(t, mine, 1)

	rec = do(t, router, http.MethodGet, "/owners/me/memorials", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGuestDraftAndClaim(t *testing.T) {
	router, tokens := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/memorials", `{"first_name":"Jane","last_name":"Doe"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var m memorial.Memorial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, memorial.StatusDraft, m.Status)
	assert.Empty(t, m.UserID)

	rec = do(t, router, http.MethodPatch, "/memorials/"+m.ID, `{"biography":"Loved by all"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	owner, err := tokens.Issue("owner-1")
	require.NoError(t, err)
	other, err := tokens.Issue("owner-2")
	require.NoError(t, err)

	rec = do(t, router, http.MethodPost, "/memorials/"+m.ID+"/claim", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/memorials/"+m.ID+"/claim", "", other)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_CLAIMED")

	rec = do(t, router, http.MethodPatch, "/memorials/"+m.ID, `{"biography":"hijacked"}`, other)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPatch, "/memorials/"+m.ID, `{"user_id":"owner-2"}`, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRenameConflict(t *testing.T) {
	router, tokens := newTestRouter(t)
	token, err := tokens.Issue("owner-1")
	require.NoError(t, err)

	var a, b memorial.Memorial
	rec := do(t, router, http.MethodPost, "/memorials", `{"first_name":"Jane","last_name":"Doe"}`, token)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	rec = do(t, router, http.MethodPost, "/memorials", `{"first_name":"John","last_name":"Roe"}`, token)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))

	rec = do(t, router, http.MethodPut, "/memorials/"+a.ID+"/slug", `{"slug":"`+b.Slug+`"}`, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SLUG_TAKEN")

	rec = do(t, router, http.MethodPut, "/memorials/"+a.ID+"/slug", `{"slug":"---"}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMPTY_SLUG")

	rec = do(t, router, http.MethodDelete, "/memorials/"+a.ID, "", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, router, http.MethodGet, "/memorials/"+a.ID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
