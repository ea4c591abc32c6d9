package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/auth"
	"memoria/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:           config.DriverMemory,
		JWTSecret:             "test-secret",
		TokenTTL:              time.Hour,
		DonationRatePerMinute: 2,
		LogFormat:             "text",
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMemoryServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig()
	log := quietLogger()

	backend, err := OpenBackend(ctx, cfg, log)
	require.NoError(t, err)
	defer backend.Close()

	features, closeFeatures, err := OpenEntitlements(ctx, cfg, log)
	require.NoError(t, err)
	defer closeFeatures()

	h := NewHandler(cfg, backend, features, log)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials",
		strings.NewReader(`{"first_name":"Ada","last_name":"Byron","death_date":"1852-11-27"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"slug":"ada-byron-1852"`)
	assert.Contains(t, rec.Body.String(), `"status":"draft"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials/x/plan-intents", strings.NewReader(`{"plan":"premium"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code, "payments are not mounted without a stripe key")
}

func TestDonationRateLimit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	log := quietLogger()

	backend, err := OpenBackend(ctx, cfg, log)
	require.NoError(t, err)
	features, _, err := OpenEntitlements(ctx, cfg, log)
	require.NoError(t, err)
	h := NewHandler(cfg, backend, features, log)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials",
		strings.NewReader(`{"first_name":"Ada","last_name":"Byron"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := extractID(t, rec.Body.String())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials/"+id+"/donations",
			strings.NewReader(`{"amount":10,"name":"Sam","email":"sam@example.com"}`)))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestAdminReadEndpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig()
	hash, salt, err := auth.HashKey("operator")
	require.NoError(t, err)
	cfg.AdminKeyHash, cfg.AdminKeySalt = hash, salt
	log := quietLogger()

	backend, err := OpenBackend(ctx, cfg, log)
	require.NoError(t, err)
	features, _, err := OpenEntitlements(ctx, cfg, log)
	require.NoError(t, err)
	h := NewHandler(cfg, backend, features, log)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/memorials",
		strings.NewReader(`{"first_name":"Ada","last_name":"Byron"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := extractID(t, rec.Body.String())

	admin := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(auth.AdminKeyHeader, "operator")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec = admin("/admin/memorials/" + id + "/history")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var events []struct {
		EventType string `json:"event_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "MemorialCreated", events[0].EventType)

	rec = admin("/admin/features/overrides")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/memorials/"+id+"/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOpenEntitlementsBadCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.FeatureCatalogPath = t.TempDir() + "/missing.yaml"
	_, _, err := OpenEntitlements(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func extractID(t *testing.T, body string) string {
	t.Helper()
	var m struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	require.NotEmpty(t, m.ID)
	return m.ID
}
