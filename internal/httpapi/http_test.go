package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"carrier_sales/internal/carrier"
	"carrier_sales/internal/config"
	"carrier_sales/internal/loads"
	"carrier_sales/internal/metrics"
	"carrier_sales/internal/store"
)

const testKey = "test-key"

type stubRegistry func(ctx context.Context, id carrier.Identifier) (*carrier.Record, error)

func (f stubRegistry) Lookup(ctx context.Context, id carrier.Identifier) (*carrier.Record, error) {
	return f(ctx, id)
}

func testLoads() []loads.Load {
	return []loads.Load{
		{
			LoadID:         "L001",
			Origin:         loads.Location{City: "Chicago", State: "IL"},
			Destination:    loads.Location{City: "Dallas", State: "TX"},
			PickupDatetime: "2024-08-10T08:00:00",
			EquipmentType:  "Dry Van",
			CommodityType:  "Electronics",
			LoadboardRate:  2500,
		},
		{
			LoadID:         "L002",
			Origin:         loads.Location{City: "Atlanta", State: "GA"},
			Destination:    loads.Location{City: "Miami", State: "FL"},
			PickupDatetime: "2024-08-11T09:30:00",
			EquipmentType:  "Reefer",
			CommodityType:  "Produce",
			LoadboardRate:  1800,
		},
	}
}

type testServer struct {
	engine  *gin.Engine
	store   *store.Store
	metrics *metrics.Metrics
}

func setupTest(t *testing.T, registry carrier.Registry) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	repo := loads.NewRepository()
	require.NoError(t, repo.Replace(testLoads()))

	st, err := store.Open(context.Background(), store.NewJSONFile(filepath.Join(t.TempDir(), "data", "calls.json")))
	require.NoError(t, err)

	if registry == nil {
		registry = stubRegistry(func(context.Context, carrier.Identifier) (*carrier.Record, error) {
			return nil, carrier.ErrRegistryUnavailable
		})
	}
	m := metrics.New()
	verifier := carrier.NewVerifier(registry, time.Second, log)
	router := NewRouter(config.Config{APIKey: testKey}, repo, verifier, st, m, log)
	return &testServer{engine: router.Engine(), store: st, metrics: m}
}

func (s *testServer) do(t *testing.T, method, target, body string, authed bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("X-API-Key", testKey)
	}
	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodGet, "/health", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["loads"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAPIRequiresKey(t *testing.T) {
	s := setupTest(t, nil)
	for _, target := range []string{"/api/loads", "/api/calls", "/api/analytics", "/api/verify-carrier?mc_number=1"} {
		rr, body := s.do(t, http.MethodGet, target, "", false)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, rr.Code)
		}
		assert.Equal(t, false, body["success"])
	}

	req := httptest.NewRequest(http.MethodGet, "/api/loads", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestEmptyConfiguredKeyRejectsEverything(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := store.Open(context.Background(), store.NewJSONFile(filepath.Join(t.TempDir(), "data", "calls.json")))
	require.NoError(t, err)
	router := NewRouter(config.Config{}, loads.NewRepository(), nil, st, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/loads", nil)
	rr := httptest.NewRecorder()
	router.Engine().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodGet, "/nope", "", true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "endpoint not found", body["error"])
}

func preflight(engine http.Handler, target, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, target, nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key")
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	return rr
}

func TestCORSPreflightWithoutKey(t *testing.T) {
	s := setupTest(t, nil)
	rr := preflight(s.engine, "/api/analytics", "https://dashboard.example.org")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on preflight, got %d", rr.Code)
	}
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(rr.Header().Get("Access-Control-Allow-Headers")), "x-api-key")

	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	req.Header.Set("X-API-Key", testKey)
	got := httptest.NewRecorder()
	s.engine.ServeHTTP(got, req)
	assert.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "*", got.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)
	st, err := store.Open(context.Background(), store.NewJSONFile(filepath.Join(t.TempDir(), "calls.json")))
	require.NoError(t, err)
	verifier := carrier.NewVerifier(stubRegistry(func(context.Context, carrier.Identifier) (*carrier.Record, error) {
		return nil, nil
	}), time.Second, log)
	cfg := config.Config{APIKey: testKey, CORSOrigins: []string{"https://dashboard.example.org"}}
	engine := NewRouter(cfg, loads.NewRepository(), verifier, st, nil, log).Engine()

	rr := preflight(engine, "/api/loads", "https://dashboard.example.org")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://dashboard.example.org", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = preflight(engine, "/api/loads", "https://elsewhere.example.net")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSearchLoads(t *testing.T) {
	s := setupTest(t, nil)
	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"L001", "L002"}},
		{"origin_city=chicago", []string{"L001"}},
		{"origin=Chicago,%20IL", []string{"L001"}},
		{"destination=Miami,FL&equipment_type=reef", []string{"L002"}},
		{"equipment_type=van", []string{"L001"}},
		{"commodity=produce", []string{"L002"}},
		{"pickup_date=2024-08-10", []string{"L001"}},
		{"origin_state=TX", []string{}},
	}
	for _, tc := range cases {
		rr, body := s.do(t, http.MethodGet, "/api/loads?"+tc.query, "", true)
		require.Equal(t, http.StatusOK, rr.Code, tc.query)
		found := body["loads"].([]any)
		ids := make([]string, 0, len(found))
		for _, l := range found {
			ids = append(ids, l.(map[string]any)["load_id"].(string))
		}
		assert.Equal(t, tc.want, ids, tc.query)
		assert.Equal(t, float64(len(tc.want)), body["count"], tc.query)
	}
}

func TestSearchLoadsRendersLocationString(t *testing.T) {
	s := setupTest(t, nil)
	_, body := s.do(t, http.MethodGet, "/api/loads?origin_city=Chicago", "", true)
	first := body["loads"].([]any)[0].(map[string]any)
	assert.Equal(t, "Chicago, IL", first["origin"])
}

func TestSearchLoadsRejectsBadDate(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodGet, "/api/loads?pickup_date=08/10/2024", "", true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["error"], "pickup_date")
}

func TestGetLoad(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodGet, "/api/loads/L002", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "L002", body["load"].(map[string]any)["load_id"])

	rr, body = s.do(t, http.MethodGet, "/api/loads/L999", "", true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestVerifyCarrierLive(t *testing.T) {
	var seen carrier.Identifier
	s := setupTest(t, stubRegistry(func(_ context.Context, id carrier.Identifier) (*carrier.Record, error) {
		seen = id
		return &carrier.Record{LegalName: "ACME", DOTNumber: "42", AllowedToOperate: "Y"}, nil
	}))
	rr, body := s.do(t, http.MethodGet, "/api/verify-carrier?mc_number=MC-123456&dot_number=42", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, carrier.Identifier{Kind: carrier.KindMC, Number: "123456"}, seen)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, "live", body["source"])
	assert.Equal(t, "ACTIVE", body["carrier"].(map[string]any)["operating_status"])
}

func TestVerifyCarrierFallback(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodGet, "/api/verify-carrier?dot_number=7654321", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, "fallback", body["source"])
	assert.Equal(t, "UNKNOWN", body["carrier"].(map[string]any)["operating_status"])
}

func TestVerifyCarrierRequiresIdentifier(t *testing.T) {
	s := setupTest(t, nil)
	rr, _ := s.do(t, http.MethodGet, "/api/verify-carrier", "", true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = s.do(t, http.MethodGet, "/api/verify-carrier?mc_number=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSaveCallResultAndList(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodPost, "/api/call-results",
		`{"mc_number": 123456, "load_id": "L001", "outcome": "agreed", "sentiment": "positive",
		  "agreed_rate": 2400, "negotiation_rounds": 2, "extracted_data": {"equipment": "Dry Van", "miles": 920}}`, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	callID := body["call_id"].(string)
	assert.True(t, strings.HasPrefix(callID, "call_"))
	call := body["call"].(map[string]any)
	assert.Equal(t, "123456", call["mc_number"])
	assert.Equal(t, "920", call["extracted_data"].(map[string]any)["miles"])

	rr, _ = s.do(t, http.MethodPost, "/api/save-call-results",
		`{"call_id": "manual-1", "outcome": "no_agreement", "sentiment": "negative", "negotiation_rounds": 1}`, true)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, body = s.do(t, http.MethodGet, "/api/calls", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	calls := body["calls"].([]any)
	require.Len(t, calls, 2)
	assert.Equal(t, "manual-1", calls[0].(map[string]any)["call_id"])

	rr, body = s.do(t, http.MethodGet, "/api/calls?limit=1", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), body["count"])

	rr, body = s.do(t, http.MethodGet, "/api/calls/"+callID, "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "L001", body["call"].(map[string]any)["load_id"])

	rr, _ = s.do(t, http.MethodGet, "/api/calls/call_missing", "", true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSaveCallResultValidation(t *testing.T) {
	s := setupTest(t, nil)
	cases := map[string]string{
		"malformed":         `{"outcome":`,
		"missing outcome":   `{"sentiment": "positive"}`,
		"unknown outcome":   `{"outcome": "declined"}`,
		"unknown sentiment": `{"outcome": "agreed", "sentiment": "thrilled"}`,
		"negative rounds":   `{"outcome": "agreed", "negotiation_rounds": -2}`,
		"nested extracted":  `{"outcome": "agreed", "extracted_data": {"a": {"b": 1}}}`,
	}
	for name, payload := range cases {
		rr, body := s.do(t, http.MethodPost, "/api/call-results", payload, true)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", name, rr.Code, rr.Body.String())
		}
		assert.Equal(t, false, body["success"], name)
	}
	assert.Equal(t, 0, s.store.Len())
}

func TestSaveCallResultDuplicateID(t *testing.T) {
	s := setupTest(t, nil)
	payload := `{"call_id": "dup", "outcome": "agreed"}`
	rr, _ := s.do(t, http.MethodPost, "/api/call-results", payload, true)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr, _ = s.do(t, http.MethodPost, "/api/call-results", payload, true)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListCallsRejectsBadLimit(t *testing.T) {
	s := setupTest(t, nil)
	for _, limit := range []string{"abc", "-1"} {
		rr, _ := s.do(t, http.MethodGet, "/api/calls?limit="+limit, "", true)
		assert.Equal(t, http.StatusBadRequest, rr.Code, limit)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	s := setupTest(t, nil)
	rr, body := s.do(t, http.MethodGet, "/api/analytics", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "No calls recorded yet", body["message"])

	for _, payload := range []string{
		`{"outcome": "agreed", "sentiment": "positive", "agreed_rate": 2400, "negotiation_rounds": 2}`,
		`{"outcome": "no_agreement", "sentiment": "negative", "negotiation_rounds": 1}`,
	} {
		rr, _ := s.do(t, http.MethodPost, "/api/call-results", payload, true)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr, body = s.do(t, http.MethodGet, "/api/analytics", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := body["analytics"].(map[string]any)
	assert.Equal(t, float64(2), snap["total_calls"])
	assert.Equal(t, float64(1), snap["successful_calls"])
	assert.Equal(t, 50.0, snap["conversion_rate"])
	assert.Equal(t, 50.0, snap["sentiment"].(map[string]any)["positive_rate"])
	negotiation := snap["negotiation"].(map[string]any)
	assert.Equal(t, 1.5, negotiation["avg_rounds"])
	assert.Equal(t, 2400.0, negotiation["avg_agreed_rate"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTest(t, nil)
	s.do(t, http.MethodPost, "/api/call-results", `{"outcome": "transferred"}`, true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `call_results_total{outcome="transferred"} 1`)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="POST",route="/api/call-results",status="201"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{carrier.ErrInvalidArgument, http.StatusBadRequest},
		{store.ErrInvalid, http.StatusBadRequest},
		{loads.ErrNotFound, http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{&store.PersistenceError{Op: "append", Err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
