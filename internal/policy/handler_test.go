package policy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwtv5 "github.com/golang-jwt/jwt/v5"

	_ "github.com/sentra-authz/sentra/internal/testing/guard"
)

func signTestToken(t *testing.T, roles []string) string {
	t.Helper()
	claims := jwtv5.MapClaims{
		"tid":   "t1",
		"sub":   "u1",
		"roles": roles,
		"iss":   "sentra",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestRouter(t *testing.T, f *engineFixture) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	handler := NewHandler(f.engine.logger, f.engine)
	admin := NewAdminHandler(f.engine.logger, f.engine, f.invalidator, f.version, "admin")
	r.Route("/v1", func(r chi.Router) {
		handler.MountRoutes(r)
		r.Route("/admin", admin.MountRoutes)
	})
	return r
}

func TestEvaluateEndpointRequiresCredential(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"resource":"document","action":"read"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}
}

func TestEvaluateEndpointPermits(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"resource":"document","action":"read"}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"editor"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success  bool   `json:"success"`
		Decision Effect `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Decision != EffectPermit || resp.Reason != ReasonPermitted {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestEvaluateEndpointDenyIsStill200(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"resource":"document","action":"delete"}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"editor"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("a deny is a successful evaluation, got %d", rr.Code)
	}
	var resp struct {
		Decision Effect `json:"decision"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Decision != EffectDeny {
		t.Fatalf("expected DENY, got %s", resp.Decision)
	}
}

func TestEvaluateEndpointValidatesBody(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"resource":"document"}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"editor"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing action, got %d", rr.Code)
	}
}

func TestBatchEndpoint(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	router := newTestRouter(t, f)

	body := `{"requests":[{"resource":"document","action":"read"},{"resource":"document","action":"delete"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate/batch", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"editor"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success bool `json:"success"`
		Results []struct {
			Decision Effect `json:"decision"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Decision != EffectPermit || resp.Results[1].Decision != EffectDeny {
		t.Fatalf("unexpected batch outcome: %+v", resp.Results)
	}
}

func TestBatchEndpointRejectsEmptyList(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate/batch", strings.NewReader(`{"requests":[]}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"editor"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := stats["degraded"]; !ok {
		t.Fatalf("expected degraded flag in stats: %v", stats)
	}
}

func TestAdminVersionRequiresMinimumRole(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	// Unauthenticated.
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/version", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	// Below the floor.
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/version", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"viewer"}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rr.Code)
	}

	// Admin passes.
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/version", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"admin"}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
	var resp map[string]int64
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["policyVersion"] < 1 {
		t.Fatalf("unexpected version payload: %v", resp)
	}
}

func TestAdminInvalidationBumpsVersion(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)
	before := f.version.Current()

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/invalidations/role-permissions",
		strings.NewReader(`{"tenantId":"t1","role":"editor"}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"admin"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]int64
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["policyVersion"] != before+1 {
		t.Fatalf("expected version bump to %d, got %v", before+1, resp)
	}
}

func TestAdminInvalidationValidatesPayload(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/invalidations/role-assignment",
		strings.NewReader(`{"tenantId":"t1"}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, []string{"admin"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing userId, got %d", rr.Code)
	}
}
