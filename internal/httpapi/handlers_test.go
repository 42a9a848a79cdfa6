package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/internal/audit"
	"tollfree-ivr/internal/auth"
	"tollfree-ivr/internal/calls"
	"tollfree-ivr/internal/config"
	"tollfree-ivr/internal/rbac"
	"tollfree-ivr/internal/reporting"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/session"
)

var fixedNow = time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)

type harness struct {
	h     Handlers
	store *session.MemoryStore
	repo  *audit.MemoryRepo
}

func newHarness(t *testing.T) harness {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	store := session.NewMemoryStore()
	store.Now = clock
	repo := audit.NewMemoryRepo()
	journal := audit.NewService(repo).WithClock(clock)
	overrides := routing.NewOverrideEngine(routing.NewMemoryOverrideStore(), journal)
	overrides.Now = clock
	return harness{
		h: Handlers{
			Sessions:  store,
			Policies:  routing.DefaultCatalog(),
			Overrides: overrides,
			Journal:   journal,
			Reports:   reporting.NewService(repo),
			Now:       clock,
		},
		store: store,
		repo:  repo,
	}
}

// router mounts handlers behind a fake identity instead of a signed token.
func (hs harness) router(tenantID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "user-1", tenantID, role))
		c.Next()
	})
	v1.Use(rbac.RequireTenant())
	v1.GET("/calls/:call_id", hs.h.GetCall)
	v1.GET("/calls/:call_id/events", hs.h.CallEvents)
	v1.GET("/policies/:number", hs.h.GetPolicy)
	v1.POST("/overrides", rbac.RequireAnyRole(rbac.RoleTenantAdmin, rbac.RoleNetworkOperator), hs.h.CreateOverride)
	v1.GET("/reports/summary", hs.h.Summary)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestGetCall_TenantIsolation(t *testing.T) {
	hs := newHarness(t)
	seed := calls.NewSession("v3:abc", routing.DefaultTenantID, "+15551234567", "+18005963057", fixedNow)
	if _, _, err := hs.store.GetOrCreate(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := do(hs.router(routing.DefaultTenantID, rbac.RoleOperator), http.MethodGet, "/v1/calls/v3:abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got calls.Session
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != calls.StateAwaitingMenuSelection {
		t.Fatalf("unexpected session %+v", got)
	}

	if w := do(hs.router("other", rbac.RoleOperator), http.MethodGet, "/v1/calls/v3:abc", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another tenant, got %d", w.Code)
	}
	if w := do(hs.router("other", rbac.RoleOperator), http.MethodGet, "/v1/calls/v3:abc?tenant_id="+routing.DefaultTenantID, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tenant switch, got %d", w.Code)
	}
	if w := do(hs.router("other", rbac.RoleSuperAdmin), http.MethodGet, "/v1/calls/v3:abc?tenant_id="+routing.DefaultTenantID, ""); w.Code != http.StatusOK {
		t.Fatalf("expected super_admin to read across tenants, got %d", w.Code)
	}
}

func TestGetPolicy(t *testing.T) {
	hs := newHarness(t)
	r := hs.router(routing.DefaultTenantID, rbac.RoleAnalyst)

	w := do(r, http.MethodGet, "/v1/policies/+1-800-596-3057", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"greeting":"Welcome to TETRIX Enterprise Solutions."`) {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/v1/policies/+18005550000", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateOverride(t *testing.T) {
	hs := newHarness(t)

	body := `{"number":"+18005963057","route":"support","connect_to":"+15550001111","ttl_minutes":60,"reason":"outage"}`
	if w := do(hs.router(routing.DefaultTenantID, rbac.RoleAnalyst), http.MethodPost, "/v1/overrides", body); w.Code != http.StatusForbidden {
		t.Fatalf("analyst must not create overrides, got %d", w.Code)
	}

	w := do(hs.router(routing.DefaultTenantID, rbac.RoleTenantAdmin), http.MethodPost, "/v1/overrides", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var o routing.RouteOverride
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.ID == "" || !o.ExpiresAt.Equal(fixedNow.Add(time.Hour)) || o.CreatedBy != "user-1" {
		t.Fatalf("unexpected override %+v", o)
	}

	events := hs.repo.Events()
	if len(events) != 1 || events[0].Type != audit.EventTypeAdminAction || events[0].ActorRole != rbac.RoleTenantAdmin {
		t.Fatalf("expected one admin_action, got %+v", events)
	}

	if w := do(hs.router(routing.DefaultTenantID, rbac.RoleTenantAdmin), http.MethodPost, "/v1/overrides",
		`{"number":"+18005963057","route":"legal","connect_to":"+15550001111","ttl_minutes":60}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown route, got %d", w.Code)
	}
	if w := do(hs.router(routing.DefaultTenantID, rbac.RoleTenantAdmin), http.MethodPost, "/v1/overrides",
		`{"route":"support","connect_to":"+15550001111"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without expiry, got %d", w.Code)
	}
}

func TestCallEventsAndSummary(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	for _, e := range []audit.Event{
		{TenantID: routing.DefaultTenantID, CallID: "c1", Type: audit.EventTypeCallStarted, CreatedAt: fixedNow.Add(-2 * time.Minute)},
		{TenantID: routing.DefaultTenantID, CallID: "c1", Type: audit.EventTypeRouteSelected, Route: "sales", CreatedAt: fixedNow.Add(-time.Minute)},
		{TenantID: "other", CallID: "c1", Type: audit.EventTypeCallStarted, CreatedAt: fixedNow.Add(-time.Minute)},
	} {
		if err := hs.h.Journal.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	r := hs.router(routing.DefaultTenantID, rbac.RoleAnalyst)

	w := do(r, http.MethodGet, "/v1/calls/c1/events", "")
	var body struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || len(body.Events) != 2 {
		t.Fatalf("expected 2 events, got %d: %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/v1/reports/summary", "")
	var sum reporting.CallSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.CallsStarted != 1 || sum.Routed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if w := do(r, http.MethodGet, "/v1/reports/summary?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	hs := newHarness(t)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	hs.h.Auth = m
	pair, err := m.IssuePair(fixedNow, auth.Identity{UserID: "user-1", TenantID: routing.DefaultTenantID, Role: rbac.RoleOperator})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/auth/refresh", hs.h.Refresh)

	w := do(r, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+pair.RefreshToken+`","role":"analyst"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.AccessToken == "" {
		t.Fatalf("decode pair: %v %s", err, w.Body.String())
	}
	claims, err := m.Verify(out.AccessToken, auth.TokenTypeAccess, fixedNow)
	if err != nil || claims.Role != rbac.RoleAnalyst {
		t.Fatalf("expected analyst access token, got %+v err=%v", claims.Identity(), err)
	}

	if w := do(r, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+pair.AccessToken+`","role":"analyst"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token must not refresh, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+pair.RefreshToken+`","role":"owner"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
}
