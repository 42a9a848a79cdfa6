package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/internal/auth"
)

// serve runs one request as (tenant, role) through RequireTenant and
// RequireAnyRole(allowed...) and returns the status and resolved scope.
func serve(t *testing.T, tenant, role, target string, allowed ...string) (int, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u", tenant, role))
	}, RequireTenant(), RequireAnyRole(allowed...), func(c *gin.Context) {
		scope, _ := Scope(c.Request.Context())
		c.String(http.StatusOK, scope)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w.Code, w.Body.String()
}

func TestRequireAnyRole(t *testing.T) {
	cases := []struct {
		name    string
		tenant  string
		role    string
		allowed []string
		want    int
	}{
		{"listed role", "acme", RoleOperator, []string{RoleTenantAdmin, RoleOperator}, http.StatusOK},
		{"unlisted role", "acme", RoleAnalyst, []string{RoleTenantAdmin}, http.StatusForbidden},
		{"super_admin bypasses", "acme", RoleSuperAdmin, []string{RoleTenantAdmin}, http.StatusOK},
		{"hidden role denied by default", "acme", RoleNetworkOperator, []string{RoleTenantAdmin}, http.StatusForbidden},
		{"hidden role allowed when listed", "acme", RoleNetworkOperator, []string{RoleTenantAdmin, RoleNetworkOperator}, http.StatusOK},
		{"tenant required", "", RoleTenantAdmin, []string{RoleTenantAdmin}, http.StatusUnauthorized},
		{"role required", "acme", "", []string{RoleTenantAdmin}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if got, _ := serve(t, tc.tenant, tc.role, "/x", tc.allowed...); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestRequireTenant_Scope(t *testing.T) {
	code, scope := serve(t, "acme", RoleOperator, "/x", RoleOperator)
	if code != http.StatusOK || scope != "acme" {
		t.Fatalf("expected own tenant, got %d %q", code, scope)
	}
	code, scope = serve(t, "acme", RoleOperator, "/x?tenant_id=acme", RoleOperator)
	if code != http.StatusOK || scope != "acme" {
		t.Fatalf("naming own tenant is allowed, got %d %q", code, scope)
	}
	if code, _ = serve(t, "acme", RoleTenantAdmin, "/x?tenant_id=globex", RoleTenantAdmin); code != http.StatusForbidden {
		t.Fatalf("expected 403 crossing tenants, got %d", code)
	}
	code, scope = serve(t, "platform", RoleSuperAdmin, "/x?tenant_id=globex")
	if code != http.StatusOK || scope != "globex" {
		t.Fatalf("super_admin should act on globex, got %d %q", code, scope)
	}
}

func TestKnownRoles(t *testing.T) {
	for _, r := range []string{RoleTenantAdmin, RoleOperator, RoleAnalyst, RoleSuperAdmin, RoleNetworkOperator} {
		if !Known(r) {
			t.Fatalf("%s should be known", r)
		}
	}
	if Known("root") || IsSuperAdmin("root") {
		t.Fatalf("unknown roles get no grants")
	}
	if !IsHiddenRole(RoleNetworkOperator) || IsHiddenRole(RoleOperator) {
		t.Fatalf("only network_operator is hidden")
	}
}
