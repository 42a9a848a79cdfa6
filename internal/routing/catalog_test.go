package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const catalogYAML = `
policies:
  - tenant_id: acme
    numbers: ["+1-877-555-0100", "+1-877-555-0101"]
    greeting: "Welcome to Acme."
    menu_text: "Press 1 for sales. Press 2 for support."
    menu:
      "1": sales
      "2": support
    extensions:
      "200": support
    transfer_targets:
      sales: "+1-877-555-0199"
      support: "sip:support@pbx.acme.test"
    max_invalid_attempts: 2
    redirect_on_invalid: true
  - tenant_id: globex
    number: "+1-866-555-0100"
    greeting: "Globex, how can we help?"
    menu:
      "1": operator
    transfer_targets:
      operator: "+1-866-555-0111"
    business_hours:
      time_zone: America/New_York
      days: [mon, tue, wed, thu, fri]
      open: "08:00"
      close: "18:00"
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := len(c.Policies()); n != 3 {
		t.Fatalf("expected 3 policies, got %d", n)
	}

	ctx := context.Background()
	p, err := c.Resolve(ctx, "acme", "+18775550101")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.MaxInvalidAttempts != 2 || !p.RedirectOnInvalid || p.MaxDigits() != 3 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if p.Voice != "alice" {
		t.Fatalf("expected default voice, got %q", p.Voice)
	}

	tenant, err := c.TenantForNumber(ctx, "+1 866 555 0100")
	if err != nil || tenant != "globex" {
		t.Fatalf("expected globex, got %q err=%v", tenant, err)
	}
}

func TestCatalog_ResolveIsTenantScoped(t *testing.T) {
	c := DefaultCatalog()
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "someone_else", "+18005963057"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound for wrong tenant, got %v", err)
	}
	if _, err := c.Resolve(ctx, DefaultTenantID, "+15550000000"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound for unknown number, got %v", err)
	}
	p, err := c.Resolve(ctx, DefaultTenantID, "+1-800-596-3057")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	p.TransferTargets["sales"] = "mutated"
	again, _ := c.Resolve(ctx, DefaultTenantID, "+1-800-596-3057")
	if again.TransferTargets["sales"] != "+1-888-804-6762" {
		t.Fatalf("resolved policies must not share mutable targets")
	}
}

func TestNewCatalog_RejectsSharedNumber(t *testing.T) {
	a := tetrix()
	b := tetrix()
	b.TenantID = "other"
	_, err := NewCatalog(a, b)
	if !errors.Is(err, ErrNumberConflict) {
		t.Fatalf("expected ErrNumberConflict, got %v", err)
	}
}

func TestParseCatalog_RejectsUnknownFields(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader("policies:\n  - tenant_id: x\n    greting: typo\n"))
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
