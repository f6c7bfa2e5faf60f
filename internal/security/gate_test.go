package security

import (
	"testing"

	"github.com/arbiter-hq/arbiter/internal/arberr"
)

type staticVerifier struct {
	identities map[string]Identity
}

func (v staticVerifier) Verify(token string) (Identity, error) {
	id, ok := v.identities["valid"]
	if !ok || token != "valid" {
		return Identity{}, errBadToken
	}
	return id, nil
}

var errBadToken = arberr.New(arberr.KindUnauthorized, "bad_token", "unknown token")

func newTestGate(identities map[string]Identity) *Gate {
	return New(staticVerifier{identities: identities}, nil, DefaultConfig())
}

func TestGate_RejectsUnknownToken(t *testing.T) {
	g := newTestGate(map[string]Identity{"valid": {ID: "u1", Roles: []string{"admin"}}})
	_, err := g.Authorize("bogus", OpAgentRegister, "", true, nil)
	if !arberr.Is(err, arberr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestGate_AdminBypassesAllOperations(t *testing.T) {
	g := newTestGate(map[string]Identity{"valid": {ID: "u1", Roles: []string{"admin"}}})
	dec, err := g.Authorize("valid", OpQueueClear, "", true, nil)
	if err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
	if dec.Identity.ID != "u1" {
		t.Fatalf("unexpected identity: %+v", dec.Identity)
	}
}

func TestGate_ForbidsMissingRole(t *testing.T) {
	g := newTestGate(map[string]Identity{"valid": {ID: "u1", Roles: []string{"observer"}}})
	_, err := g.Authorize("valid", OpQueueClear, "", true, nil)
	if !arberr.Is(err, arberr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGate_ForbidsCrossTenantAccessWithoutRole(t *testing.T) {
	g := newTestGate(map[string]Identity{"valid": {ID: "u1", Tenant: "acme", Roles: []string{"orchestrator"}}})
	_, err := g.Authorize("valid", OpAgentUpdateLoad, "other-tenant:agent-1", true, nil)
	if !arberr.Is(err, arberr.KindForbidden) {
		t.Fatalf("expected forbidden for cross-tenant access, got %v", err)
	}
}

func TestGate_AllowsCrossTenantAdmin(t *testing.T) {
	g := newTestGate(map[string]Identity{"valid": {ID: "u1", Tenant: "acme", Roles: []string{"orchestrator", "cross_tenant_admin"}}})
	_, err := g.Authorize("valid", OpAgentUpdateLoad, "other-tenant:agent-1", true, nil)
	if err != nil {
		t.Fatalf("expected cross_tenant_admin to bypass isolation, got %v", err)
	}
}

func TestGate_AllowsSameTenantAccess(t *testing.T) {
	g := newTestGate(map[string]Identity{"valid": {ID: "u1", Tenant: "acme", Roles: []string{"orchestrator"}}})
	_, err := g.Authorize("valid", OpAgentUpdateLoad, "acme:agent-1", true, nil)
	if err != nil {
		t.Fatalf("expected same-tenant access to pass, got %v", err)
	}
}

func TestGate_RateLimitExceeded(t *testing.T) {
	cfg := Config{
		IdentityRateLimit:  RateLimitConfig{Capacity: 1, RefillPerS: 0.001},
		OperationRateLimit: RateLimitConfig{Capacity: 10, RefillPerS: 10},
	}
	g := New(staticVerifier{identities: map[string]Identity{"valid": {ID: "u1", Roles: []string{"admin"}}}}, nil, cfg)

	if _, err := g.Authorize("valid", OpAgentQuery, "", false, nil); err != nil {
		t.Fatalf("expected first call to pass, got %v", err)
	}
	_, err := g.Authorize("valid", OpAgentQuery, "", false, nil)
	if !arberr.Is(err, arberr.KindRateLimited) {
		t.Fatalf("expected rate limited on second call, got %v", err)
	}
}
