package security

import (
	"fmt"

	"github.com/arbiter-hq/arbiter/internal/arberr"
	"github.com/arbiter-hq/arbiter/internal/events"
)

// Config bundles the gate's tunables.
type Config struct {
	IdentityRateLimit  RateLimitConfig
	OperationRateLimit RateLimitConfig
}

func DefaultConfig() Config {
	return Config{
		IdentityRateLimit:  RateLimitConfig{Capacity: 50, RefillPerS: 10},
		OperationRateLimit: RateLimitConfig{Capacity: 20, RefillPerS: 5},
	}
}

// Gate is the security gate (C3): it authenticates, rate limits,
// authorizes, checks tenant isolation, and audits every call routed
// through it. It never talks to the durable store directly.
type Gate struct {
	verifier TokenVerifier
	bus      *events.Bus
	limits   *limiterSet
}

func New(verifier TokenVerifier, bus *events.Bus, cfg Config) *Gate {
	return &Gate{
		verifier: verifier,
		bus:      bus,
		limits:   newLimiterSet(cfg.IdentityRateLimit, cfg.OperationRateLimit),
	}
}

// Decision is the outcome of Authorize: the resolved identity plus enough
// context for the caller to proceed or the failure reason if it should not.
type Decision struct {
	Identity Identity
}

// Authorize runs the full gate pipeline for one operation against one
// target id (empty targetID for operations with no single tenant-scoped
// target, e.g. queries). On success it returns the resolved identity and
// emits an audit entry for mutating=true calls; on failure it returns an
// arberr and emits the matching security.* event.
func (g *Gate) Authorize(token, op, targetID string, mutating bool, payload interface{}) (Decision, error) {
	identity, err := g.verifier.Verify(token)
	if err != nil {
		return Decision{}, arberr.Wrap(arberr.KindUnauthorized, "bad_token", "token verification failed", err)
	}

	if allowed, retryAfterMs := g.limits.allow(identity.ID, op); !allowed {
		g.publish(events.SecurityRateLimited, events.SeverityWarning, map[string]interface{}{
			"identity": identity.ID, "operation": op, "retryAfterMs": retryAfterMs,
		})
		return Decision{}, arberr.RateLimited("rate_limited", fmt.Sprintf("rate limit exceeded for %s", op), retryAfterMs)
	}

	if !authorized(identity, op) {
		g.publish(events.SecurityAuthzFailed, events.SeverityWarning, map[string]interface{}{
			"identity": identity.ID, "operation": op, "roles": identity.Roles,
		})
		return Decision{}, arberr.New(arberr.KindForbidden, "authz_failed", fmt.Sprintf("identity %s lacks a role for %s", identity.ID, op))
	}

	if targetID != "" {
		if tenant, scoped := tenantOf(targetID); scoped && tenant != identity.Tenant {
			if !identity.HasRole(RoleCrossTenantAdmin) {
				g.publish(events.SecurityAuthzFailed, events.SeverityWarning, map[string]interface{}{
					"identity": identity.ID, "operation": op, "target": targetID, "reason": "tenant_mismatch",
				})
				return Decision{}, arberr.New(arberr.KindForbidden, "tenant_mismatch", fmt.Sprintf("identity %s (tenant %s) may not touch %s", identity.ID, identity.Tenant, targetID))
			}
			g.publish(events.SecurityCrossTenant, events.SeverityWarning, map[string]interface{}{
				"identity": identity.ID, "operation": op, "target": targetID,
			})
		}
	}

	if mutating {
		g.publish(events.SecurityAudit, events.SeverityInfo, map[string]interface{}{
			"identity":    identity.ID,
			"operation":   op,
			"target":      targetID,
			"fingerprint": fingerprint(payload),
		})
	}

	return Decision{Identity: identity}, nil
}

// SetLimits updates the gate's rate-limit tunables in place. Safe to call
// while Authorize is running concurrently; existing buckets are discarded
// so the new rates take effect immediately rather than after they drain.
func (g *Gate) SetLimits(cfg Config) {
	g.limits.setLimits(cfg.IdentityRateLimit, cfg.OperationRateLimit)
}

func (g *Gate) publish(t events.Type, severity events.Severity, payload interface{}) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.TopicSecurity, events.New(t, severity, "", payload))
}
