package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbiter-hq/arbiter/internal/security"
)

// fakeTargets stands in for *orchestrator.Orchestrator and *security.Gate,
// recording only whether Reload reached it.
type fakeTargets struct {
	deadlinesSet bool
	limitsSet    bool
}

func (f *fakeTargets) SetDeadlines(ackWindow, progressIdle, maxExtension, retryPenalty time.Duration) {
	f.deadlinesSet = true
}

func (f *fakeTargets) SetLimits(cfg security.Config) {
	f.limitsSet = true
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validYAML = `
store:
  breaker:
    failureThreshold: 5
    failureWindowMs: 10000
    cooldownMs: 30000
  retry:
    maxAttempts: 4
    baseDelayMs: 50
    maxDelayMs: 2000
    multiplier: 2.0
    jitter: true
  shadowCapacity: 10000
  pendingCapacity: 1000
  probeIntervalMs: 5000
queue:
  capacity: 10000
  admission:
    maxDescriptionLen: 8192
    maxMetadataBytes: 4096
    allowedTaskTypes: []
  starvationAfterMs: 300000
orchestrator:
  ackWindowMs: 30000
  progressIdleMs: 120000
  maxExtensionMs: 300000
  retryPenaltyMs: 5000
  starvationAfterMs: 300000
  nonRetriableGates: ["acceptance"]
security:
  identityRateLimit:
    capacity: 50
    refillPerS: 10
  operationRateLimit:
    capacity: 20
    refillPerS: 5
  identities:
    admin-token: {id: op-1, tenant: default, roles: [admin]}
verdict:
  weightsByTier:
    "1": {coverage: 0.30, budget: 0.20, acceptance: 0.30, lintTypecheck: 0.15, nonFunctional: 0.05}
    "2": {coverage: 0.30, budget: 0.20, acceptance: 0.30, lintTypecheck: 0.15, nonFunctional: 0.05}
    "3": {coverage: 0.30, budget: 0.20, acceptance: 0.30, lintTypecheck: 0.15, nonFunctional: 0.05}
  fallbackScore: 0.5
router:
  matchScore: 0.70
  load: 0.20
  recency: 0.10
server:
  httpAddr: ":8080"
  natsUrl: "nats://127.0.0.1:4222"
  embedNats: true
  auditDir: "./audit"
audit:
  rotateMB: 64
  retentionDays: 30
  flushEveryMs: 60000
alerts:
  queueDepthMax: 5000
  staleAgentAfterMs: 120000
  successRateMin: 0.5
  cooldownMs: 300000
  checkIntervalMs: 30000
`

func TestLoad_ValidFileRoundTrips(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10000, cfg.Store.ShadowCapacity)
	require.Equal(t, int64(30000), cfg.Orchestrator.AckWindowMs)
	require.True(t, cfg.Orchestrator.NonRetriableGates[0] == "acceptance")
	require.Equal(t, ":8080", cfg.Server.HTTPAddr)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAMLErrors(t *testing.T) {
	path := writeTempConfig(t, "store: [this is not a map")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_RejectsZeroCapacity(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Queue.Capacity = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadRateLimit(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Security.IdentityRateLimit.RefillPerS = 0
	require.Error(t, cfg.Validate())
}

func TestToStoreConfig_ConvertsMillisecondsToDuration(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	sc := cfg.ToStoreConfig()
	require.Equal(t, int64(10000)*1e6, sc.Breaker.FailureWindow.Nanoseconds())
	require.Equal(t, 4, sc.Retry.MaxAttempts)
}

func TestToQueueConfig_EmptyAllowedTaskTypesMeansUnrestricted(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	qc := cfg.ToQueueConfig()
	require.Nil(t, qc.Admission.AllowedTaskTypes)
}

func TestToOrchestratorConfig_BuildsNonRetriableGateSet(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	oc := cfg.ToOrchestratorConfig()
	require.True(t, oc.NonRetriableGates["acceptance"])
	require.False(t, oc.NonRetriableGates["coverage"])
}

func TestToVerdictConfig_ParsesTierKeys(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	vc := cfg.ToVerdictConfig()
	require.Len(t, vc.WeightsByTier, 3)
	w, ok := vc.WeightsByTier[2]
	require.True(t, ok)
	require.Equal(t, 0.30, w.Coverage)
}

func TestToVerdictConfig_SkipsMalformedTierKey(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Verdict.WeightsByTier["not-a-number"] = WeightsSection{Coverage: 1}
	vc := cfg.ToVerdictConfig()
	require.Len(t, vc.WeightsByTier, 3)
}

func TestToAuditConfig_ConvertsUnits(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	ac := cfg.ToAuditConfig()
	require.Equal(t, int64(64*1024*1024), ac.RotateBytes)
	require.Equal(t, 30*24*time.Hour, ac.Retention)
	require.Equal(t, time.Minute, ac.FlushEvery)
}

func TestToIdentities_ResolvesStaticTokenMap(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	identities := cfg.ToIdentities()
	id, ok := identities["admin-token"]
	require.True(t, ok)
	require.Equal(t, "op-1", id.ID)
	require.Equal(t, "default", id.Tenant)
	require.Equal(t, []string{"admin"}, id.Roles)
}

func TestToAlertsConfig_ConvertsUnits(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	ac := cfg.ToAlertsConfig()
	require.Equal(t, 5000, ac.QueueDepthMax)
	require.Equal(t, 2*time.Minute, ac.StaleAgentAfter)
	require.Equal(t, 0.5, ac.SuccessRateMin)
	require.Equal(t, 5*time.Minute, ac.Cooldown)
	require.Equal(t, 30*time.Second, cfg.AlertsCheckInterval())
}

func TestValidate_RequiresCheckIntervalWhenAThresholdIsSet(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Alerts.CheckIntervalMs = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_AllowsZeroAlertsSectionWhenNoThresholdSet(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Alerts = AlertsSection{}
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresAuditSectionWhenAuditDirSet(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Audit.RotateMB = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_AllowsMissingAuditSectionWhenAuditDirUnset(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Server.AuditDir = ""
	cfg.Audit = AuditSection{}
	require.NoError(t, cfg.Validate())
}

func TestManager_ReloadAppliesHotSubsetAndCurrent(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	mgr, err := NewManager(path, nil)
	require.NoError(t, err)
	require.Equal(t, int64(30000), mgr.Current().Orchestrator.AckWindowMs)

	updated := validYAML
	updated = replaceOnce(updated, "ackWindowMs: 30000", "ackWindowMs: 60000")
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	called := &fakeTargets{}
	require.NoError(t, mgr.Reload(called, called))
	require.Equal(t, int64(60000), mgr.Current().Orchestrator.AckWindowMs)
	require.True(t, called.deadlinesSet)
	require.True(t, called.limitsSet)
}

func replaceOnce(s, old, new string) string {
	i := 0
	for idx := 0; idx < len(s); idx++ {
		if idx+len(old) <= len(s) && s[idx:idx+len(old)] == old {
			i = idx
			break
		}
	}
	return s[:i] + new + s[i+len(old):]
}
