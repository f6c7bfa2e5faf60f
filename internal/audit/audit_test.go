package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-hq/arbiter/internal/events"
)

func newTestSink(t *testing.T, cfg Config) (*Sink, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, cfg, nil)
	t.Cleanup(s.Stop)
	return s, dir
}

func TestSink_WritesOneLinePerEvent(t *testing.T) {
	s, dir := newTestSink(t, Config{RotateBytes: 1024 * 1024, Retention: 24 * time.Hour})

	ev := events.New(events.SecurityAudit, events.SeverityInfo, "corr-1", map[string]interface{}{"op": "task.submit"})
	require.NoError(t, s.write(events.TopicSecurity, ev))

	path := filepath.Join(dir, events.TopicSecurity, "events.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded line
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &decoded))
	assert.Equal(t, events.SecurityAudit, decoded.Type)
	assert.Equal(t, "corr-1", decoded.CorrelationID)
	assert.Equal(t, events.SeverityInfo, decoded.Severity)
}

func TestSink_RotatesAndSealsManifestOnceOverSize(t *testing.T) {
	s, dir := newTestSink(t, Config{RotateBytes: 200, Retention: 24 * time.Hour})

	payload := map[string]interface{}{"note": "padding-padding-padding-padding-padding"}
	for i := 0; i < 20; i++ {
		ev := events.New(events.SystemDegraded, events.SeverityWarning, "corr", payload)
		require.NoError(t, s.write(events.TopicSystem, ev))
	}

	topicDir := filepath.Join(dir, events.TopicSystem)
	entries, err := os.ReadDir(topicDir)
	require.NoError(t, err)

	var sawBackup, sawManifest bool
	for _, e := range entries {
		if e.Name() == "events.jsonl" {
			continue
		}
		if filepath.Ext(e.Name()) == ".jsonl" {
			sawBackup = true
		}
		if filepath.Ext(e.Name()) == ".json" {
			sawManifest = true
		}
	}
	assert.True(t, sawBackup, "expected at least one rotated backup file")
	assert.True(t, sawManifest, "expected a sealed manifest for the rotated backup")
}

func TestSink_SubscribesAndDrainsBusEvents(t *testing.T) {
	bus := events.NewBus()
	s, dir := newTestSink(t, Config{RotateBytes: 1024 * 1024, Retention: 24 * time.Hour})
	s.Start(bus)

	bus.Publish(events.TopicTask, events.New(events.TaskCompleted, events.SeverityInfo, "corr-2", "ok"))

	path := filepath.Join(dir, events.TopicTask, "events.jsonl")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var decoded line
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, events.TaskCompleted, decoded.Type)
}

func TestSweepOrphanedManifests_RemovesManifestWithoutBackup(t *testing.T) {
	s, dir := newTestSink(t, Config{RotateBytes: 1024 * 1024, Retention: 24 * time.Hour, FlushEvery: time.Millisecond})

	orphanDir := filepath.Join(dir, "system")
	require.NoError(t, os.MkdirAll(orphanDir, 0755))
	orphanManifest := filepath.Join(orphanDir, "events-stale.jsonl.manifest.json")
	require.NoError(t, os.WriteFile(orphanManifest, []byte("{}"), 0644))

	s.sweepOrphanedManifests()

	_, err := os.Stat(orphanManifest)
	assert.True(t, os.IsNotExist(err))
}
