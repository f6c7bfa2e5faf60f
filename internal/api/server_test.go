package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-hq/arbiter/internal/clock"
	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/orchestrator"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/registry"
	"github.com/arbiter-hq/arbiter/internal/router"
	"github.com/arbiter-hq/arbiter/internal/security"
	"github.com/arbiter-hq/arbiter/internal/store"
	"github.com/arbiter-hq/arbiter/internal/verdict"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	clk := clock.Real{}
	bus := events.NewBus()
	durable := newMemDurable()
	s := store.New(durable, store.DefaultConfig(), clk, nil, nil)
	reg := registry.New(s, bus, clk, nil)
	q := queue.New(queue.DefaultConfig(), clk, bus)
	rtr := router.New(router.DefaultWeights())
	vg := verdict.New(verdict.DefaultConfig(), clk)
	orch := orchestrator.New(orchestrator.DefaultConfig(), q, reg, rtr, vg, bus, clk)

	verifier := security.NewStaticVerifier(map[string]security.Identity{
		"admin-token": {ID: "op-1", Roles: []string{security.RoleAdmin}},
	})
	gate := security.New(verifier, bus, security.DefaultConfig())

	srv := NewServer(Deps{Store: s, Queue: q, Registry: reg, Orchestrator: orch, Gate: gate, Bus: bus}, "127.0.0.1:0", nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func sampleTask(id string) queue.Task {
	return queue.Task{
		ID:          id,
		Description: "review a diff",
		Type:        "code_review",
		Priority:    queue.PriorityNormal,
		TimeoutMs:   60_000,
		MaxAttempts: 3,
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Components, "store")
}

func TestHandleMetrics_EmptyRegistry(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.deps.Queue.Enqueue(sampleTask("t1")))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp metricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.QueueDepth)
	require.Equal(t, 1, resp.QueueDepthByClass["normal"])
	require.Equal(t, 0, resp.AgentsTotal)
}

func TestHandleProgress_GroupsByState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.deps.Registry.Register(ctx, registry.Agent{
		ID: "agent-1", Name: "w1", ModelFamily: "sonnet", MaxConcurrent: 2,
		Capabilities: registry.Capabilities{TaskTypes: []string{"code_review"}},
	}, false)
	require.NoError(t, err)
	task := sampleTask("t1")
	task.RequiredCapabilities = registry.Capabilities{TaskTypes: []string{"code_review"}}
	require.NoError(t, s.deps.Queue.Enqueue(task))
	_, err = s.deps.Orchestrator.Assign(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.ByState["assigned"])
	require.Len(t, resp.Assignments, 1)
}

func TestCommand_NoTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/command/start", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCommand_ClearQueueWithAdminToken(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.deps.Queue.Enqueue(sampleTask("t1")))
	require.NoError(t, s.deps.Queue.Enqueue(sampleTask("t2")))

	body, _ := json.Marshal(clearQueueRequest{Type: "code_review"})
	req := httptest.NewRequest(http.MethodPost, "/command/queue/clear", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp["removed"])
	require.Equal(t, 0, s.deps.Queue.Size())
}

func TestCommand_CancelAssignment(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.deps.Registry.Register(ctx, registry.Agent{
		ID: "agent-1", Name: "w1", ModelFamily: "sonnet", MaxConcurrent: 2,
		Capabilities: registry.Capabilities{TaskTypes: []string{"code_review"}},
	}, false)
	require.NoError(t, err)
	task := sampleTask("t1")
	task.RequiredCapabilities = registry.Capabilities{TaskTypes: []string{"code_review"}}
	require.NoError(t, s.deps.Queue.Enqueue(task))
	assignment, err := s.deps.Orchestrator.Assign(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/command/assignments/"+assignment.ID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEventsPoll_FiltersByTopicAndSince(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.deps.Queue.Enqueue(sampleTask("t1")))
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	require.NoError(t, s.deps.Queue.Enqueue(sampleTask("t2")))
	time.Sleep(20 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/events?topic=task&since="+cutoff.Format(time.RFC3339Nano), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var evs []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	for _, ev := range evs {
		require.True(t, strings.HasPrefix(string(ev.Type), "task"))
		require.True(t, ev.Timestamp.After(cutoff))
	}
}

func TestWebSocket_BroadcastsQueueEvents(t *testing.T) {
	s := newTestServer(t)
	go s.hub.run(s.deps.Bus, s.stopHub)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events/ws?topic=task"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.deps.Queue.Enqueue(sampleTask("t1")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev events.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.True(t, strings.HasPrefix(string(ev.Type), "task"))
}
