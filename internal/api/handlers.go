package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arbiter-hq/arbiter/internal/orchestrator"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/security"
)

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusResponse answers GET /status: uptime plus a coarse health rollup
// per component.
type statusResponse struct {
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Components    map[string]string `json:"components"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health := s.deps.Store.HealthCheck(r.Context())
	components := map[string]string{
		"store":            string(health.BreakerState),
		"websocketClients": strconv.Itoa(s.hub.clientCount()),
	}
	respondJSON(w, statusResponse{
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Components:    components,
	})
}

// metricsResponse answers GET /metrics: queue depth by priority, agents by
// state, and registry-wide throughput aggregates.
type metricsResponse struct {
	QueueDepth         int            `json:"queueDepth"`
	QueueDepthByClass  map[string]int `json:"queueDepthByPriority"`
	AgentsTotal        int            `json:"agentsTotal"`
	AgentsIdle         int            `json:"agentsIdle"`
	AgentsBusy         int            `json:"agentsBusy"`
	AverageSuccessRate float64        `json:"averageSuccessRate"`
	AverageUtilization float64        `json:"averageUtilization"`
	DroppedEvents      uint64         `json:"droppedEvents"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	byClass := map[string]int{
		"low":      s.deps.Queue.SizeByPriority(queue.PriorityLow),
		"normal":   s.deps.Queue.SizeByPriority(queue.PriorityNormal),
		"high":     s.deps.Queue.SizeByPriority(queue.PriorityHigh),
		"critical": s.deps.Queue.SizeByPriority(queue.PriorityCritical),
	}

	agents, err := s.deps.Registry.ListAgents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	idle, busy := 0, 0
	for _, a := range agents {
		if a.CurrentLoad.ActiveTasks > 0 {
			busy++
		} else {
			idle++
		}
	}

	stats, err := s.deps.Registry.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, metricsResponse{
		QueueDepth:         s.deps.Queue.Size(),
		QueueDepthByClass:  byClass,
		AgentsTotal:        len(agents),
		AgentsIdle:         idle,
		AgentsBusy:         busy,
		AverageSuccessRate: stats.AverageSuccessRate,
		AverageUtilization: stats.AverageUtilization,
		DroppedEvents:      s.deps.Bus.DroppedEventCount(),
	})
}

// progressResponse answers GET /progress: assignments grouped by state.
type progressResponse struct {
	ByState     map[string]int            `json:"byState"`
	Assignments []orchestrator.Assignment `json:"assignments"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Orchestrator.ListAssignments("")
	byState := make(map[string]int)
	for _, a := range all {
		byState[string(a.State)]++
	}
	respondJSON(w, progressResponse{ByState: byState, Assignments: all})
}

// handleEventsPoll answers GET /events?topic=...&since=... with every
// buffered event after since (RFC3339; defaults to the ring buffer's full
// history when omitted), optionally restricted to one topic family.
func (s *Server) handleEventsPoll(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since: must be RFC3339")
			return
		}
		since = t
	}
	topic := r.URL.Query().Get("topic")
	respondJSON(w, s.ring.Since(since, topic))
}

func (s *Server) handleCommandStart(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	s.sweeperMu.Lock()
	defer s.sweeperMu.Unlock()
	if s.sweeperCancel != nil {
		respondJSON(w, map[string]string{"state": "already_running"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sweeperCancel = cancel
	s.deps.Orchestrator.StartTimeoutSweeper(ctx)
	respondJSON(w, map[string]string{"state": "started"})
}

func (s *Server) handleCommandStop(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	s.sweeperMu.Lock()
	defer s.sweeperMu.Unlock()
	if s.sweeperCancel == nil {
		respondJSON(w, map[string]string{"state": "already_stopped"})
		return
	}
	s.deps.Orchestrator.StopTimeoutSweeper()
	s.sweeperCancel()
	s.sweeperCancel = nil
	respondJSON(w, map[string]string{"state": "stopped"})
}

// clearQueueRequest carries the declarative predicate the spec calls
// clearQueue(predicate): match by task type and/or priority, "" meaning
// no filter on that field.
type clearQueueRequest struct {
	Type     string `json:"type,omitempty"`
	Priority string `json:"priority,omitempty"`
}

func (s *Server) handleCommandClearQueue(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	var req clearQueueRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	removed := s.deps.Queue.Clear(func(t queue.Task) bool {
		if req.Type != "" && t.Type != req.Type {
			return false
		}
		if req.Priority != "" && priorityName(t.Priority) != req.Priority {
			return false
		}
		return true
	})
	respondJSON(w, map[string]int{"removed": removed})
}

func priorityName(p queue.Priority) string {
	switch p {
	case queue.PriorityLow:
		return "low"
	case queue.PriorityHigh:
		return "high"
	case queue.PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

func (s *Server) handleCommandCancel(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	id := mux.Vars(r)["id"]
	assignment, err := s.deps.Orchestrator.Cancel(r.Context(), id)
	if err != nil {
		writeArberr(w, err)
		return
	}
	respondJSON(w, assignment)
}
