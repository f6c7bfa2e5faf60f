package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiter-hq/arbiter/internal/arberr"
	"github.com/arbiter-hq/arbiter/internal/clock"
	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/registry"
	"github.com/arbiter-hq/arbiter/internal/router"
	"github.com/arbiter-hq/arbiter/internal/verdict"
)

// TimeoutSweepInterval is how often StartTimeoutSweeper polls for expired
// deadlines in production use.
const TimeoutSweepInterval = 5 * time.Second

// delayedTask is a task that failed to find an eligible agent and is
// waiting out its retry penalty before it is re-queued.
type delayedTask struct {
	task      queue.Task
	releaseAt time.Time
}

// Orchestrator is the task orchestrator (C5): it dequeues tasks from C4,
// asks the registry (C2) for eligible agents, asks the router (C6) to pick
// one, drives the assignment state machine, and calls the verdict
// generator (C7) on submission.
type Orchestrator struct {
	cfg      Config
	queue    *queue.Queue
	registry *registry.Registry
	router   *router.Router
	verdict  *verdict.Generator
	bus      *events.Bus
	clk      clock.Clock

	locks *keyLocks

	mu          sync.Mutex
	assignments map[string]*Assignment
	byTask      map[string]string     // taskID -> current non-terminal assignment ID
	tasks       map[string]queue.Task // taskID -> the task as last dequeued
	exclusions  map[string][]string   // taskID -> agent ids excluded from future picks
	chains      map[string][]string   // taskID -> assignment id history
	delayed     []delayedTask

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

func New(cfg Config, q *queue.Queue, reg *registry.Registry, rtr *router.Router, vg *verdict.Generator, bus *events.Bus, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Orchestrator{
		cfg:         cfg,
		queue:       q,
		registry:    reg,
		router:      rtr,
		verdict:     vg,
		bus:         bus,
		clk:         clk,
		locks:       newKeyLocks(),
		assignments: make(map[string]*Assignment),
		byTask:      make(map[string]string),
		tasks:       make(map[string]queue.Task),
		exclusions:  make(map[string][]string),
		chains:      make(map[string][]string),
	}
}

// StartTimeoutSweeper launches a cooperative, cancellable background loop
// that releases delayed tasks and calls CheckTimeouts on a fixed interval,
// the same ticker-driven
// shape as the store's health prober. Stop via StopTimeoutSweeper.
func (o *Orchestrator) StartTimeoutSweeper(ctx context.Context) {
	o.stopSweep = make(chan struct{})
	o.sweepWG.Add(1)
	go func() {
		defer o.sweepWG.Done()
		ticker := time.NewTicker(TimeoutSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopSweep:
				return
			case <-ticker.C:
				o.releaseDelayed()
				o.CheckTimeouts(ctx, o.clk.Now())
			}
		}
	}()
}

func (o *Orchestrator) StopTimeoutSweeper() {
	if o.stopSweep != nil {
		close(o.stopSweep)
		o.sweepWG.Wait()
	}
}

func (o *Orchestrator) publish(t events.Type, severity events.Severity, correlationID string, payload interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.TopicTask, events.New(t, severity, correlationID, payload))
}

// Assign dequeues the next task and assigns it to an agent. It first
// releases any delayed tasks whose retry penalty has elapsed.
func (o *Orchestrator) Assign(ctx context.Context) (*Assignment, error) {
	o.releaseDelayed()

	task, ok := o.queue.Dequeue()
	if !ok {
		return nil, arberr.New(arberr.KindNotFound, "queue_empty", "no task is waiting to be assigned")
	}

	agent, matches, err := o.pickAgent(ctx, task)
	if err != nil {
		// The task already left the queue; on any failure to place it we
		// must account for it via the same retry/exhaustion path a failed
		// verdict would take, never drop it silently.
		return nil, o.handleNoEligibleAgent(ctx, task, err)
	}

	now := o.clk.Now()
	assignment := &Assignment{
		ID:                    uuid.New().String(),
		TaskID:                task.ID,
		AgentID:               agent.ID,
		State:                 StateAssigned,
		CreatedAt:             now,
		AckDeadline:           now.Add(o.cfg.AckWindow),
		ExecDeadline:          now.Add(time.Duration(task.TimeoutMs) * time.Millisecond),
		AttemptNumber:         task.Attempts + 1,
		PreviousAssignmentIDs: append([]string(nil), o.chains[task.ID]...),
	}

	o.mu.Lock()
	o.assignments[assignment.ID] = assignment
	o.byTask[task.ID] = assignment.ID
	o.tasks[task.ID] = task
	o.chains[task.ID] = append(o.chains[task.ID], assignment.ID)
	o.mu.Unlock()

	// agent.* events are the registry's own to publish; a load-update
	// failure here still leaves the assignment standing rather than
	// dropping the task, and simply leaves the agent's load briefly stale.
	_, _ = o.registry.UpdateLoad(ctx, agent.ID, 1, 0)

	_ = matches // retained for a future audit event; matching already scored by the registry
	o.publish(events.TaskAssigned, events.SeverityInfo, task.ID, map[string]interface{}{
		"taskId": task.ID, "assignmentId": assignment.ID, "agentId": agent.ID, "attempt": assignment.AttemptNumber,
	})
	return assignment, nil
}

func (o *Orchestrator) pickAgent(ctx context.Context, task queue.Task) (registry.Agent, []registry.Match, error) {
	query := registry.CapabilityQuery{
		TaskType:        task.Type,
		Languages:       task.RequiredCapabilities.Languages,
		Specializations: specializationTypes(task.RequiredCapabilities.Specializations),
	}
	matches, err := o.registry.QueryByCapability(ctx, query)
	if err != nil {
		return registry.Agent{}, nil, err
	}
	if len(matches) == 0 {
		return registry.Agent{}, nil, arberr.New(arberr.KindExhausted, "no_eligible_agent", "no agent matches the task's required capabilities")
	}

	candidates := make([]router.Candidate, len(matches))
	for i, m := range matches {
		candidates[i] = router.Candidate{Agent: m.Agent, MatchScore: m.MatchScore}
	}

	o.mu.Lock()
	excluded := toSet(o.exclusions[task.ID])
	o.mu.Unlock()

	agent, ok := o.router.Pick(candidates, excluded, o.clk.Now())
	if !ok {
		return registry.Agent{}, nil, arberr.New(arberr.KindExhausted, "no_eligible_agent", "every matching agent has been excluded for this task")
	}
	return agent, matches, nil
}

// handleNoEligibleAgent re-queues a task that could not be placed, with a
// small penalty delay, unless its attempts are exhausted. It always
// returns the original placement error to the caller.
func (o *Orchestrator) handleNoEligibleAgent(ctx context.Context, task queue.Task, placementErr error) error {
	task.Attempts++
	if task.Attempts >= task.MaxAttempts {
		o.publish(events.TaskFailed, events.SeverityError, task.ID, map[string]interface{}{
			"taskId": task.ID, "reason": "no_eligible_agent", "attempts": task.Attempts,
		})
		return placementErr
	}

	o.mu.Lock()
	o.delayed = append(o.delayed, delayedTask{task: task, releaseAt: o.clk.Now().Add(o.cfg.RetryPenalty)})
	o.mu.Unlock()
	return placementErr
}

// releaseDelayed re-enqueues every delayed task whose retry penalty has
// elapsed. Called at the top of Assign and by the periodic sweep.
func (o *Orchestrator) releaseDelayed() {
	now := o.clk.Now()

	o.mu.Lock()
	var ready []queue.Task
	remaining := o.delayed[:0]
	for _, d := range o.delayed {
		if now.Before(d.releaseAt) {
			remaining = append(remaining, d)
			continue
		}
		ready = append(ready, d.task)
	}
	o.delayed = remaining
	o.mu.Unlock()

	for _, t := range ready {
		_ = o.queue.Enqueue(t) // admission already passed on the first enqueue
	}
}

// AssignmentForTask returns the current non-terminal assignment for a
// task, if one exists.
func (o *Orchestrator) AssignmentForTask(taskID string) (*Assignment, bool) {
	o.mu.Lock()
	id, ok := o.byTask[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, false
	}
	o.mu.Unlock()
	return o.getAssignment(id)
}

// Assignment returns a value copy of the assignment record, safe for a
// caller to read without racing further mutation. Used by the worker
// endpoint to build the descriptor it pushes to an agent once
// events.TaskAssigned fires.
func (o *Orchestrator) Assignment(assignmentID string) (Assignment, bool) {
	a, ok := o.getAssignment(assignmentID)
	if !ok {
		return Assignment{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return *a, true
}

// TaskSnapshot returns the tracked copy of a task still associated with a
// live (non-terminal) assignment. Once the task's tracking is cleared
// (clearTaskTracking, on every terminal path) this returns false.
func (o *Orchestrator) TaskSnapshot(taskID string) (queue.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	return t, ok
}

// ListAssignments returns value copies of every tracked assignment,
// optionally filtered to one state. Used by the status/progress read API;
// callers never get a live pointer so they cannot race further mutation.
func (o *Orchestrator) ListAssignments(stateFilter State) []Assignment {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Assignment, 0, len(o.assignments))
	for _, a := range o.assignments {
		if stateFilter != "" && a.State != stateFilter {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// SetDeadlines updates the ack/progress/extension/retry timing tunables in
// place. Safe to call while the sweeper and other callers are running;
// already-computed deadlines on in-flight assignments are unaffected,
// only future ones use the new values.
func (o *Orchestrator) SetDeadlines(ackWindow, progressIdle, maxExtension, retryPenalty time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.AckWindow = ackWindow
	o.cfg.ProgressIdle = progressIdle
	o.cfg.MaxExtension = maxExtension
	o.cfg.RetryPenalty = retryPenalty
}

// getAssignment returns a snapshot-safe pointer to the live assignment
// record, or false if unknown. Callers must hold the assignment's lock
// before mutating the returned value.
func (o *Orchestrator) getAssignment(id string) (*Assignment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.assignments[id]
	return a, ok
}

// Ack acknowledges an assignment, transitioning Assigned -> Running.
// extension, if positive, is added to the exec deadline up to
// Config.MaxExtension total across the assignment's lifetime.
func (o *Orchestrator) Ack(ctx context.Context, assignmentID, agentID string, extension time.Duration) (*Assignment, error) {
	unlock := o.locks.Lock(assignmentID)
	defer unlock()

	a, ok := o.getAssignment(assignmentID)
	if !ok {
		return nil, arberr.New(arberr.KindNotFound, "assignment_not_found", "no such assignment")
	}
	if a.AgentID != agentID {
		return nil, arberr.New(arberr.KindForbidden, "wrong_agent", "assignment belongs to a different agent")
	}
	if a.State != StateAssigned {
		return nil, arberr.New(arberr.KindConflict, "invalid_state", "assignment is not awaiting acknowledgment")
	}

	now := o.clk.Now()
	a.AcknowledgmentTimeMs = now.Sub(a.CreatedAt).Milliseconds()
	a.State = StateRunning
	a.LastProgressAt = now
	if extension > 0 {
		if extension > o.cfg.MaxExtension {
			extension = o.cfg.MaxExtension
		}
		a.ExecDeadline = a.ExecDeadline.Add(extension)
	}

	o.publish(events.TaskAssigned, events.SeverityInfo, a.TaskID, map[string]interface{}{
		"assignmentId": a.ID, "event": "acknowledged",
	})
	return a, nil
}

// Progress records an in-flight progress report, resetting the progress
// idle timer.
func (o *Orchestrator) Progress(ctx context.Context, assignmentID, agentID string, progress float64) (*Assignment, error) {
	unlock := o.locks.Lock(assignmentID)
	defer unlock()

	a, ok := o.getAssignment(assignmentID)
	if !ok {
		return nil, arberr.New(arberr.KindNotFound, "assignment_not_found", "no such assignment")
	}
	if a.AgentID != agentID {
		return nil, arberr.New(arberr.KindForbidden, "wrong_agent", "assignment belongs to a different agent")
	}
	if a.State != StateRunning {
		return nil, arberr.New(arberr.KindConflict, "invalid_state", "assignment is not running")
	}

	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	a.Progress = progress
	a.LastProgressAt = o.clk.Now()
	return a, nil
}

// Submit runs the verdict generator against the submitted artifacts and
// resolves the assignment to a terminal state (or reassigns it, on a
// retriable failure). Verifying is a momentary pass-through state: this
// call transitions Running -> Verifying and settles the outcome in one
// step rather than exposing a separate public verdict step.
func (o *Orchestrator) Submit(ctx context.Context, assignmentID, agentID string, spec verdict.WorkingSpec, metrics verdict.ArtifactMetrics, waiver *verdict.Waiver) (*Assignment, error) {
	unlock := o.locks.Lock(assignmentID)
	defer unlock()

	a, ok := o.getAssignment(assignmentID)
	if !ok {
		return nil, arberr.New(arberr.KindNotFound, "assignment_not_found", "no such assignment")
	}
	if a.AgentID != agentID {
		return nil, arberr.New(arberr.KindForbidden, "wrong_agent", "assignment belongs to a different agent")
	}
	if a.State != StateRunning {
		return nil, arberr.New(arberr.KindConflict, "invalid_state", "assignment is not running")
	}

	a.State = StateVerifying

	o.mu.Lock()
	task := o.tasks[a.TaskID]
	o.mu.Unlock()

	v := o.verdict.Generate(spec, metrics, task.Budget.MaxFiles, task.Budget.MaxLoc, waiver, "orchestrator")
	a.Verdict = &v
	o.closeWithVerdict(ctx, a, v)
	return a, nil
}

// Cancel transitions any non-terminal assignment to Cancelled and
// releases the agent's load. The caller is assumed to have already
// authorized the request (the security gate wraps this call).
func (o *Orchestrator) Cancel(ctx context.Context, assignmentID string) (*Assignment, error) {
	unlock := o.locks.Lock(assignmentID)
	defer unlock()

	a, ok := o.getAssignment(assignmentID)
	if !ok {
		return nil, arberr.New(arberr.KindNotFound, "assignment_not_found", "no such assignment")
	}
	if a.State.Terminal() {
		return nil, arberr.New(arberr.KindConflict, "already_terminal", "assignment has already reached a terminal state")
	}

	a.State = StateCancelled
	o.decrementLoadOnce(ctx, a)
	o.clearTaskTracking(a.TaskID)

	o.publish(events.TaskCancelled, events.SeverityInfo, a.TaskID, map[string]interface{}{"assignmentId": a.ID})
	return a, nil
}

// CheckTimeouts sweeps every non-terminal assignment and resolves any
// whose ack, progress, or exec deadline has passed as of now. Safe to call
// from a single periodic driver goroutine; each assignment is locked
// individually so concurrent Ack/Progress/Submit calls are serialized
// against the sweep rather than racing it.
func (o *Orchestrator) CheckTimeouts(ctx context.Context, now time.Time) []*Assignment {
	o.mu.Lock()
	ids := make([]string, 0, len(o.assignments))
	for id, a := range o.assignments {
		if !a.State.Terminal() {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	var timedOut []*Assignment
	for _, id := range ids {
		unlock := o.locks.Lock(id)
		a, ok := o.getAssignment(id)
		if !ok || a.State.Terminal() {
			unlock()
			continue
		}

		switch {
		case a.ackTimedOut(now):
			a.TimeoutType = TimeoutAck
		case a.execTimedOut(now):
			a.TimeoutType = TimeoutExec
		case a.progressTimedOut(now, o.cfg.ProgressIdle):
			a.TimeoutType = TimeoutProgress
		default:
			unlock()
			continue
		}

		o.publish(events.TaskTimeout, events.SeverityWarning, a.TaskID, map[string]interface{}{
			"assignmentId": a.ID, "timeoutType": string(a.TimeoutType),
		})
		o.handleRetriableFailure(ctx, a, string(a.TimeoutType), nil)
		timedOut = append(timedOut, a)
		unlock()
	}
	return timedOut
}

// closeWithVerdict resolves an assignment in Verifying to its terminal
// outcome, or re-queues the task for another attempt on a retriable
// failure. Caller must hold the assignment's lock.
func (o *Orchestrator) closeWithVerdict(ctx context.Context, a *Assignment, v verdict.Verdict) {
	if v.Decision == verdict.DecisionPass || v.Decision == verdict.DecisionWaiver {
		a.State = StateCompleted
		o.decrementLoadOnce(ctx, a)
		o.clearTaskTracking(a.TaskID)
		o.publish(events.TaskCompleted, events.SeverityInfo, a.TaskID, map[string]interface{}{
			"assignmentId": a.ID, "qualityScore": v.QualityScore, "decision": string(v.Decision),
		})
		return
	}

	var failedGate string
	for _, gr := range v.GateResults {
		if !gr.Passed {
			failedGate = gr.Name
			break
		}
	}
	o.handleRetriableFailure(ctx, a, "verdict_fail", &failedGate)
}

// handleRetriableFailure resolves a Running/Verifying assignment's failure
// to either a reassignment (task re-queued, excluding the failed agent) or
// a terminal Failed state, depending on attempts remaining and whether
// reason names a non-retriable gate. Caller must hold the assignment's
// lock.
func (o *Orchestrator) handleRetriableFailure(ctx context.Context, a *Assignment, reason string, failedGate *string) {
	a.State = StateFailed
	o.decrementLoadOnce(ctx, a)

	o.mu.Lock()
	task, ok := o.tasks[a.TaskID]
	o.mu.Unlock()
	if !ok {
		return
	}

	nonRetriable := failedGate != nil && o.cfg.NonRetriableGates[*failedGate]
	task.Attempts++
	if nonRetriable || task.Attempts >= task.MaxAttempts {
		o.clearTaskTracking(a.TaskID)
		o.publish(events.TaskFailed, events.SeverityError, a.TaskID, map[string]interface{}{
			"assignmentId": a.ID, "reason": reason, "attempts": task.Attempts,
		})
		return
	}

	o.mu.Lock()
	o.exclusions[a.TaskID] = append(o.exclusions[a.TaskID], a.AgentID)
	o.tasks[a.TaskID] = task
	o.mu.Unlock()

	if err := o.queue.Enqueue(task); err != nil {
		o.publish(events.TaskFailed, events.SeverityError, a.TaskID, map[string]interface{}{
			"assignmentId": a.ID, "reason": "requeue_failed", "error": err.Error(),
		})
		return
	}
	o.publish(events.TaskReassigned, events.SeverityWarning, a.TaskID, map[string]interface{}{
		"assignmentId": a.ID, "reason": reason, "attempt": task.Attempts,
	})
}

// decrementLoadOnce releases the agent's load exactly once per
// assignment, regardless of how many terminal-transition paths run.
func (o *Orchestrator) decrementLoadOnce(ctx context.Context, a *Assignment) {
	if a.loadDecremented {
		return
	}
	a.loadDecremented = true
	_, _ = o.registry.UpdateLoad(ctx, a.AgentID, -1, 0)
}

// clearTaskTracking drops the bookkeeping the orchestrator keeps for a
// task once its assignment has reached a final disposition (completed or
// cancelled; a retriable failure keeps it, since the task is about to be
// reassigned).
func (o *Orchestrator) clearTaskTracking(taskID string) {
	o.mu.Lock()
	delete(o.byTask, taskID)
	delete(o.tasks, taskID)
	delete(o.exclusions, taskID)
	delete(o.chains, taskID)
	o.mu.Unlock()
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func specializationTypes(specs []registry.Specialization) []string {
	if len(specs) == 0 {
		return nil
	}
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Type
	}
	return out
}
