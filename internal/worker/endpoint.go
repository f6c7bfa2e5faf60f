package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/orchestrator"
)

// Endpoint bridges the orchestrator's assignment lifecycle onto NATS: it
// listens for events.TaskAssigned on the event bus and pushes the
// corresponding descriptor to the assigned agent, and it subscribes to
// every agent's ack/progress/submit subjects and turns each message into
// an orchestrator call. Modeled on the teacher's nats.Handler (subscribe
// up front, fan each message out to a callback, track subscriptions for
// clean shutdown) with the callback set replaced by direct
// internal/orchestrator calls instead of a HandlerCallbacks struct, since
// there is exactly one consumer of these messages here rather than many.
type Endpoint struct {
	client *Client
	orch   *orchestrator.Orchestrator
	bus    *events.Bus
	logger *log.Logger

	subsMu sync.Mutex
	subs   []*nc.Subscription

	stopBridge chan struct{}
	bridgeWG   sync.WaitGroup
}

func NewEndpoint(client *Client, orch *orchestrator.Orchestrator, bus *events.Bus, logger *log.Logger) *Endpoint {
	if logger == nil {
		logger = log.Default()
	}
	return &Endpoint{client: client, orch: orch, bus: bus, logger: logger}
}

// Start subscribes to the inbound NATS subjects and begins bridging
// events.TaskAssigned to outbound assign pushes. Call Stop to tear both
// down.
func (e *Endpoint) Start(ctx context.Context) error {
	if err := e.subscribe(SubjectAllAck, e.handleAck); err != nil {
		return err
	}
	if err := e.subscribe(SubjectAllProgress, e.handleProgress); err != nil {
		return err
	}
	if err := e.subscribe(SubjectAllSubmit, e.handleSubmit); err != nil {
		return err
	}

	ch, unsubscribe := e.bus.Subscribe(events.TopicTask, []events.Type{events.TaskAssigned})
	e.stopBridge = make(chan struct{})
	e.bridgeWG.Add(1)
	go e.runBridge(ctx, ch, unsubscribe)

	e.logger.Printf("[WORKER] endpoint started, subscribed to %d subjects", len(e.subs))
	return nil
}

// Stop unwinds every subscription and the event-bus bridge goroutine.
func (e *Endpoint) Stop() {
	if e.stopBridge != nil {
		close(e.stopBridge)
		e.bridgeWG.Wait()
	}
	e.subsMu.Lock()
	for _, sub := range e.subs {
		_ = sub.Unsubscribe()
	}
	e.subs = nil
	e.subsMu.Unlock()
	e.logger.Printf("[WORKER] endpoint stopped")
}

func (e *Endpoint) subscribe(subject string, handler func(data []byte, reply string)) error {
	sub, err := e.client.Subscribe(subject, handler)
	if err != nil {
		return err
	}
	e.subsMu.Lock()
	e.subs = append(e.subs, sub)
	e.subsMu.Unlock()
	return nil
}

func (e *Endpoint) runBridge(ctx context.Context, ch <-chan events.Event, unsubscribe func()) {
	defer e.bridgeWG.Done()
	defer unsubscribe()
	for {
		select {
		case <-e.stopBridge:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.pushAssignment(ev)
		}
	}
}

// pushAssignment resolves the full Assignment and Task behind a
// task.assigned event and sends the agent its descriptor.
func (e *Endpoint) pushAssignment(ev events.Event) {
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok {
		return
	}
	assignmentID, _ := payload["assignmentId"].(string)
	if assignmentID == "" {
		return
	}
	a, ok := e.orch.Assignment(assignmentID)
	if !ok {
		return
	}
	task, ok := e.orch.TaskSnapshot(a.TaskID)
	if !ok {
		return
	}
	desc := AssignmentDescriptor{
		AssignmentID:  a.ID,
		TaskID:        a.TaskID,
		AttemptNumber: a.AttemptNumber,
		Description:   task.Description,
		Type:          task.Type,
		Budget:        task.Budget,
		Metadata:      task.Metadata,
		AckDeadline:   a.AckDeadline,
		ExecDeadline:  a.ExecDeadline,
	}
	if err := e.client.PublishJSON(assignSubject(a.AgentID), desc); err != nil {
		e.logger.Printf("[WORKER] failed to push assignment %s to agent %s: %v", a.ID, a.AgentID, err)
	}
}

func (e *Endpoint) handleAck(data []byte, reply string) {
	var req AckRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.client.Reply(reply, Reply{OK: false, Error: "invalid ack payload"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := e.orch.Ack(ctx, req.AssignmentID, req.AgentID, time.Duration(req.ExtensionMs)*time.Millisecond)
	if err != nil {
		e.client.Reply(reply, Reply{OK: false, Error: err.Error()})
		return
	}
	e.client.Reply(reply, Reply{OK: true, State: string(a.State)})
}

func (e *Endpoint) handleProgress(data []byte, reply string) {
	var req ProgressRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.client.Reply(reply, Reply{OK: false, Error: "invalid progress payload"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := e.orch.Progress(ctx, req.AssignmentID, req.AgentID, req.Progress)
	if err != nil {
		e.client.Reply(reply, Reply{OK: false, Error: err.Error()})
		return
	}
	e.client.Reply(reply, Reply{OK: true, State: string(a.State)})
}

func (e *Endpoint) handleSubmit(data []byte, reply string) {
	var req SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.client.Reply(reply, Reply{OK: false, Error: "invalid submit payload"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, err := e.orch.Submit(ctx, req.AssignmentID, req.AgentID, req.Spec, req.Metrics, req.Waiver)
	if err != nil {
		e.client.Reply(reply, Reply{OK: false, Error: err.Error()})
		return
	}
	e.client.Reply(reply, Reply{OK: true, State: string(a.State)})
}
