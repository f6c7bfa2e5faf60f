package queue

import (
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/arberr"
	"github.com/arbiter-hq/arbiter/internal/clock"
	"github.com/arbiter-hq/arbiter/internal/events"
)

// Config bundles the queue's capacity and admission rules.
type Config struct {
	Capacity        int
	Admission       AdmissionConfig
	StarvationAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:        10000,
		Admission:       DefaultAdmissionConfig(),
		StarvationAfter: 5 * time.Minute,
	}
}

// Queue is the bounded priority queue (C4): one FIFO lane per priority
// class, dequeued highest class first, with a single global capacity
// ceiling shared across classes. Generalized from a single
// sort-every-insert slice to one FIFO lane per class since class order
// never changes after admission, only membership does.
type Queue struct {
	mu     sync.Mutex
	cfg    Config
	clk    clock.Clock
	bus    *events.Bus
	lanes  map[Priority][]Task
	length int
}

func New(cfg Config, clk clock.Clock, bus *events.Bus) *Queue {
	return &Queue{
		cfg: cfg,
		clk: clk,
		bus: bus,
		lanes: map[Priority][]Task{
			PriorityLow:      nil,
			PriorityNormal:   nil,
			PriorityHigh:     nil,
			PriorityCritical: nil,
		},
	}
}

// Enqueue runs admission control and, if the task passes and the queue has
// room, appends it to the tail of its priority lane. On a full queue it
// fails with KindExhausted and emits task.queue_full without enqueuing.
func (q *Queue) Enqueue(task Task) error {
	if err := q.cfg.Admission.validate(task); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.length >= q.cfg.Capacity {
		q.publishLocked(events.TaskQueueFull, events.SeverityWarning, map[string]interface{}{
			"capacity": q.cfg.Capacity,
			"taskId":   task.ID,
		})
		return arberr.New(arberr.KindExhausted, "queue_full", "task queue is at capacity")
	}

	task.EnqueuedAt = q.clk.Now()
	q.lanes[task.Priority] = append(q.lanes[task.Priority], task)
	q.length++
	return nil
}

// Dequeue returns and removes the head of the highest-priority non-empty
// lane, applying the starvation bump: any task that has been waiting at
// least StarvationAfter is considered at one class higher than its stored
// priority for this selection only. The stored priority itself is never
// mutated; the bump is applied fresh at each dequeue.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	best := q.selectLaneLocked(now)
	if best == 0 {
		return Task{}, false
	}

	lane := q.lanes[best]
	task := lane[0]
	q.lanes[best] = lane[1:]
	q.length--
	return task, true
}

// selectLaneLocked finds the lane whose head should be dequeued next: the
// highest effective priority among non-empty lanes, where a lane's
// effective priority is the starvation-bumped priority of its head task.
// Ties (a bumped lower lane reaching the same effective class as another
// lane) favor the head enqueued earlier, so the bumped task is served
// first; equal enqueue times favor the higher stored class. Callers must
// hold q.mu.
func (q *Queue) selectLaneLocked(now time.Time) Priority {
	var bestLane, bestEffective Priority
	var bestEnqueuedAt time.Time
	for p := PriorityLow; p <= PriorityCritical; p++ {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		effective := p
		if q.cfg.StarvationAfter > 0 && now.Sub(lane[0].EnqueuedAt) >= q.cfg.StarvationAfter {
			effective = p.bump()
		}
		if effective > bestEffective || (effective == bestEffective && !lane[0].EnqueuedAt.After(bestEnqueuedAt)) {
			bestEffective = effective
			bestLane = p
			bestEnqueuedAt = lane[0].EnqueuedAt
		}
	}
	return bestLane
}

// Peek returns the task that the next Dequeue call would return, without
// removing it.
func (q *Queue) Peek() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	best := q.selectLaneLocked(now)
	if best == 0 {
		return Task{}, false
	}
	return q.lanes[best][0], true
}

// Size returns the total number of tasks across all lanes.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// SizeByPriority returns the depth of one priority lane.
func (q *Queue) SizeByPriority(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[p])
}

// Clear removes every task for which predicate returns true, across all
// lanes, and emits a single task.queue_cleared event carrying the removed
// count.
func (q *Queue) Clear(predicate func(Task) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for p, lane := range q.lanes {
		kept := lane[:0]
		for _, t := range lane {
			if predicate(t) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		q.lanes[p] = kept
	}
	q.length -= removed

	if removed > 0 {
		q.publishLocked(events.TaskQueueClear, events.SeverityInfo, map[string]interface{}{"removed": removed})
	}
	return removed
}

func (q *Queue) publishLocked(t events.Type, severity events.Severity, payload interface{}) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(events.TopicTask, events.New(t, severity, "", payload))
}
