// Package audit persists bus events to append-only, per-topic JSON-Lines
// files, rotated by size and age and sealed with a fingerprinted manifest
// at rotation time — the durable event trail described for "when an event
// sink is configured to persist". Unlike the teacher's SQLite-backed event
// store (internal/events/store.go), this is a pure sink: nothing reads the
// files back, so there is no delivered-marker/GetPending bookkeeping, only
// append, rotate, and age out.
package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// Config bounds rotation and retention for every topic's event file.
type Config struct {
	RotateBytes int64         // rotate the active file once it reaches this size
	Retention   time.Duration // lumberjack deletes backups older than this
	FlushEvery  time.Duration // cadence of the orphaned-manifest sweep; writes themselves are synchronous
}

// line is the on-disk shape of one JSON-Lines record: type, ts (RFC3339
// with millisecond precision), correlationId, severity, payload — in that
// field order.
type line struct {
	Type          events.Type     `json:"type"`
	Timestamp     string          `json:"ts"`
	CorrelationID string          `json:"correlationId"`
	Severity      events.Severity `json:"severity"`
	Payload       interface{}     `json:"payload"`
}

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// topicWriter owns the rotated file for one topic family and the manifest
// sealed for its most recently rotated backup.
type topicWriter struct {
	mu         sync.Mutex
	lj         *lumberjack.Logger
	dir        string
	base       string
	lastSealed string
}

// Sink fans bus events out to one topicWriter per topic, each drained by
// its own goroutine so a slow disk on one topic's file never backs up
// another's.
type Sink struct {
	baseDir string
	cfg     Config
	logger  *log.Logger

	mu      sync.Mutex
	writers map[string]*topicWriter

	unsubMu sync.Mutex
	unsubs  []func()
	stop    chan struct{}
	stopped bool
}

// New builds a Sink rooted at baseDir. Nothing is written to disk until
// Start subscribes it to a bus.
func New(baseDir string, cfg Config, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Minute
	}
	return &Sink{
		baseDir: baseDir,
		cfg:     cfg,
		logger:  logger,
		writers: make(map[string]*topicWriter),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to every topic family and begins draining. Safe to
// call once per Sink.
func (s *Sink) Start(bus *events.Bus) {
	for _, topic := range []string{events.TopicTask, events.TopicAgent, events.TopicSecurity, events.TopicSystem, events.TopicCaws} {
		ch, unsubscribe := bus.Subscribe(topic, nil)
		s.unsubMu.Lock()
		s.unsubs = append(s.unsubs, unsubscribe)
		s.unsubMu.Unlock()
		go s.drain(topic, ch)
	}
	go s.retentionLoop()
}

func (s *Sink) drain(topic string, ch <-chan events.Event) {
	for ev := range ch {
		if err := s.write(topic, ev); err != nil {
			s.logger.Printf("audit: write failed for topic %s: %v", topic, err)
		}
	}
}

// Stop unsubscribes from the bus and stops the retention sweep. In-flight
// writes are allowed to finish; lumberjack files are left open (the OS
// reclaims the descriptor on process exit).
func (s *Sink) Stop() {
	s.unsubMu.Lock()
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.unsubs = nil
	s.unsubMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

func (s *Sink) writerFor(topic string) *topicWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[topic]
	if ok {
		return w
	}
	dir := filepath.Join(s.baseDir, topic)
	maxSizeMB := int(s.cfg.RotateBytes / (1024 * 1024))
	if maxSizeMB < 1 {
		maxSizeMB = 1
	}
	maxAgeDays := int(s.cfg.Retention / (24 * time.Hour))
	if maxAgeDays < 1 {
		maxAgeDays = 1
	}
	w = &topicWriter{
		lj: &lumberjack.Logger{
			Filename: filepath.Join(dir, "events.jsonl"),
			MaxSize:  maxSizeMB,
			MaxAge:   maxAgeDays,
			Compress: false,
		},
		dir:  dir,
		base: "events",
	}
	s.writers[topic] = w
	return w
}

func (s *Sink) write(topic string, ev events.Event) error {
	body, err := json.Marshal(line{
		Type:          ev.Type,
		Timestamp:     ev.Timestamp.UTC().Format(tsLayout),
		CorrelationID: ev.CorrelationID,
		Severity:      ev.Severity,
		Payload:       ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal event %s: %w", ev.ID, err)
	}
	body = append(body, '\n')

	w := s.writerFor(topic)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.lj.Write(body); err != nil {
		return fmt.Errorf("audit: write to %s: %w", w.lj.Filename, err)
	}
	// A new rotation may have just happened (lumberjack rotates internally
	// once Write crosses MaxSize); seal whatever backup is newest if it
	// hasn't been sealed yet. Listing one topic directory per write is not
	// free, but audit events are not on any latency-sensitive path — they
	// are already decoupled onto this goroutine by drain.
	if err := w.sealLatestBackup(); err != nil {
		s.logger.Printf("audit: manifest seal failed for %s: %v", w.dir, err)
	}
	return nil
}
