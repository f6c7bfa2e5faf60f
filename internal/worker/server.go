package worker

import (
	"fmt"
	"log"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures the in-process NATS server used for
// standalone/dev mode, adapted from the teacher's nats.EmbeddedServerConfig.
type EmbeddedServerConfig struct {
	Port      int
	JetStream bool
	DataDir   string
}

// EmbeddedServer wraps a nats-server instance so cmd/arbiterd can run
// without an external NATS deployment.
type EmbeddedServer struct {
	mu      sync.RWMutex
	cfg     EmbeddedServerConfig
	srv     *natsserver.Server
	running bool
	logger  *log.Logger
}

func NewEmbeddedServer(cfg EmbeddedServerConfig, logger *log.Logger) (*EmbeddedServer, error) {
	if cfg.Port <= 0 {
		cfg.Port = 4222
	}
	if cfg.JetStream && cfg.DataDir == "" {
		return nil, fmt.Errorf("worker: embedded server: dataDir required when jetStream is enabled")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &EmbeddedServer{cfg: cfg, logger: logger}, nil
}

// Start launches the server in the background and blocks until it is
// ready for connections or 10s elapse.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("worker: embedded server already running")
	}

	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       e.cfg.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.cfg.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.cfg.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("worker: create embedded nats server: %w", err)
	}
	e.srv = ns
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("worker: embedded nats server not ready for connections")
	}
	e.running = true
	e.logger.Printf("[WORKER] embedded nats server listening on %s", e.URL())
	return nil
}

// Shutdown stops the embedded server, waiting for it to fully drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.srv == nil {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
	e.srv = nil
}

func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.cfg.Port)
}

func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
