package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// wsSendBuffer bounds how many pending events a slow websocket client can
// queue before it is dropped, mirroring the per-subscriber bound the event
// bus itself enforces on its channels.
const wsSendBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one live /events websocket connection, optionally filtered
// to a subset of topics via the "topic" query parameter.
type wsClient struct {
	hub    *hub
	conn   *websocket.Conn
	send   chan events.Event
	topics map[string]bool // nil/empty = every topic
}

func (c *wsClient) wants(ev events.Event) bool {
	if len(c.topics) == 0 {
		return true
	}
	for topic := range c.topics {
		if hasTopicPrefix(string(ev.Type), topic) {
			return true
		}
	}
	return false
}

// hub fans bus events out to every connected websocket client. One
// instance is shared by the server; Run must be started exactly once.
type hub struct {
	mu         sync.RWMutex
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	logger     *log.Logger
}

func newHub(logger *log.Logger) *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logger,
	}
}

// run subscribes to every topic family and drives the register/unregister/
// broadcast loop until stop is closed.
func (h *hub) run(bus *events.Bus, stop <-chan struct{}) {
	chans := make([]<-chan events.Event, 0, len(allTopics))
	unsubs := make([]func(), 0, len(allTopics))
	for _, topic := range allTopics {
		ch, unsub := bus.Subscribe(topic, nil)
		chans = append(chans, ch)
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	merged := make(chan events.Event, wsSendBuffer)
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan events.Event) {
			defer wg.Done()
			for ev := range ch {
				select {
				case merged <- ev:
				case <-stop:
					return
				}
			}
		}(ch)
	}

	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case ev := <-merged:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev) {
					continue
				}
				select {
				case c.send <- ev:
				default:
					h.logf("dropping event for slow websocket client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *hub) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection and registers a client filtered
// by the "topic" query parameter (comma-separated, optional).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var topics map[string]bool
	if raw := r.URL.Query().Get("topic"); raw != "" {
		topics = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				topics[t] = true
			}
		}
	}

	c := &wsClient{hub: s.hub, conn: conn, send: make(chan events.Event, wsSendBuffer), topics: topics}
	s.hub.register <- c

	go c.writePump()
	c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
