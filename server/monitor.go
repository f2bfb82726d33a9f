// Package server exposes a read-only WebSocket monitor that streams batch
// job updates to connected clients. It carries no control surface: job
// creation and lifecycle control stay on the engine API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/logger"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The monitor is read-only and deployment-internal
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Monitor fans batch job updates out to WebSocket clients
type Monitor struct {
	registry *batch.Registry
	port     int

	mu      sync.RWMutex
	clients map[*client]struct{}

	httpServer *http.Server
	updates    chan batch.Update
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewMonitor creates a monitor over the registry listening on the given port
func NewMonitor(registry *batch.Registry, port int) *Monitor {
	return NewMonitorWithContext(context.Background(), registry, port)
}

// NewMonitorWithContext creates a monitor with a parent context
func NewMonitorWithContext(ctx context.Context, registry *batch.Registry, port int) *Monitor {
	mCtx, cancel := context.WithCancel(ctx)
	return &Monitor{
		registry: registry,
		port:     port,
		clients:  make(map[*client]struct{}),
		ctx:      mCtx,
		cancel:   cancel,
	}
}

// Start subscribes to the registry and begins serving WebSocket clients
func (m *Monitor) Start() error {
	m.updates = m.registry.Subscribe()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	m.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.port),
		Handler: mux,
	}

	m.wg.Add(1)
	go m.fanOut()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		logger.Infow("Batch monitor listening", "port", m.port)
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("Batch monitor server failed", "error", err)
		}
	}()

	return nil
}

// Stop disconnects clients and shuts the server down
func (m *Monitor) Stop(ctx context.Context) error {
	m.cancel()
	m.registry.Unsubscribe(m.updates)

	var err error
	if m.httpServer != nil {
		err = m.httpServer.Shutdown(ctx)
	}

	m.mu.Lock()
	for c := range m.clients {
		c.close()
	}
	m.clients = make(map[*client]struct{})
	m.mu.Unlock()

	m.wg.Wait()
	logger.Infow("Batch monitor stopped")
	return err
}

// fanOut relays registry updates to every connected client
func (m *Monitor) fanOut() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case u, ok := <-m.updates:
			if !ok {
				return
			}
			m.broadcast(jobUpdateMessage{
				Type:      "job_update",
				Update:    u,
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

// broadcast sends a message to all connected clients.
// Uses non-blocking sends so a slow client cannot stall the fan-out loop.
func (m *Monitor) broadcast(msg interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for c := range m.clients {
		select {
		case c.send <- msg:
		default:
			// Channel full - skip
		}
	}
}

// handleWS upgrades the connection and registers the client
func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(m, conn)

	m.mu.Lock()
	m.clients[c] = struct{}{}
	count := len(m.clients)
	m.mu.Unlock()

	logger.Infow("Monitor client connected", "remote", r.RemoteAddr, "clients", count)

	// Initial snapshot so a fresh client doesn't wait for the next transition
	c.send <- m.snapshot()

	go c.writePump()
	go c.readPump()
}

// unregister removes a departed client
func (m *Monitor) unregister(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		logger.Infow("Monitor client disconnected", "clients", len(m.clients))
	}
}

type jobUpdateMessage struct {
	Type      string       `json:"type"`
	Update    batch.Update `json:"update"`
	Timestamp int64        `json:"timestamp"`
}

type snapshotMessage struct {
	Type      string              `json:"type"`
	Stats     batch.RegistryStats `json:"stats"`
	Jobs      []jobSummary        `json:"jobs"`
	Timestamp int64               `json:"timestamp"`
}

type jobSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   batch.JobStatus `json:"status"`
	Priority batch.Priority  `json:"priority"`
	Progress batch.Progress  `json:"progress"`
}

// snapshot builds the full current view of the registry
func (m *Monitor) snapshot() snapshotMessage {
	jobs := m.registry.ListJobs()
	summaries := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, jobSummary{
			ID:       j.ID,
			Name:     j.Name,
			Status:   j.CurrentStatus(),
			Priority: j.Priority,
			Progress: j.ProgressSnapshot(),
		})
	}
	return snapshotMessage{
		Type:      "snapshot",
		Stats:     m.registry.Stats(),
		Jobs:      summaries,
		Timestamp: time.Now().Unix(),
	}
}
