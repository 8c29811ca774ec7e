package api

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"lmmpower/internal"
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	RunID   string
	Channel chan RunEvent
}

// RunEvent is one progress update of a power analysis run
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SSEHub fans run progress out to Server-Sent Events subscribers
type SSEHub struct {
	clients    map[string]map[chan RunEvent]bool
	clientsMu  sync.RWMutex
	register   chan SSEClient
	unregister chan SSEClient
	broadcast  chan RunEvent
	done       chan struct{}
	closeOnce  sync.Once
	logger     *internal.Logger
	keepAlive  time.Duration
}

// NewSSEHub creates a new SSE hub and starts its dispatch loop
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	hub := &SSEHub{
		clients:    make(map[string]map[chan RunEvent]bool),
		register:   make(chan SSEClient, 10),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan RunEvent, 256),
		done:       make(chan struct{}),
		logger:     logger,
		keepAlive:  30 * time.Second,
	}

	go hub.run()
	return hub
}

// run processes SSE hub operations
func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.RunID] == nil {
				h.clients[client.RunID] = make(map[chan RunEvent]bool)
			}
			h.clients[client.RunID][client.Channel] = true
			h.logger.Debug("[SSE] Client registered for run %s (total clients: %d)",
				client.RunID, len(h.clients[client.RunID]))
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.RunID]; exists {
				delete(clients, client.Channel)
				h.logger.Debug("[SSE] Client unregistered from run %s (remaining clients: %d)",
					client.RunID, len(clients))
				if len(clients) == 0 {
					delete(h.clients, client.RunID)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for clientChan := range h.clients[event.RunID] {
				select {
				case clientChan <- event:
				default:
					h.logger.Debug("[SSE] Client channel full for run %s, skipping event", event.RunID)
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Broadcast sends an event to all clients following a run
func (h *SSEHub) Broadcast(event RunEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("[SSE] Broadcast channel full, dropping %s event", event.Stage)
	}
}

// Close stops the dispatch loop
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// HandleSSE streams the events of the run named by the run_id query parameter
func (h *SSEHub) HandleSSE(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		c.JSON(400, gin.H{"error": "run_id parameter required", "code": "INVALID_ARGUMENT"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan RunEvent, 32)
	client := SSEClient{RunID: runID, Channel: clientChan}

	select {
	case h.register <- client:
	default:
		c.JSON(503, gin.H{"error": "SSE hub registration failed", "code": "INTERNAL_ERROR"})
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	c.Status(200)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-clientChan:
			eventJSON, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("[SSE] Failed to marshal event: %v", err)
				return true
			}
			c.SSEvent("progress", string(eventJSON))
			return !terminal(event.Stage)

		case <-time.After(h.keepAlive):
			c.SSEvent("ping", `{"status": "alive", "timestamp": "`+time.Now().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false

		case <-h.done:
			return false
		}
	})
}

// GetActiveRuns returns runs with connected clients
func (h *SSEHub) GetActiveRuns() []string {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	runs := make([]string, 0, len(h.clients))
	for runID := range h.clients {
		runs = append(runs, runID)
	}
	return runs
}

// GetClientCount returns the number of active clients for a run
func (h *SSEHub) GetClientCount(runID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[runID])
}
