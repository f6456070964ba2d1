package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aletheia/internal"
	"aletheia/models"
)

// PingInterval is how often an idle stream receives a keep-alive
var PingInterval = 30 * time.Second

// SSEClient represents a connected SSE client
type SSEClient struct {
	TaskID  uuid.UUID
	Channel chan models.StageEvent
}

// SSEHub fans stage events out to Server-Sent Events subscribers. It is a TraceSink.
type SSEHub struct {
	clients    map[uuid.UUID]map[chan models.StageEvent]bool
	clientsMu  sync.RWMutex
	unregister chan SSEClient
	broadcast  chan models.StageEvent
	done       chan struct{}
	closeOnce  sync.Once
	logger     *internal.Logger
}

// NewSSEHub creates a new SSE hub and starts its dispatch loop
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	hub := &SSEHub{
		clients:    make(map[uuid.UUID]map[chan models.StageEvent]bool),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan models.StageEvent, 100),
		done:       make(chan struct{}),
		logger:     logger.With("SSE"),
	}

	go hub.run()
	return hub
}

// run processes SSE hub operations
func (h *SSEHub) run() {
	for {
		select {
		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for clientChan := range h.clients[event.TaskID] {
				select {
				case clientChan <- event:
				default:
					h.logger.Warn("client channel full for task %s, skipping %s event", event.TaskID, event.Stage)
				}
			}
			h.clientsMu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Subscribe registers a client channel for a task. Registration is synchronous
// so no event broadcast after it returns can be missed.
func (h *SSEHub) Subscribe(taskID uuid.UUID) SSEClient {
	client := SSEClient{TaskID: taskID, Channel: make(chan models.StageEvent, 32)}
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[taskID] == nil {
		h.clients[taskID] = make(map[chan models.StageEvent]bool)
	}
	h.clients[taskID][client.Channel] = true
	h.logger.Debug("client registered for task %s (total clients: %d)", taskID, len(h.clients[taskID]))
	return client
}

// Unsubscribe removes a client
func (h *SSEHub) Unsubscribe(client SSEClient) {
	select {
	case <-h.done:
		h.remove(client)
		return
	default:
	}
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

func (h *SSEHub) remove(client SSEClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	clients, exists := h.clients[client.TaskID]
	if !exists || !clients[client.Channel] {
		return
	}
	delete(clients, client.Channel)
	close(client.Channel)
	h.logger.Debug("client unregistered from task %s (remaining clients: %d)", client.TaskID, len(clients))
	if len(clients) == 0 {
		delete(h.clients, client.TaskID)
	}
}

// Emit queues an event for subscribers of its task. It never blocks.
func (h *SSEHub) Emit(event models.StageEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping %s event for task %s", event.Stage, event.TaskID)
	}
}

// Close stops the dispatch loop
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// GetClientCount returns the number of active clients for a task
func (h *SSEHub) GetClientCount(taskID uuid.UUID) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[taskID])
}

// GetActiveTasks returns tasks with active SSE clients
func (h *SSEHub) GetActiveTasks() []uuid.UUID {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	tasks := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		tasks = append(tasks, id)
	}
	return tasks
}

func eventKey(ev models.StageEvent) string {
	return fmt.Sprintf("%s/%d", ev.Stage, ev.Iteration)
}

func isTerminalStage(stage models.Stage) bool {
	return stage == models.StageCompleted || stage == models.StageFailed || stage == models.StageCancelled
}

// Stream replays the stored history of a task and then follows live events
// until a terminal stage is sent or the client goes away
func (h *SSEHub) Stream(c *gin.Context, taskID uuid.UUID, history func(ctx context.Context) ([]models.StageEvent, error)) {
	client := h.Subscribe(taskID)
	defer h.Unsubscribe(client)

	ctx := c.Request.Context()
	past, err := history(ctx)
	if err != nil {
		h.logger.Error("failed to load events for task %s: %v", taskID, err)
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sent := make(map[string]bool, len(past))
	send := func(ev models.StageEvent) bool {
		key := eventKey(ev)
		if sent[key] {
			return true
		}
		sent[key] = true
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to marshal event: %v", err)
			return true
		}
		c.SSEvent("stage", string(payload))
		return !isTerminalStage(ev.Stage)
	}

	for _, ev := range past {
		if !send(ev) {
			c.Writer.Flush()
			return
		}
	}
	c.Writer.Flush()

	ping := time.NewTicker(PingInterval)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-client.Channel:
			if !ok {
				return false
			}
			return send(ev)

		case <-ping.C:
			c.SSEvent("ping", `{"status": "alive", "timestamp": "`+time.Now().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false

		case <-h.done:
			return false
		}
	})
}
