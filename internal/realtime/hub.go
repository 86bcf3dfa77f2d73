package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

type branchEvent struct {
	branch string
	event  Event
}

// Hub keeps websocket clients in rooms per branch and fans events out to
// them. Events for the "all" channel reach every room.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan branchEvent
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan branchEvent, 256),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.branch] == nil {
				h.rooms[client.branch] = make(map[*Client]bool)
			}
			h.rooms[client.branch][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
		case be := <-h.broadcast:
			message, err := json.Marshal(be.event)
			if err != nil {
				h.logger.Warn("realtime: marshal event", slog.String("type", be.event.Type), slog.Any("error", err))
				continue
			}
			h.mu.Lock()
			for branch, clients := range h.rooms {
				if be.branch != "all" && branch != be.branch {
					continue
				}
				for client := range clients {
					select {
					case client.send <- message:
					default:
						// slow consumer
						h.drop(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for the clients of a branch.
func (h *Hub) Broadcast(branch string, evt Event) {
	h.broadcast <- branchEvent{branch: branch, event: evt}
}

// Publish implements Publisher for single-process deployments.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	h.Broadcast(branchFromChannel(Channel(evt.Branch)), evt)
	return nil
}

// Clients returns the number of clients connected to a branch.
func (h *Hub) Clients(branch string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[branch])
}

func (h *Hub) drop(client *Client) {
	clients, ok := h.rooms[client.branch]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.branch)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			h.drop(client)
		}
	}
}
