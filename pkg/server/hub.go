package server

import (
	"sync"
	"time"

	"github.com/MrCodeEU/facemark/pkg/attendance"
	"github.com/MrCodeEU/facemark/pkg/logging"
)

// Event is one push message to dashboard clients.
type Event struct {
	Event string `json:"event"`
	Name  string `json:"name"`
	Time  string `json:"time"`
}

// EventStudentMarked announces a freshly appended attendance row.
const EventStudentMarked = "student_marked"

// wsConn is the slice of a websocket connection the hub needs,
// narrowed for testability.
type wsConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub fans attendance events out to connected dashboards. A client
// whose write fails is dropped; dashboards reconnect on their own.
type Hub struct {
	mu    sync.Mutex
	conns map[wsConn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[wsConn]bool)}
}

// Register adds a client connection.
func (h *Hub) Register(c wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
	logging.Debugf("Dashboard connected, %d client(s)", len(h.conns))
}

// Unregister removes a client connection.
func (h *Hub) Unregister(c wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		if err := c.WriteJSON(event); err != nil {
			logging.WithError(err).Debug("Dropping dashboard client")
			delete(h.conns, c)
			_ = c.Close()
		}
	}
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// NotifyMarked adapts the hub to the ledger's notifier hook.
func (h *Hub) NotifyMarked(e attendance.Entry) {
	h.Broadcast(Event{
		Event: EventStudentMarked,
		Name:  e.Name,
		Time:  e.Time.Format(time.TimeOnly),
	})
}
