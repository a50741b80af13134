package live

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Message types exchanged over the live channel.
const (
	TypeNotification = "notification"
	TypeAlarm        = "alarm"
	TypeAcknowledge  = "acknowledge"
)

// Message is a frame forwarded to or received from a connected device.
type Message struct {
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	MeetingID string `json:"meeting_id,omitempty"`
}

const clientBuffer = 16

type client struct {
	id   string
	send chan Message
}

// Hub tracks live sessions grouped by device id.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[string]*client)}
}

// Join adds a session to the device group and returns its id together with
// the channel of frames addressed to it.
func (h *Hub) Join(device string) (string, <-chan Message) {
	c := &client{
		id:   uuid.NewString(),
		send: make(chan Message, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[device]
	if !ok {
		group = make(map[string]*client)
		h.groups[device] = group
	}
	group[c.id] = c
	return c.id, c.send
}

// Leave removes the session from its device group and closes its channel.
func (h *Hub) Leave(device, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[device]
	if !ok {
		return
	}
	if c, ok := group[id]; ok {
		close(c.send)
		delete(group, id)
	}
	if len(group) == 0 {
		delete(h.groups, device)
	}
}

// Send forwards msg to every session of device and returns how many accepted it.
// Sessions whose buffer is full miss the frame.
func (h *Hub) Send(device string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return deliver(h.groups[device], msg)
}

// Broadcast forwards msg to every connected session.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, group := range h.groups {
		n += deliver(group, msg)
	}
	return n
}

// Devices returns the number of devices with at least one session.
func (h *Hub) Devices() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

func deliver(group map[string]*client, msg Message) int {
	n := 0
	for _, c := range group {
		select {
		case c.send <- msg:
			n++
		default:
			log.Printf("[Live] Dropping %s frame for slow session %s", msg.Type, c.id)
		}
	}
	return n
}
