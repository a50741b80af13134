package live

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

// Store is the persistence used by live sessions.
type Store interface {
	UpsertDeviceToken(ctx context.Context, token string) error
	AcknowledgeMeeting(ctx context.Context, meetingID string) (bool, error)
}

// Handler serves the per-device websocket channel.
type Handler struct {
	hub            *Hub
	store          Store
	originPatterns []string
}

// NewHandler creates a websocket handler bound to hub. Browser connections are
// accepted from the request's own host and from hosts matching originPatterns;
// clients that send no Origin header are always accepted.
func NewHandler(hub *Hub, store Store, originPatterns []string) *Handler {
	return &Handler{hub: hub, store: store, originPatterns: originPatterns}
}

// Serve handles GET /ws/notifications/:device_id/.
func (h *Handler) Serve(c *gin.Context) {
	deviceID := c.Param("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device id is required"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("[Live] Upgrade failed for device %s: %v", deviceID, err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	id, frames := h.hub.Join(deviceID)
	defer h.hub.Leave(deviceID, id)

	if err := h.store.UpsertDeviceToken(ctx, deviceID); err != nil {
		log.Printf("[Live] Failed to register device %s: %v", deviceID, err)
	}
	log.Printf("[Live] Device %s connected (session %s)", deviceID, id)

	go h.writeLoop(ctx, conn, frames, cancel)

	h.readLoop(ctx, conn, deviceID)
	log.Printf("[Live] Device %s disconnected (session %s)", deviceID, id)
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, frames <-chan Message, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				log.Printf("[Live] Write failed: %v", err)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, deviceID string) {
	for {
		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Printf("[Live] Read from device %s failed: %v", deviceID, err)
			}
			return
		}

		if msg.Type != TypeAcknowledge || msg.MeetingID == "" {
			continue
		}
		found, err := h.store.AcknowledgeMeeting(ctx, msg.MeetingID)
		if err != nil {
			log.Printf("[Live] Failed to acknowledge meeting %s: %v", msg.MeetingID, err)
			continue
		}
		if found {
			log.Printf("[Live] Device %s acknowledged meeting %s", deviceID, msg.MeetingID)
		}
	}
}
