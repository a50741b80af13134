package api

import (
	"context"
	"errors"
	"io"
	"time"

	"meeting-reminder-backend/internal/notification"
	"meeting-reminder-backend/internal/push"
	"meeting-reminder-backend/internal/store"
)

// TopicSubscriber subscribes device tokens to a push topic.
type TopicSubscriber interface {
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store          store.Store
	announcer      notification.Announcer
	topics         TopicSubscriber
	vapidPublicKey string
	now            func() time.Time
}

// NewHandler creates a new API handler. announcer and topics may be nil, in
// which case lifecycle pushes and topic subscriptions are skipped.
func NewHandler(s store.Store, announcer notification.Announcer, topics TopicSubscriber, vapidPublicKey string) *Handler {
	return &Handler{
		store:          s,
		announcer:      announcer,
		topics:         topics,
		vapidPublicKey: vapidPublicKey,
		now:            time.Now,
	}
}

// announce queues a push. Failures never affect the HTTP response.
func (h *Handler) announce(tokens []string, title, body string, data map[string]string) {
	if h.announcer == nil {
		return
	}
	h.announcer.Announce(notification.Announcement{
		Tokens: tokens,
		Message: push.Message{
			Title: title,
			Body:  body,
			Data:  data,
			Hints: push.AlarmHints(),
		},
	})
}

// emptyBody reports whether a bind error was caused by a missing request body.
func emptyBody(err error) bool {
	return errors.Is(err, io.EOF)
}
