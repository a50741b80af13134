package push

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited is wrapped by transport errors caused by the push
	// service throttling the sender.
	ErrRateLimited = errors.New("push service rate limit exceeded")

	// ErrTopicsUnsupported is returned by transports without topic fan-out.
	ErrTopicsUnsupported = errors.New("topic subscriptions are not supported by this transport")
)

// DeliveryHints are platform specific delivery options passed through to the
// push service unmodified.
type DeliveryHints struct {
	AndroidPriority      string // "high" or "normal"
	AndroidSound         string
	AndroidChannelID     string
	AndroidNotifyMax     bool // raise the Android notification priority to max
	APNSSound            string
	APNSBadge            *int
	APNSContentAvailable bool
}

// AlarmHints returns the hints used for meeting alarms and lifecycle pushes.
func AlarmHints() *DeliveryHints {
	badge := 1
	return &DeliveryHints{
		AndroidPriority:  "high",
		AndroidSound:     "alarm",
		AndroidChannelID: "meeting_alarms",
		AndroidNotifyMax: true,
		APNSSound:        "alarm.wav",
		APNSBadge:        &badge,
	}
}

// Message is a single push payload. A message without title and body is
// delivered as a data-only push.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
	Hints *DeliveryHints
}

// DataOnly reports whether the message carries no visible notification.
func (m Message) DataOnly() bool {
	return m.Title == "" && m.Body == ""
}

// BatchResult summarises one multicast request.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	FailedTokens []string
}

// Transport sends push messages to device tokens.
type Transport interface {
	Send(ctx context.Context, token string, msg Message) error
	SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResult, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) error
}

// IsRateLimited reports whether err was caused by push service throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
