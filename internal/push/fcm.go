package push

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// messagingClient is the subset of *messaging.Client used by FCMClient.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// FCMClient delivers pushes through Firebase Cloud Messaging.
type FCMClient struct {
	client messagingClient
}

// NewFCMClient initialises the Firebase app from a service-account
// credentials file. It is called once at process start.
func NewFCMClient(ctx context.Context, credentialsFile string) (*FCMClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Println("[FCM] Client initialized successfully")
	return &FCMClient{client: client}, nil
}

// Send delivers msg to a single device token.
func (c *FCMClient) Send(ctx context.Context, token string, msg Message) error {
	message := &messaging.Message{
		Token:        token,
		Data:         msg.Data,
		Notification: notificationFor(msg),
		Android:      androidConfig(msg),
		APNS:         apnsConfig(msg),
	}

	id, err := c.client.Send(ctx, message)
	if err != nil {
		return wrapFCMError("failed to send FCM message", err)
	}
	log.Printf("[FCM] Message sent successfully: %s", id)
	return nil
}

// SendMulticast delivers msg to every token in one request.
func (c *FCMClient) SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResult, error) {
	if len(tokens) == 0 {
		return &BatchResult{}, nil
	}

	message := &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         msg.Data,
		Notification: notificationFor(msg),
		Android:      androidConfig(msg),
		APNS:         apnsConfig(msg),
	}

	response, err := c.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return nil, wrapFCMError("failed to send FCM multicast message", err)
	}

	result := &BatchResult{
		SuccessCount: response.SuccessCount,
		FailureCount: response.FailureCount,
	}
	rateLimited := 0
	for i, resp := range response.Responses {
		if resp.Success {
			continue
		}
		result.FailedTokens = append(result.FailedTokens, tokens[i])
		if messaging.IsQuotaExceeded(resp.Error) {
			rateLimited++
		}
		log.Printf("[FCM] Failed to send to token %s: %v", shortToken(tokens[i]), resp.Error)
	}
	log.Printf("[FCM] Multicast sent: %d success, %d failures", result.SuccessCount, result.FailureCount)

	// A batch throttled as a whole is reported as a rate-limit error so the
	// caller can retry it.
	if result.SuccessCount == 0 && rateLimited > 0 && rateLimited == result.FailureCount {
		return result, fmt.Errorf("multicast to %d tokens throttled: %w", len(tokens), ErrRateLimited)
	}
	return result, nil
}

// SubscribeToTopic subscribes tokens to an FCM topic.
func (c *FCMClient) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	resp, err := c.client.SubscribeToTopic(ctx, tokens, topic)
	if err != nil {
		return wrapFCMError(fmt.Sprintf("failed to subscribe to topic %s", topic), err)
	}
	if resp.FailureCount > 0 {
		reason := "unknown"
		if len(resp.Errors) > 0 {
			reason = resp.Errors[0].Reason
		}
		return fmt.Errorf("failed to subscribe %d of %d tokens to topic %s: %s",
			resp.FailureCount, len(tokens), topic, reason)
	}
	return nil
}

func wrapFCMError(msg string, err error) error {
	if messaging.IsQuotaExceeded(err) {
		return fmt.Errorf("%s: %w: %v", msg, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func notificationFor(msg Message) *messaging.Notification {
	if msg.DataOnly() {
		return nil
	}
	return &messaging.Notification{
		Title: msg.Title,
		Body:  msg.Body,
	}
}

func androidConfig(msg Message) *messaging.AndroidConfig {
	h := msg.Hints
	if h == nil {
		return nil
	}
	cfg := &messaging.AndroidConfig{Priority: h.AndroidPriority}
	if msg.DataOnly() {
		return cfg
	}
	cfg.Notification = &messaging.AndroidNotification{
		Sound:     h.AndroidSound,
		ChannelID: h.AndroidChannelID,
	}
	if h.AndroidNotifyMax {
		cfg.Notification.Priority = messaging.PriorityMax
	}
	return cfg
}

func apnsConfig(msg Message) *messaging.APNSConfig {
	h := msg.Hints
	if h == nil {
		return nil
	}
	aps := &messaging.Aps{
		Badge:            h.APNSBadge,
		ContentAvailable: h.APNSContentAvailable || msg.DataOnly(),
	}
	if !msg.DataOnly() {
		aps.Sound = h.APNSSound
	}
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{Aps: aps},
	}
}

func shortToken(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}
