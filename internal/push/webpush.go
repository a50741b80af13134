package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

// NotificationSender sends one encrypted web push notification.
type NotificationSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real NotificationSender backed by webpush-go.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// WebPushClient delivers pushes to browsers through the Web Push protocol.
// Device tokens are JSON encoded push subscriptions.
type WebPushClient struct {
	options *webpush.Options
	sender  NotificationSender
}

// NewWebPushClient creates a client signing requests with the given VAPID options.
func NewWebPushClient(options *webpush.Options) *WebPushClient {
	return &WebPushClient{
		options: options,
		sender:  &WebPushSender{},
	}
}

// PublicKey returns the VAPID public key browsers subscribe with.
func (c *WebPushClient) PublicKey() string {
	return c.options.VAPIDPublicKey
}

type webPushPayload struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send delivers msg to a single subscription.
func (c *WebPushClient) Send(ctx context.Context, token string, msg Message) error {
	payload, err := encodeWebPush(msg)
	if err != nil {
		return err
	}
	return c.send(ctx, token, payload)
}

// SendMulticast sends msg to each subscription in turn. It stops at the first
// throttled response and reports ErrRateLimited.
func (c *WebPushClient) SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResult, error) {
	payload, err := encodeWebPush(msg)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := c.send(ctx, token, payload)
		if err == nil {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.FailedTokens = append(result.FailedTokens, token)
		if IsRateLimited(err) {
			return result, err
		}
		log.Printf("[WebPush] Failed to send to %s: %v", shortToken(token), err)
	}
	return result, nil
}

// SubscribeToTopic is not available for Web Push.
func (c *WebPushClient) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	return ErrTopicsUnsupported
}

func (c *WebPushClient) send(ctx context.Context, token string, payload []byte) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return fmt.Errorf("invalid push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("invalid push subscription: missing endpoint")
	}

	resp, err := c.sender.Send(ctx, payload, &sub, c.options)
	if err != nil {
		return fmt.Errorf("failed to send web push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("web push to %s: %w", sub.Endpoint, ErrRateLimited)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("web push to %s rejected with status %d", sub.Endpoint, resp.StatusCode)
	}
}

func encodeWebPush(msg Message) ([]byte, error) {
	payload, err := json.Marshal(webPushPayload{
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode web push payload: %w", err)
	}
	return payload, nil
}
