package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/parlorchat/parlor/internal/subscription"
)

const defaultPushTTL = 30

var (
	errMissingVAPIDKeys  = errors.New("notify: vapid key pair is required")
	errMissingSubscriber = errors.New("notify: subscriber contact is required")
)

// WebPushSenderConfig bundles the server-held VAPID key pair and the fixed
// sender identity claim attached to every delivery.
type WebPushSenderConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	HTTPClient      *http.Client
}

// WebPushSender delivers payloads over the Web Push protocol.
type WebPushSender struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
	httpClient *http.Client
}

// NewWebPushSender constructs a sender with validated configuration.
func NewWebPushSender(cfg WebPushSenderConfig) (*WebPushSender, error) {
	publicKey := strings.TrimSpace(cfg.VAPIDPublicKey)
	privateKey := strings.TrimSpace(cfg.VAPIDPrivateKey)
	if publicKey == "" || privateKey == "" {
		return nil, errMissingVAPIDKeys
	}
	subscriber := strings.TrimSpace(cfg.Subscriber)
	if subscriber == "" {
		return nil, errMissingSubscriber
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPushTTL
	}
	return &WebPushSender{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		ttl:        ttl,
		httpClient: cfg.HTTPClient,
	}, nil
}

// Send encrypts the payload for the subscription's key material and posts it
// to the subscription endpoint.
func (s *WebPushSender) Send(ctx context.Context, record subscription.Record, payload string) error {
	target := &webpush.Subscription{
		Endpoint: record.Endpoint,
		Keys: webpush.Keys{
			Auth:   record.AuthKey,
			P256dh: record.P256dhKey,
		},
	}
	options := &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
	}
	if s.httpClient != nil {
		options.HTTPClient = s.httpClient
	}

	response, err := webpush.SendNotificationWithContext(ctx, []byte(payload), target, options)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: push endpoint returned status %d", response.StatusCode)
	}
	return nil
}
