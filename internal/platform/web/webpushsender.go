// Package web implements the push transport over the Web Push protocol using
// VAPID authentication.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
	"github.com/tinywideclouds/go-pusher-service/pusherservice/config"
)

const defaultTTL = 60

// Sender delivers payloads through webpush-go and classifies the response
// into the tagged PushError taxonomy: 410/404 mean the subscription is dead,
// anything else that fails is transient.
type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewSender builds the transport. A nil httpClient falls back to a default
// client; tests inject one that targets a fake push server.
func NewSender(cfg config.VapidConfig, httpClient *http.Client, logger *slog.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Sender{
		subscriber: cfg.SubscriberEmail,
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: httpClient,
	}
}

func (s *Sender) Send(ctx context.Context, sub pusher.Subscription, payload []byte) error {
	// Defense in depth: malformed key material stored before validation was
	// tightened fails the send, it does not panic inside the crypto layer.
	if err := pusher.ValidateKeys(sub.Keys); err != nil {
		return &pusher.PushError{Kind: pusher.PushTransient, Err: err}
	}

	wsub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, wsub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             defaultTTL,
		HTTPClient:      s.httpClient,
	})
	if err != nil {
		// Transport error (DNS, timeout, encryption) - not a push service verdict.
		return &pusher.PushError{Kind: pusher.PushTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	kind := pusher.ClassifyPushStatus(resp.StatusCode)
	if kind == pusher.PushTransient {
		s.logger.Warn("Push service rejected notification", "status", resp.StatusCode, "endpoint", sub.Endpoint)
	}
	return &pusher.PushError{Kind: kind, StatusCode: resp.StatusCode}
}
