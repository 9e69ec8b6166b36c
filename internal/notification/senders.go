package notification

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"floor-monitor-backend/internal/model"
)

// Channel names recorded in notification log entries.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelPush     = "push"
)

// ChannelSender delivers one message over an external channel. Failures are
// per-channel and must not affect other channels of the same dispatch.
type ChannelSender interface {
	Send(ctx context.Context, recipient, subject, body string, priority model.Priority) error
}

// ConsoleSender logs instead of calling a provider. It stands in for the
// email/SMS/WhatsApp gateways, whose wire formats live outside this service.
type ConsoleSender struct {
	Channel string
}

// Send logs the outbound message.
func (s *ConsoleSender) Send(_ context.Context, recipient, subject, body string, priority model.Priority) error {
	log.Printf("[%s] to=%s priority=%s subject=%q body=%q", s.Channel, recipient, priority, subject, body)
	return nil
}

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real PushSender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}
