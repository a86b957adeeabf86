package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON body a sender pushes. Receivers decode it leniently.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Data  PayloadData `json:"data"`
}

// PayloadData carries the click target and the notification id.
type PayloadData struct {
	URL string `json:"url,omitempty"`
	Nid string `json:"nid,omitempty"`
}

// Sender delivers encrypted pushes to a subscription endpoint with VAPID auth.
type Sender struct {
	publicKey  string
	privateKey string
	subject    string
	client     *http.Client
}

// NewSender creates a sender. A nil client uses http.DefaultClient.
func NewSender(publicKey, privateKey, subject string, client *http.Client) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sender{
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		client:     client,
	}
}

// VAPIDPublicKey returns the application server key subscriptions are bound to.
func (s *Sender) VAPIDPublicKey() string {
	return s.publicKey
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
func (s *Sender) Send(ctx context.Context, sub *webpush.Subscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, sub, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subject,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new P-256 key pair for VAPID, base64url encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
