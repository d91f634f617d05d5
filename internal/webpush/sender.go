// Package webpush delivers browser push notifications signed with the service's VAPID identity.
package webpush

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/zenlist/notifier/internal/notification"
)

var (
	// ErrSubscriptionGone is returned when the push service reports the endpoint as expired.
	ErrSubscriptionGone = errors.New("webpush: subscription gone")
	// ErrNotConfigured is returned by New when no VAPID key pair is set.
	ErrNotConfigured = errors.New("webpush: VAPID keys not configured")
)

const (
	defaultTTL     = 24 * 60 * 60
	defaultTimeout = 10 * time.Second
)

// Config is the process-wide VAPID identity.
type Config struct {
	PublicKey  string
	PrivateKey string
	// Subject is the operator contact: an https: URL or an email address.
	Subject string
	TTL     int
	Urgency string
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
}

// Sender implements notification.PushDeliverer.
type Sender struct {
	cfg    Config
	logger *slog.Logger
}

// New validates the VAPID key pair and returns a ready Sender.
func New(cfg Config, logger *slog.Logger) (*Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, ErrNotConfigured
	}
	if err := validateKeys(cfg.PublicKey, cfg.PrivateKey); err != nil {
		return nil, err
	}
	// the library adds mailto: itself
	cfg.Subject = strings.TrimPrefix(cfg.Subject, "mailto:")
	if cfg.Subject == "" {
		cfg.Subject = "support@zenlist.app"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	logger.Info("web push configured", "subject", cfg.Subject)
	return &Sender{cfg: cfg, logger: logger}, nil
}

// PublicKey is handed to browsers as the applicationServerKey.
func (s *Sender) PublicKey() string {
	return s.cfg.PublicKey
}

// Deliver encrypts payload for sub and posts it to the subscription endpoint.
// 404 and 410 answers mean the browser dropped the subscription.
func (s *Sender) Deliver(ctx context.Context, sub *notification.Subscription, payload []byte) (notification.PushResult, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.cfg.HTTPClient,
		Subscriber:      s.cfg.Subject,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.Urgency(s.cfg.Urgency),
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
	})
	if err != nil {
		return notification.PushFailed, fmt.Errorf("send push to %s: %w", sub.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		s.logger.Debug("push endpoint gone", "subscription_id", sub.ID, "status", resp.StatusCode)
		return notification.PushGone, ErrSubscriptionGone
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return notification.PushDelivered, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return notification.PushFailed, fmt.Errorf("push service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// GenerateKeys creates a new VAPID key pair, base64url encoded.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

func validateKeys(public, private string) error {
	pub, err := decodeKey(public)
	if err != nil {
		return fmt.Errorf("webpush: decode public key: %w", err)
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		return errors.New("webpush: public key is not an uncompressed P-256 point")
	}
	priv, err := decodeKey(private)
	if err != nil {
		return fmt.Errorf("webpush: decode private key: %w", err)
	}
	if len(priv) != 32 {
		return errors.New("webpush: private key must be 32 bytes")
	}
	return nil
}

func decodeKey(key string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(key); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(key)
}
