// Package subscription establishes and tears down the push subscription and
// keeps the remote registry in sync with the platform's own state.
package subscription

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

var (
	ErrMissingPublicKey = errors.New("VAPID public key not configured")
	ErrUnsupported      = errors.New("push not supported")
	ErrNoRegistration   = errors.New("worker registration not ready")
	ErrPermissionDenied = errors.New("notification permission denied")
)

// PushManager is the platform's push subscription facility.
type PushManager interface {
	// GetSubscription returns nil, nil when no subscription exists.
	GetSubscription(ctx context.Context) (*webpush.Subscription, error)
	Subscribe(ctx context.Context, applicationServerKey []byte) (*webpush.Subscription, error)
	// Unsubscribe reports false when there was nothing to remove.
	Unsubscribe(ctx context.Context) (bool, error)
}

// Manager drives the subscribe/unsubscribe lifecycle.
type Manager struct {
	registration Registration
	push         PushManager
	permissions  *Permissions
	registry     *Registry
	publicKey    string
	logger       *slog.Logger
}

// NewManager creates a manager. A nil push manager means the platform has no
// push support.
func NewManager(reg Registration, pm PushManager, perms *Permissions, registry *Registry, publicKey string, logger *slog.Logger) *Manager {
	return &Manager{
		registration: reg,
		push:         pm,
		permissions:  perms,
		registry:     registry,
		publicKey:    strings.TrimSpace(publicKey),
		logger:       logger,
	}
}

// Subscribe returns the active subscription, creating it if needed, after
// posting it to the registry. An existing subscription is re-posted rather
// than duplicated.
func (m *Manager) Subscribe(ctx context.Context) (*webpush.Subscription, error) {
	if err := m.registration.Ready(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRegistration, err)
	}
	if m.push == nil {
		return nil, ErrUnsupported
	}
	if m.publicKey == "" {
		return nil, ErrMissingPublicKey
	}

	if err := m.ensurePermission(ctx); err != nil {
		return nil, err
	}

	existing, err := m.push.GetSubscription(ctx)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if existing != nil {
		if err := m.registry.Subscribe(ctx, existing); err != nil {
			return nil, fmt.Errorf("refresh subscription: %w", err)
		}
		m.logger.Info("subscription refreshed", "endpoint", existing.Endpoint)
		return existing, nil
	}

	key, err := decodeServerKey(m.publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingPublicKey, err)
	}
	sub, err := m.push.Subscribe(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if err := m.registry.Subscribe(ctx, sub); err != nil {
		return nil, fmt.Errorf("register subscription: %w", err)
	}
	m.logger.Info("subscription created", "endpoint", sub.Endpoint)
	return sub, nil
}

// Unsubscribe removes the local subscription and the registry record. Both
// steps are attempted and failures are only logged.
func (m *Manager) Unsubscribe(ctx context.Context) error {
	if err := m.registration.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNoRegistration, err)
	}
	if m.push == nil {
		return ErrUnsupported
	}

	sub, err := m.push.GetSubscription(ctx)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		m.logger.Info("no active subscription")
		return nil
	}

	ok, err := m.push.Unsubscribe(ctx)
	if err != nil {
		m.logger.Warn("local unsubscribe failed", "error", err)
	} else if !ok {
		m.logger.Warn("local unsubscribe returned false")
	}

	if err := m.registry.Unsubscribe(ctx, sub.Endpoint); err != nil {
		m.logger.Warn("registry unsubscribe failed", "endpoint", sub.Endpoint, "error", err)
	}

	m.logger.Info("subscription removed", "endpoint", sub.Endpoint)
	return nil
}

// SendTest asks the server to push a test notification.
func (m *Manager) SendTest(ctx context.Context) error {
	if err := m.registry.Test(ctx); err != nil {
		return err
	}
	m.logger.Info("test push requested")
	return nil
}

// Resync re-posts an existing subscription without prompting or creating one.
func (m *Manager) Resync(ctx context.Context) error {
	if m.push == nil {
		return ErrUnsupported
	}
	sub, err := m.push.GetSubscription(ctx)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return nil
	}
	if err := m.registry.Subscribe(ctx, sub); err != nil {
		return fmt.Errorf("resync subscription: %w", err)
	}
	return nil
}

func (m *Manager) ensurePermission(ctx context.Context) error {
	perm, err := m.permissions.Get()
	if err != nil {
		return fmt.Errorf("read permission: %w", err)
	}
	switch perm {
	case PermissionGranted:
		return nil
	case PermissionDenied:
		return ErrPermissionDenied
	}

	perm, err = m.permissions.Request(ctx)
	if err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	if perm != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// decodeServerKey accepts base64url or standard base64, padded or not.
func decodeServerKey(s string) ([]byte, error) {
	s = strings.NewReplacer("+", "-", "/", "_").Replace(strings.TrimRight(s, "="))
	key, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode server key: %w", err)
	}
	return key, nil
}
