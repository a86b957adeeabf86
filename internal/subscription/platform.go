package subscription

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/dukerupert/fichador/internal/store"
)

// PlatformKey is the KV key holding the platform's subscription state.
const PlatformKey = "platform:push_subscription"

type platformState struct {
	ID                   string `json:"id"`
	Endpoint             string `json:"endpoint"`
	PrivateKey           string `json:"private_key"`
	Auth                 string `json:"auth"`
	ApplicationServerKey string `json:"application_server_key"`
}

// Receiver holds what the worker needs to decrypt pushes for a subscription.
type Receiver struct {
	ID         string
	Endpoint   string
	PrivateKey *ecdh.PrivateKey
	Auth       []byte
}

// StoredPushManager is the platform push facility. Its subscription state
// lives in the shared KV store, so the worker and the page see the same
// subscription.
type StoredPushManager struct {
	kv           *store.KVStore
	endpointBase string
}

func NewStoredPushManager(kv *store.KVStore, endpointBase string) *StoredPushManager {
	return &StoredPushManager{kv: kv, endpointBase: strings.TrimRight(endpointBase, "/")}
}

func (m *StoredPushManager) load() (*platformState, error) {
	var st platformState
	found, err := m.kv.Get(PlatformKey, &st)
	if err != nil {
		return nil, fmt.Errorf("load platform subscription: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &st, nil
}

func (st *platformState) subscription() (*webpush.Subscription, error) {
	r, err := st.receiver()
	if err != nil {
		return nil, err
	}
	return &webpush.Subscription{
		Endpoint: st.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(r.PrivateKey.PublicKey().Bytes()),
			Auth:   st.Auth,
		},
	}, nil
}

func (st *platformState) receiver() (*Receiver, error) {
	raw, err := base64.RawURLEncoding.DecodeString(st.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(st.Auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth secret: %w", err)
	}
	return &Receiver{ID: st.ID, Endpoint: st.Endpoint, PrivateKey: priv, Auth: auth}, nil
}

func (m *StoredPushManager) GetSubscription(ctx context.Context) (*webpush.Subscription, error) {
	st, err := m.load()
	if err != nil || st == nil {
		return nil, err
	}
	return st.subscription()
}

// Subscribe creates a subscription bound to applicationServerKey. An existing
// subscription is returned as is.
func (m *StoredPushManager) Subscribe(ctx context.Context, applicationServerKey []byte) (*webpush.Subscription, error) {
	st, err := m.load()
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st.subscription()
	}

	if _, err := ecdh.P256().NewPublicKey(applicationServerKey); err != nil {
		return nil, fmt.Errorf("invalid application server key: %w", err)
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate subscription key: %w", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}

	id := uuid.NewString()
	st = &platformState{
		ID:                   id,
		Endpoint:             m.endpointBase + "/" + id,
		PrivateKey:           base64.RawURLEncoding.EncodeToString(priv.Bytes()),
		Auth:                 base64.RawURLEncoding.EncodeToString(auth),
		ApplicationServerKey: base64.RawURLEncoding.EncodeToString(applicationServerKey),
	}
	if err := m.kv.Set(PlatformKey, st); err != nil {
		return nil, fmt.Errorf("save platform subscription: %w", err)
	}
	return st.subscription()
}

func (m *StoredPushManager) Unsubscribe(ctx context.Context) (bool, error) {
	st, err := m.load()
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	if err := m.kv.Delete(PlatformKey); err != nil {
		return false, fmt.Errorf("delete platform subscription: %w", err)
	}
	return true, nil
}

// Lookup returns the receiver for endpoint id, or nil, nil when id is not the
// active subscription.
func (m *StoredPushManager) Lookup(id string) (*Receiver, error) {
	st, err := m.load()
	if err != nil || st == nil {
		return nil, err
	}
	if st.ID != id {
		return nil, nil
	}
	return st.receiver()
}
