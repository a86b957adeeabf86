package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Registry is the server-side push subscription registry.
type Registry struct {
	baseURL    string
	cookie     string
	httpClient *http.Client
}

// NewRegistry creates a registry client. cookie is sent as the Cookie header
// so requests carry the user's session.
func NewRegistry(baseURL, cookie string) *Registry {
	return &Registry{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type testResponse struct {
	OK bool `json:"ok"`
}

// Subscribe posts the subscription's serialized form.
func (r *Registry) Subscribe(ctx context.Context, sub *webpush.Subscription) error {
	resp, err := r.post(ctx, "/api/push/subscribe", sub)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "/api/push/subscribe")
}

// Unsubscribe invalidates the registry record for endpoint.
func (r *Registry) Unsubscribe(ctx context.Context, endpoint string) error {
	resp, err := r.post(ctx, "/api/push/unsubscribe", unsubscribeRequest{Endpoint: endpoint})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "/api/push/unsubscribe")
}

// Test requests a server-originated test push.
func (r *Registry) Test(ctx context.Context) error {
	resp, err := r.post(ctx, "/api/push/test", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "/api/push/test"); err != nil {
		return err
	}

	var result testResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode test response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("test push: server returned ok=false")
	}
	return nil
}

func (r *Registry) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cookie != "" {
		req.Header.Set("Cookie", r.cookie)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(text)))
}
