package subscription

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Registration reports whether the background worker is up and ready.
type Registration interface {
	Ready(ctx context.Context) error
}

// HealthRegistration checks the worker's health endpoint.
type HealthRegistration struct {
	url        string
	httpClient *http.Client
}

func NewHealthRegistration(workerURL string) *HealthRegistration {
	return &HealthRegistration{
		url:        strings.TrimRight(workerURL, "/") + "/health",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *HealthRegistration) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("check worker health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker health returned %d", resp.StatusCode)
	}
	return nil
}
