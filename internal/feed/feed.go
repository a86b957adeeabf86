// Package feed reads the user's schedule and clock-in state from the
// time-tracking server.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/fichador/internal/model"
)

// ErrNotLoggedIn is returned when the server answers with anything but a
// JSON success, typically a redirect to the login page.
var ErrNotLoggedIn = errors.New("not logged in")

// Snapshot is the state a monitor run starts from.
type Snapshot struct {
	Schedules       []model.ScheduleEntry
	HasActiveRecord bool
}

// Client fetches the schedule feed.
type Client struct {
	baseURL    string
	cookie     string
	httpClient *http.Client
}

func NewClient(baseURL, cookie string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Schedules returns the configured work-schedule windows.
func (c *Client) Schedules(ctx context.Context) ([]model.ScheduleEntry, error) {
	var entries []model.ScheduleEntry
	if err := c.get(ctx, "/api/schedules", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ActiveRecord reports whether the user is clocked in.
func (c *Client) ActiveRecord(ctx context.Context) (bool, error) {
	var status model.ActiveRecordStatus
	if err := c.get(ctx, "/api/active_record", &status); err != nil {
		return false, err
	}
	return status.HasActiveRecord, nil
}

// Fetch reads both endpoints. Either failing fails the snapshot.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	schedules, err := c.Schedules(ctx)
	if err != nil {
		return nil, err
	}
	active, err := c.ActiveRecord(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Schedules: schedules, HasActiveRecord: active}, nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", ErrNotLoggedIn, path, resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/html" {
		return fmt.Errorf("%w: %s returned html", ErrNotLoggedIn, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
