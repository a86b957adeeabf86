package model

import "time"

// CacheGeneration is one named snapshot of cached responses, one per deployed version.
type CacheGeneration struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheEntry is a stored response snapshot keyed by request within a generation.
type CacheEntry struct {
	Generation string              `json:"generation"`
	RequestKey string              `json:"request_key"`
	Status     int                 `json:"status"`
	Header     map[string][]string `json:"header"`
	Body       []byte              `json:"-"`
	StoredAt   time.Time           `json:"stored_at"`
}
