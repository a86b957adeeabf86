// Package config reads the fichador settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

var ErrMissingOrigin = errors.New("FICHADOR_ORIGIN is not set")

// Permission answers accepted by FICHADOR_NOTIFICATION_PERMISSION.
const (
	PermissionPrompt  = "prompt"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Config holds the settings shared by the worker and page processes.
type Config struct {
	Origin                 string
	Listen                 string
	DBPath                 string
	CacheVersion           string
	LogLevel               string
	VAPIDPublicKey         string
	VAPIDPrivateKey        string
	VAPIDSubject           string
	PushEndpointBase       string
	WorkerURL              string
	SessionCookie          string
	NotificationPermission string
	FeedRefresh            string
	OpenCommand            string
	TrustProxy             bool
}

// Load reads configuration from environment variables and a .env file, if
// present. Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Origin:                 strings.TrimRight(os.Getenv("FICHADOR_ORIGIN"), "/"),
		Listen:                 getenv("FICHADOR_LISTEN", ":8090"),
		DBPath:                 getenv("FICHADOR_DB_PATH", "fichador.db"),
		CacheVersion:           getenv("FICHADOR_CACHE_VERSION", "v2.0.0"),
		LogLevel:               strings.ToLower(getenv("FICHADOR_LOG_LEVEL", "info")),
		VAPIDPublicKey:         os.Getenv("FICHADOR_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:        os.Getenv("FICHADOR_VAPID_PRIVATE_KEY"),
		VAPIDSubject:           os.Getenv("FICHADOR_VAPID_SUBJECT"),
		WorkerURL:              strings.TrimRight(getenv("FICHADOR_WORKER_URL", "http://localhost:8090"), "/"),
		SessionCookie:          os.Getenv("FICHADOR_SESSION_COOKIE"),
		NotificationPermission: strings.ToLower(getenv("FICHADOR_NOTIFICATION_PERMISSION", PermissionPrompt)),
		FeedRefresh:            getenv("FICHADOR_FEED_REFRESH", "*/15 * * * *"),
		OpenCommand:            getenv("FICHADOR_OPEN_COMMAND", "xdg-open"),
	}

	if v := os.Getenv("FICHADOR_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FICHADOR_TRUST_PROXY: %w", err)
		}
		cfg.TrustProxy = trust
	}

	cfg.PushEndpointBase = strings.TrimRight(os.Getenv("FICHADOR_PUSH_ENDPOINT_BASE"), "/")
	if cfg.PushEndpointBase == "" {
		base, err := endpointBase(cfg.Listen)
		if err != nil {
			return nil, err
		}
		cfg.PushEndpointBase = base
	}

	switch cfg.NotificationPermission {
	case PermissionPrompt, PermissionGranted, PermissionDenied:
	default:
		return nil, fmt.Errorf("invalid FICHADOR_NOTIFICATION_PERMISSION %q", cfg.NotificationPermission)
	}

	if _, err := cron.ParseStandard(cfg.FeedRefresh); err != nil {
		return nil, fmt.Errorf("invalid FICHADOR_FEED_REFRESH: %w", err)
	}

	return cfg, nil
}

// OriginURL parses the origin. It is required by both processes.
func (c *Config) OriginURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, ErrMissingOrigin
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid FICHADOR_ORIGIN: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid FICHADOR_ORIGIN %q: want an absolute http(s) URL", c.Origin)
	}
	return u, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// endpointBase derives the push endpoint base from the worker's listen address.
func endpointBase(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid FICHADOR_LISTEN %q: %w", listen, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/_sw/push", nil
}
