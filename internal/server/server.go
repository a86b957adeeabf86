package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/dukerupert/fichador/internal/handler"
	"github.com/dukerupert/fichador/internal/middleware"
	ws "github.com/dukerupert/fichador/internal/websocket"
	"github.com/dukerupert/fichador/internal/worker"
)

// Config wires the worker's HTTP surface.
type Config struct {
	Origin      *url.URL
	Worker      *worker.Worker
	Hub         *ws.Hub
	Receivers   handler.ReceiverLookup
	RateLimiter *middleware.RateLimiter
	// TrustProxy keys the push rate limit on X-Forwarded-For.
	TrustProxy bool
	Logger     *slog.Logger
}

type Server struct {
	origin      *url.URL
	worker      *worker.Worker
	hub         *ws.Hub
	pushH       *handler.PushHandler
	workerH     *handler.WorkerHandler
	proxy       *httputil.ReverseProxy
	rateLimiter *middleware.RateLimiter
	trustProxy  bool
	logger      *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	s := &Server{
		origin:      cfg.Origin,
		worker:      cfg.Worker,
		hub:         cfg.Hub,
		pushH:       handler.NewPushHandler(cfg.Worker, cfg.Receivers, logger.With("component", "push_handler")),
		workerH:     handler.NewWorkerHandler(cfg.Worker, logger.With("component", "worker_handler")),
		rateLimiter: cfg.RateLimiter,
		trustProxy:  cfg.TrustProxy,
		logger:      logger,
	}
	s.proxy = s.newProxy()

	// Pages talk to the worker over the same channel the worker uses to
	// reach them.
	hubLogger := logger.With("component", "websocket")
	cfg.Hub.OnMessage(func(ctx context.Context, c *ws.Client, msg ws.Message) {
		if err := cfg.Worker.Message(ctx, msg); err != nil {
			hubLogger.Warn("page message", "type", msg.Type, "url", c.URL(), "error", err)
		}
	})

	return s
}

func (s *Server) newProxy() *httputil.ReverseProxy {
	proxyLogger := s.logger.With("component", "proxy")
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(s.origin)
			r.SetXForwarded()
		},
		Transport: s.worker,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			proxyLogger.Warn("origin unreachable", "path", r.URL.Path, "error", err)
			http.Error(w, "Bad gateway", http.StatusBadGateway)
		},
	}
}

// RateLimiter returns the push endpoint's rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Platform endpoints
	mux.Handle("POST /_sw/push/{id}", middleware.RateLimit(s.rateLimiter, s.trustProxy)(http.HandlerFunc(s.pushH.Deliver)))
	mux.HandleFunc("POST /_sw/notificationclick", s.workerH.NotificationClick)
	mux.HandleFunc("POST /_sw/message", s.workerH.Message)
	mux.HandleFunc("GET /_sw/clients", ws.HandleWebSocket(s.hub))

	// Everything else is the origin, seen through the worker
	mux.Handle("/", s.proxy)

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"state":   s.worker.State().String(),
		"cache":   s.worker.Cache().Current(),
		"clients": s.hub.ClientCount(),
	})
}
