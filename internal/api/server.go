// Package api is the HTTP surface of the notification service: the inbox queries used
// by the web client, push subscription registration and the internal dispatch intake.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/jsonutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Inbox is the read side the handlers query.
type Inbox interface {
	List(ctx context.Context, userID string, opts notification.ListOptions) ([]*notification.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID string, sel notification.ReadSelector) (int64, error)
	MarkOneRead(ctx context.Context, userID, id string) (*notification.Notification, error)
	Subscribe(ctx context.Context, sub *notification.Subscription) (bool, error)
	Unsubscribe(ctx context.Context, userID, endpoint string) (bool, error)
	DeleteUser(ctx context.Context, userID string) (notifications, subscriptions int64, err error)
}

// AsyncDispatcher schedules a dispatch without waiting for it.
type AsyncDispatcher interface {
	DispatchAsync(ctx context.Context, userID string, ev notification.Event, recipientEmail string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Inbox      Inbox
	Dispatcher AsyncDispatcher
	// WebSocket serves /ws. Nil leaves the route unregistered.
	WebSocket http.Handler
	// VAPIDPublicKey is handed to browsers subscribing to push. Empty answers 503.
	VAPIDPublicKey string
	Auth           Auth
	Checks         map[string]HealthCheck
	Version        string
}

// Server holds the handlers.
type Server struct {
	inbox      Inbox
	dispatcher AsyncDispatcher
	ws         http.Handler
	vapidKey   string
	auth       Auth
	checks     map[string]HealthCheck
	version    string
	logger     *slog.Logger
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		inbox:      opts.Inbox,
		dispatcher: opts.Dispatcher,
		ws:         opts.WebSocket,
		vapidKey:   opts.VAPIDPublicKey,
		auth:       opts.Auth,
		checks:     opts.Checks,
		version:    opts.Version,
		logger:     logger,
	}
}

// Routes builds the router. Everything but /ws and /metrics is traced.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	user := r.PathPrefix("/api").Subrouter()
	user.Use(s.auth.RequireUser)
	user.HandleFunc("/notifications", s.ListNotifications).Methods("GET")
	user.HandleFunc("/notifications/unread-count", s.UnreadCount).Methods("GET")
	user.HandleFunc("/notifications/read", s.MarkRead).Methods("PUT")
	user.HandleFunc("/notifications/{id}/read", s.MarkOneRead).Methods("PUT")
	user.HandleFunc("/push/subscribe", s.Subscribe).Methods("POST")
	user.HandleFunc("/push/unsubscribe", s.Unsubscribe).Methods("POST")

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(s.auth.RequireServiceKey)
	internal.HandleFunc("/dispatch", s.Dispatch).Methods("POST")
	internal.HandleFunc("/users/{id}", s.DeleteUser).Methods("DELETE")

	r.HandleFunc("/api/push/vapid-public-key", s.VAPIDPublicKey).Methods("GET")
	r.HandleFunc("/health", s.Health).Methods("GET")

	traced := otelhttp.NewHandler(r, "notifications-request")

	root := mux.NewRouter()
	root.Handle("/metrics", promhttp.Handler())
	if s.ws != nil {
		root.Handle("/ws", s.ws)
	}
	root.PathPrefix("/").Handler(traced)
	return root
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "active"
	if status != http.StatusOK {
		state = "degraded"
	}
	jsonutil.WriteJSON(w, status, map[string]any{
		"status":       state,
		"service":      "notifications",
		"version":      s.version,
		"dependencies": deps,
		"date":         time.Now().Format(time.DateTime),
	})
}

func (s *Server) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if s.vapidKey == "" {
		jsonutil.WriteError(w, http.StatusServiceUnavailable, "Push notifications are not configured")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"publicKey": s.vapidKey})
}
