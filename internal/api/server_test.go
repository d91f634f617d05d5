package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/apikey"
)

const (
	testJWTSecret = "test-jwt-secret"
	testKeySecret = "test-key-secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type dispatchCall struct {
	UserID string
	Event  notification.Event
	Email  string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) DispatchAsync(_ context.Context, userID string, ev notification.Event, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, dispatchCall{UserID: userID, Event: ev, Email: email})
	return nil
}

type fixture struct {
	handler    http.Handler
	store      *notification.MemoryStore
	dispatcher *fakeDispatcher
	serviceKey string
	seeded     *notification.Notification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := notification.NewMemoryStore(nil)
	subs := notification.NewMemorySubscriptionStore(nil)
	inbox := notification.NewInbox(store, subs, nil, nil, notification.Assets{}, testLogger())

	key, hash, err := apikey.GenerateKey(apikey.ServicePrefix, testKeySecret)
	if err != nil {
		t.Fatal(err)
	}
	seeded := &notification.Notification{UserID: "u1", Type: notification.TypeCustom, Message: "hello"}
	if err := store.Create(context.Background(), seeded); err != nil {
		t.Fatal(err)
	}

	d := &fakeDispatcher{}
	srv := NewServer(Options{
		Inbox:          inbox,
		Dispatcher:     d,
		VAPIDPublicKey: "BPublicKey",
		Auth:           Auth{ServiceKeySecret: testKeySecret, ServiceKeyHashes: []string{hash}},
		Checks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	}, testLogger())
	return &fixture{handler: srv.Routes(), store: store, dispatcher: d, serviceKey: key, seeded: seeded}
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		headers        map[string]string
		serviceKey     bool
		seededRead     bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "List requires caller",
			method:         "GET",
			path:           "/api/notifications",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Authentication required",
		},
		{
			name:           "List",
			method:         "GET",
			path:           "/api/notifications?unread=true&limit=10",
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusOK,
			expectedBody:   `"unreadCount":1`,
		},
		{
			name:           "List of other user is empty",
			method:         "GET",
			path:           "/api/notifications",
			headers:        map[string]string{"X-User-ID": "u2"},
			expectedStatus: http.StatusOK,
			expectedBody:   `"notifications":[]`,
		},
		{
			name:           "List rejects bad limit",
			method:         "GET",
			path:           "/api/notifications?limit=abc",
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "invalid limit",
		},
		{
			name:           "Unread count",
			method:         "GET",
			path:           "/api/notifications/unread-count",
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusOK,
			expectedBody:   `"count":1`,
		},
		{
			name:           "Mark read needs a selector",
			method:         "PUT",
			path:           "/api/notifications/read",
			body:           `{}`,
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "ids or all is required",
		},
		{
			name:           "Mark all read",
			method:         "PUT",
			path:           "/api/notifications/read",
			body:           `{"all":true}`,
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusOK,
			expectedBody:   `"updated":1`,
		},
		{
			name:           "Mark unknown notification read",
			method:         "PUT",
			path:           "/api/notifications/" + uuid.NewString() + "/read",
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusNotFound,
			expectedBody:   "Notification not found",
		},
		{
			name:           "Mark notification read",
			method:         "PUT",
			path:           "/api/notifications/{seeded}/read",
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusOK,
			expectedBody:   `"read":true`,
		},
		{
			name:           "Mark already read notification read again",
			method:         "PUT",
			path:           "/api/notifications/{seeded}/read",
			headers:        map[string]string{"X-User-ID": "u1"},
			seededRead:     true,
			expectedStatus: http.StatusOK,
			expectedBody:   `"read":true`,
		},
		{
			name:           "Subscribe without keys",
			method:         "POST",
			path:           "/api/push/subscribe",
			body:           `{"subscription":{"endpoint":"https://push.example/a"}}`,
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "endpoint and keys are required",
		},
		{
			name:           "Subscribe",
			method:         "POST",
			path:           "/api/push/subscribe",
			body:           `{"subscription":{"endpoint":"https://push.example/a","keys":{"p256dh":"p","auth":"a"}}}`,
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusCreated,
			expectedBody:   "saved successfully",
		},
		{
			name:           "Unsubscribe unknown endpoint",
			method:         "POST",
			path:           "/api/push/unsubscribe",
			body:           `{"endpoint":"https://push.example/none"}`,
			headers:        map[string]string{"X-User-ID": "u1"},
			expectedStatus: http.StatusNotFound,
			expectedBody:   "Subscription not found",
		},
		{
			name:           "VAPID key is public",
			method:         "GET",
			path:           "/api/push/vapid-public-key",
			expectedStatus: http.StatusOK,
			expectedBody:   `"publicKey":"BPublicKey"`,
		},
		{
			name:           "Internal dispatch requires service key",
			method:         "POST",
			path:           "/internal/dispatch",
			body:           `{"user_id":"u1","type":"custom","data":{"message":"hi"}}`,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Invalid service key",
		},
		{
			name:           "Internal dispatch rejects unknown type",
			method:         "POST",
			path:           "/internal/dispatch",
			body:           `{"user_id":"u1","type":"birthday"}`,
			serviceKey:     true,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "invalid type",
		},
		{
			name:           "Internal dispatch",
			method:         "POST",
			path:           "/internal/dispatch",
			body:           `{"user_id":"u1","type":"custom","data":{"message":"hi"}}`,
			serviceKey:     true,
			expectedStatus: http.StatusAccepted,
			expectedBody:   `"accepted":true`,
		},
		{
			name:           "Delete user",
			method:         "DELETE",
			path:           "/internal/users/u1",
			serviceKey:     true,
			expectedStatus: http.StatusOK,
			expectedBody:   `"notifications":1`,
		},
		{
			name:           "Health",
			method:         "GET",
			path:           "/health",
			expectedStatus: http.StatusOK,
			expectedBody:   `"database":"ok"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.seededRead {
				if _, err := f.store.MarkRead(context.Background(), "u1", notification.ReadSelector{IDs: []string{f.seeded.ID}}); err != nil {
					t.Fatal(err)
				}
			}

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, strings.ReplaceAll(tt.path, "{seeded}", f.seeded.ID), body)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.serviceKey {
				req.Header.Set("X-API-Key", f.serviceKey)
			}
			w := httptest.NewRecorder()

			f.handler.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d (%s)", tt.expectedStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.expectedBody) {
				t.Errorf("Expected body to contain '%s', got '%s'", tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestServer_DispatchForwardsEvent(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/internal/dispatch", strings.NewReader(
		`{"user_id":"u9","recipient_email":"u9@example.com","type":"new_todo","data":{"todo":{"id":"t1","title":"Buy milk"}}}`))
	req.Header.Set("X-API-Key", f.serviceKey)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(f.dispatcher.calls))
	}
	call := f.dispatcher.calls[0]
	if call.UserID != "u9" || call.Email != "u9@example.com" {
		t.Errorf("call = %+v", call)
	}
	created, ok := call.Event.(notification.TodoCreated)
	if !ok || created.Todo.ID != "t1" {
		t.Errorf("event = %#v, want TodoCreated for t1", call.Event)
	}
}

func TestServer_DispatchRejectedWhenClosed(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = notification.ErrRunnerClosed

	req := httptest.NewRequest("POST", "/internal/dispatch", strings.NewReader(`{"user_id":"u1","type":"custom","data":{"message":"hi"}}`))
	req.Header.Set("X-API-Key", f.serviceKey)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestServer_MarkOneRead(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("PUT", "/api/notifications/"+f.seeded.ID+"/read", nil)
	req.Header.Set("X-User-ID", "u2")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign user status = %d, want 404", w.Code)
	}

	req = httptest.NewRequest("PUT", "/api/notifications/"+f.seeded.ID+"/read", nil)
	req.Header.Set("X-User-ID", "u1")
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("owner status = %d, body %s", w.Code, w.Body.String())
	}
	if n, _ := f.store.CountUnread(context.Background(), "u1"); n != 0 {
		t.Errorf("unread after mark = %d", n)
	}

	req = httptest.NewRequest("PUT", "/api/notifications/"+f.seeded.ID+"/read", nil)
	req.Header.Set("X-User-ID", "u1")
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("repeated mark status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestServer_HealthDegraded(t *testing.T) {
	srv := NewServer(Options{
		Checks: map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	}, testLogger())
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestServer_VAPIDKeyMissing(t *testing.T) {
	srv := NewServer(Options{}, testLogger())
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/api/push/vapid-public-key", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAuth_UserID(t *testing.T) {
	valid, err := GenerateToken(testJWTSecret, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := GenerateToken("other-secret", "u1", time.Hour)
	expired, _ := GenerateToken(testJWTSecret, "u1", -time.Minute)

	tests := []struct {
		name    string
		secret  string
		headers map[string]string
		wantID  string
		wantErr error
	}{
		{"gateway header", "", map[string]string{"X-User-ID": "u7"}, "u7", nil},
		{"no header", "", nil, "", ErrMissingCredentials},
		{"bearer token", testJWTSecret, map[string]string{"Authorization": "Bearer " + valid}, "u1", nil},
		{"header ignored with secret", testJWTSecret, map[string]string{"X-User-ID": "u7"}, "", ErrMissingCredentials},
		{"wrong signature", testJWTSecret, map[string]string{"Authorization": "Bearer " + foreign}, "", ErrInvalidToken},
		{"expired", testJWTSecret, map[string]string{"Authorization": "Bearer " + expired}, "", ErrInvalidToken},
		{"not bearer", testJWTSecret, map[string]string{"Authorization": "Basic abc"}, "", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			id, err := Auth{JWTSecret: tt.secret}.UserID(req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestAuth_WebSocket(t *testing.T) {
	token, _ := GenerateToken(testJWTSecret, "u1", time.Hour)

	anon := Auth{}.WebSocket()
	if id, err := anon(httptest.NewRequest("GET", "/ws", nil)); err != nil || id != "" {
		t.Errorf("anonymous = %q, %v", id, err)
	}

	auth := Auth{JWTSecret: testJWTSecret}.WebSocket()
	if id, err := auth(httptest.NewRequest("GET", "/ws?token="+token, nil)); err != nil || id != "u1" {
		t.Errorf("query token = %q, %v", id, err)
	}
	if _, err := auth(httptest.NewRequest("GET", "/ws", nil)); err == nil {
		t.Error("expected error without token")
	}
}

func TestServer_BearerAuthOnRoutes(t *testing.T) {
	store := notification.NewMemoryStore(nil)
	inbox := notification.NewInbox(store, notification.NewMemorySubscriptionStore(nil), nil, nil, notification.Assets{}, testLogger())
	srv := NewServer(Options{Inbox: inbox, Auth: Auth{JWTSecret: testJWTSecret}}, testLogger())
	h := srv.Routes()

	token, _ := GenerateToken(testJWTSecret, "u1", time.Hour)
	req := httptest.NewRequest("GET", "/api/notifications/unread-count", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/notifications/unread-count", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "Invalid token") {
		t.Errorf("garbage token: %d %s", w.Code, w.Body.String())
	}
}
