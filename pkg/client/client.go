// Package client is the Go SDK for the notification service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zenlist/notifier/internal/notification"
)

const (
	DefaultBaseURL = "http://localhost:8085"
)

// APIError is returned for responses with a status of 400 or above.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status=%d", e.Status)
	}
	return fmt.Sprintf("api error: status=%d: %s", e.Status, e.Message)
}

// Client is the main entry point for the SDK.
type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	token      string
	httpClient *http.Client

	Notifications *NotificationsService
	Push          *PushService
	Internal      *InternalService
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new client. apiKey is the service key sent on /internal routes
// and may be empty for user-only callers.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Notifications = &NotificationsService{client: c}
	c.Push = &PushService{client: c}
	c.Internal = &InternalService{client: c}

	return c
}

// WithBaseURL sets the base URL for the client.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUser acts as userID through the gateway header.
func WithUser(userID string) ClientOption {
	return func(c *Client) {
		c.userID = userID
	}
}

// WithToken authenticates user calls with a bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// NotificationsService reads and marks the caller's notifications.
type NotificationsService struct {
	client *Client
}

type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

type ListResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
	UnreadCount   int64                        `json:"unreadCount"`
	Limit         int                          `json:"limit"`
	Offset        int                          `json:"offset"`
}

func (s *NotificationsService) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	q := url.Values{}
	if opts.UnreadOnly {
		q.Set("unread", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res ListResponse
	err := s.client.do(ctx, http.MethodGet, path, nil, &res)
	return &res, err
}

func (s *NotificationsService) UnreadCount(ctx context.Context) (int64, error) {
	var res struct {
		Count int64 `json:"count"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &res)
	return res.Count, err
}

// MarkRead marks ids read and returns how many changed.
func (s *NotificationsService) MarkRead(ctx context.Context, ids ...string) (int64, error) {
	return s.markRead(ctx, map[string]any{"ids": ids})
}

func (s *NotificationsService) MarkAllRead(ctx context.Context) (int64, error) {
	return s.markRead(ctx, map[string]any{"all": true})
}

func (s *NotificationsService) markRead(ctx context.Context, body map[string]any) (int64, error) {
	var res struct {
		Updated int64 `json:"updated"`
	}
	err := s.client.do(ctx, http.MethodPut, "/api/notifications/read", body, &res)
	return res.Updated, err
}

// PushService handles Web Push registration.
type PushService struct {
	client *Client
}

func (s *PushService) VAPIDPublicKey(ctx context.Context) (string, error) {
	var res struct {
		PublicKey string `json:"publicKey"`
	}
	err := s.client.do(ctx, http.MethodGet, "/api/push/vapid-public-key", nil, &res)
	return res.PublicKey, err
}

// InternalService calls the service-key protected routes.
type InternalService struct {
	client *Client
}

// Dispatch hands a notification to the service. It returns once the task was accepted.
func (s *InternalService) Dispatch(ctx context.Context, task *notification.DispatchTask) error {
	return s.client.do(ctx, http.MethodPost, "/internal/dispatch", task, nil)
}

type DeleteUserResponse struct {
	UserID        string `json:"userId"`
	Notifications int64  `json:"notifications"`
	Subscriptions int64  `json:"subscriptions"`
}

func (s *InternalService) DeleteUser(ctx context.Context, userID string) (*DeleteUserResponse, error) {
	var res DeleteUserResponse
	err := s.client.do(ctx, http.MethodDelete, "/internal/users/"+url.PathEscape(userID), nil, &res)
	return &res, err
}
