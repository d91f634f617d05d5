package notification

import (
	"context"
	"sync"
	"time"
)

type MockStore struct {
	FindByKeyFunc        func(ctx context.Context, key Key) (*Notification, error)
	FindByIDFunc         func(ctx context.Context, userID, id string) (*Notification, error)
	CreateFunc           func(ctx context.Context, n *Notification) error
	UpdateByIDFunc       func(ctx context.Context, id, message string) (*Notification, error)
	MarkReadFunc         func(ctx context.Context, userID string, sel ReadSelector) (int64, error)
	DeleteOldReadFunc    func(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteAllForUserFunc func(ctx context.Context, userID string) (int64, error)
	ListForUserFunc      func(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error)
	CountUnreadFunc      func(ctx context.Context, userID string) (int64, error)
}

func (m *MockStore) FindByKey(ctx context.Context, key Key) (*Notification, error) {
	return m.FindByKeyFunc(ctx, key)
}

func (m *MockStore) FindByID(ctx context.Context, userID, id string) (*Notification, error) {
	return m.FindByIDFunc(ctx, userID, id)
}

func (m *MockStore) Create(ctx context.Context, n *Notification) error {
	return m.CreateFunc(ctx, n)
}

func (m *MockStore) UpdateByID(ctx context.Context, id, message string) (*Notification, error) {
	return m.UpdateByIDFunc(ctx, id, message)
}

func (m *MockStore) MarkRead(ctx context.Context, userID string, sel ReadSelector) (int64, error) {
	return m.MarkReadFunc(ctx, userID, sel)
}

func (m *MockStore) DeleteOldRead(ctx context.Context, olderThan time.Time) (int64, error) {
	return m.DeleteOldReadFunc(ctx, olderThan)
}

func (m *MockStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return m.DeleteAllForUserFunc(ctx, userID)
}

func (m *MockStore) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error) {
	return m.ListForUserFunc(ctx, userID, opts)
}

func (m *MockStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	return m.CountUnreadFunc(ctx, userID)
}

// MockPushDeliverer records deliveries and answers through DeliverFunc.
type MockPushDeliverer struct {
	DeliverFunc func(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error)

	mu       sync.Mutex
	Payloads map[string][]byte
}

func (m *MockPushDeliverer) Deliver(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error) {
	m.mu.Lock()
	if m.Payloads == nil {
		m.Payloads = make(map[string][]byte)
	}
	m.Payloads[sub.Endpoint] = payload
	m.mu.Unlock()
	if m.DeliverFunc == nil {
		return PushDelivered, nil
	}
	return m.DeliverFunc(ctx, sub, payload)
}

func (m *MockPushDeliverer) Delivered() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.Payloads))
	for k, v := range m.Payloads {
		out[k] = v
	}
	return out
}

type SentEmail struct {
	To      string
	Subject string
	HTML    string
}

type MockEmailSender struct {
	SendFunc func(ctx context.Context, to, subject, html string) (EmailResult, error)

	mu   sync.Mutex
	Sent []SentEmail
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, html string) (EmailResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, SentEmail{To: to, Subject: subject, HTML: html})
	m.mu.Unlock()
	if m.SendFunc == nil {
		return EmailSent, nil
	}
	return m.SendFunc(ctx, to, subject, html)
}

func (m *MockEmailSender) Emails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.Sent...)
}

type Published struct {
	UserID  string
	Event   string
	Payload any
}

// MockRealtime records publishes; Connections decides how many connections a user has.
type MockRealtime struct {
	Connections map[string]int
	PublishFunc func(userID, event string, payload any) int

	mu        sync.Mutex
	Published []Published
}

func (m *MockRealtime) Publish(userID, event string, payload any) int {
	m.mu.Lock()
	m.Published = append(m.Published, Published{UserID: userID, Event: event, Payload: payload})
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(userID, event, payload)
	}
	return m.Connections[userID]
}

func (m *MockRealtime) Calls() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.Published...)
}
