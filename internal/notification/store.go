package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateKey is returned by Store.Create when the dedup key already exists.
	ErrDuplicateKey = errors.New("notification: duplicate key")
	ErrNotFound     = errors.New("notification: not found")
	ErrInvalidType  = errors.New("notification: invalid type")
)

// Store persists notifications. Implementations must enforce uniqueness of the dedup key
// for rows that are not Repeatable.
type Store interface {
	FindByKey(ctx context.Context, key Key) (*Notification, error)
	// FindByID returns the notification id owned by userID, or ErrNotFound.
	FindByID(ctx context.Context, userID, id string) (*Notification, error)
	Create(ctx context.Context, n *Notification) error
	UpdateByID(ctx context.Context, id, message string) (*Notification, error)
	MarkRead(ctx context.Context, userID string, sel ReadSelector) (int64, error)
	DeleteOldRead(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// SubscriptionStore persists push subscriptions keyed by (user, endpoint).
type SubscriptionStore interface {
	// Upsert inserts sub or refreshes the keys of an existing (user, endpoint) row.
	// It reports whether a new row was created.
	Upsert(ctx context.Context, sub *Subscription) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*Subscription, error)
	Delete(ctx context.Context, userID, endpoint string) (bool, error)
	DeleteByID(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteUnusedSince(ctx context.Context, cutoff time.Time) (int64, error)
}
