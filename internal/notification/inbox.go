package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidSubscription is returned for subscriptions missing an endpoint or keys.
var ErrInvalidSubscription = errors.New("notification: invalid push subscription")

// Inbox is the read side used by the HTTP layer: listing, read marking, push
// subscription management and account deletion.
type Inbox struct {
	store  Store
	subs   SubscriptionStore
	push   PushDeliverer
	runner *Runner
	assets Assets
	logger *slog.Logger
}

// NewInbox wires the read side. push and runner may be nil, which disables the
// welcome notification sent to freshly registered subscriptions.
func NewInbox(store Store, subs SubscriptionStore, push PushDeliverer, runner *Runner, assets Assets, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{store: store, subs: subs, push: push, runner: runner, assets: assets, logger: logger}
}

func (i *Inbox) List(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error) {
	return i.store.ListForUser(ctx, userID, opts)
}

func (i *Inbox) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return i.store.CountUnread(ctx, userID)
}

// MarkRead marks the selected notifications of userID read. Ids that are not UUIDs
// cannot name a stored notification and are ignored.
func (i *Inbox) MarkRead(ctx context.Context, userID string, sel ReadSelector) (int64, error) {
	if !sel.All {
		ids := make([]string, 0, len(sel.IDs))
		for _, id := range sel.IDs {
			if _, err := uuid.Parse(id); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return 0, nil
		}
		sel.IDs = ids
	}
	return i.store.MarkRead(ctx, userID, sel)
}

// MarkOneRead marks one notification of userID read and returns it. Marking an already
// read notification succeeds; ErrNotFound means the id does not belong to userID.
func (i *Inbox) MarkOneRead(ctx context.Context, userID, id string) (*Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	if _, err := i.store.MarkRead(ctx, userID, ReadSelector{IDs: []string{id}}); err != nil {
		return nil, err
	}
	return i.store.FindByID(ctx, userID, id)
}

// Subscribe registers or refreshes a push subscription. A new registration gets a
// welcome push in the background.
func (i *Inbox) Subscribe(ctx context.Context, sub *Subscription) (bool, error) {
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.UserID == "" || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return false, ErrInvalidSubscription
	}
	created, err := i.subs.Upsert(ctx, sub)
	if err != nil {
		return false, err
	}
	if created {
		i.sendWelcome(ctx, sub)
	}
	return created, nil
}

func (i *Inbox) Unsubscribe(ctx context.Context, userID, endpoint string) (bool, error) {
	return i.subs.Delete(ctx, userID, endpoint)
}

// DeleteUser removes every notification and subscription of userID.
func (i *Inbox) DeleteUser(ctx context.Context, userID string) (notifications, subscriptions int64, err error) {
	notifications, err = i.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	subscriptions, err = i.subs.DeleteAllForUser(ctx, userID)
	if err != nil {
		return notifications, 0, err
	}
	i.logger.Info("deleted user notification data", "user_id", userID,
		"notifications", notifications, "subscriptions", subscriptions)
	return notifications, subscriptions, nil
}

func (i *Inbox) sendWelcome(ctx context.Context, sub *Subscription) {
	if i.push == nil || i.runner == nil {
		return
	}
	target := *sub
	body, err := json.Marshal(PushPayload{
		Title: "Welcome to ZenList!",
		Body:  "Push notifications are now enabled for your tasks",
		Icon:  i.assets.IconURL,
		Badge: i.assets.BadgeURL,
		Data:  map[string]any{"type": "welcome"},
	})
	if err != nil {
		i.logger.Error("failed to encode welcome push", "error", err)
		return
	}
	err = i.runner.Go(ctx, "push:welcome", func(ctx context.Context) error {
		res, err := i.push.Deliver(ctx, &target, body)
		recordChannel("push", res.String())
		if res == PushGone {
			return i.subs.DeleteByID(ctx, target.ID)
		}
		if res != PushDelivered {
			if err == nil {
				err = errors.New(res.String())
			}
			return fmt.Errorf("welcome push to %s: %w", target.ID, err)
		}
		return nil
	})
	if err != nil {
		i.logger.Debug("welcome push not scheduled", "subscription_id", target.ID, "error", err)
	}
}
