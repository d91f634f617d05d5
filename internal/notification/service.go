package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Policy holds the dispatch knobs read from configuration.
type Policy struct {
	// RepeatCompletions makes every todo_completed event a new row instead of
	// refreshing the previous one.
	RepeatCompletions bool
	// ChannelTimeout bounds each channel call of one dispatch.
	ChannelTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{RepeatCompletions: true, ChannelTimeout: 10 * time.Second}
}

// Dispatcher persists notifications under the dedup key and fans them out to the channels.
type Dispatcher struct {
	store    Store
	subs     SubscriptionStore
	channels Channels
	router   *Router
	policy   Policy
	runner   *Runner
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithRouter(r *Router) DispatcherOption {
	return func(d *Dispatcher) { d.router = r }
}

func WithPolicy(p Policy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

func WithRunner(r *Runner) DispatcherOption {
	return func(d *Dispatcher) { d.runner = r }
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, subs SubscriptionStore, channels Channels, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:    store,
		subs:     subs,
		channels: channels,
		policy:   DefaultPolicy(),
		logger:   logger,
		tracer:   otel.Tracer("github.com/zenlist/notifier/internal/notification"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.router == nil {
		d.router = NewRouter(nil, Assets{}, nil)
	}
	if d.runner == nil {
		d.runner = NewRunner(logger, 0, 0)
	}
	if d.policy.ChannelTimeout <= 0 {
		d.policy.ChannelTimeout = DefaultPolicy().ChannelTimeout
	}
	return d
}

// Runner returns the runner DispatchAsync schedules on.
func (d *Dispatcher) Runner() *Runner {
	return d.runner
}

// Dispatch stores the notification for ev and delivers it to userID's channels.
// It never fails the caller: errors are logged and a nil result means nothing was stored.
// recipientEmail may be empty, which skips the email channel.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, ev Event, recipientEmail string) (result *Notification) {
	ctx, span := d.tracer.Start(ctx, "notification.Dispatch")
	defer span.End()
	timer := prometheus.NewTimer(DispatchLatency)
	defer timer.ObserveDuration()

	typ := "unknown"
	if ev != nil {
		typ = string(ev.Type())
	}
	logger := d.logger.With("user_id", userID, "type", typ)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("dispatch panicked", "panic", fmt.Sprint(rec))
			DispatchesTotal.WithLabelValues(typ, "panic").Inc()
			span.SetStatus(codes.Error, "panic")
			result = nil
		}
	}()

	if userID == "" {
		logger.Warn("dispatch without user id dropped")
		DispatchesTotal.WithLabelValues(typ, "invalid").Inc()
		return nil
	}

	desc, err := d.router.Describe(ev)
	if err != nil {
		logger.Warn("dispatch with invalid event dropped", "error", err)
		DispatchesTotal.WithLabelValues(typ, "invalid").Inc()
		return nil
	}
	span.SetAttributes(
		attribute.String("notification.user_id", userID),
		attribute.String("notification.type", typ),
	)

	n, outcome, err := d.persist(ctx, userID, desc)
	if err != nil {
		logger.Error("notification store unavailable, skipping fan-out", "error", err)
		DispatchesTotal.WithLabelValues(typ, "store_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		return nil
	}
	DispatchesTotal.WithLabelValues(typ, outcome).Inc()
	span.SetAttributes(attribute.String("notification.id", n.ID), attribute.String("notification.outcome", outcome))
	logger.Debug("notification stored", "notification_id", n.ID, "outcome", outcome)

	d.fanOut(ctx, n, desc, recipientEmail, logger)
	return n
}

// DispatchAsync runs Dispatch as a detached task and returns without waiting.
func (d *Dispatcher) DispatchAsync(ctx context.Context, userID string, ev Event, recipientEmail string) error {
	name := "dispatch"
	if ev != nil {
		name = "dispatch:" + string(ev.Type())
	}
	return d.runner.Go(ctx, name, func(ctx context.Context) error {
		if d.Dispatch(ctx, userID, ev, recipientEmail) == nil {
			return errors.New("dispatch stored nothing")
		}
		return nil
	})
}

// persist creates the notification or refreshes the one holding its key.
// A create that loses a race on the unique index falls back to the update path.
func (d *Dispatcher) persist(ctx context.Context, userID string, desc *Descriptor) (*Notification, string, error) {
	key := Key{UserID: userID, RelatedItemID: desc.RelatedItemID, Type: desc.Type}
	repeatable := desc.Type == TypeTodoCompleted && d.policy.RepeatCompletions

	if !repeatable {
		n, err := d.refresh(ctx, key, desc.Message)
		if err == nil {
			return n, "updated", nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
	}

	n := &Notification{
		UserID:        userID,
		RelatedItemID: desc.RelatedItemID,
		Message:       desc.Message,
		Type:          desc.Type,
		Repeatable:    repeatable,
	}
	err := d.store.Create(ctx, n)
	if err == nil {
		return n, "created", nil
	}
	if repeatable || !errors.Is(err, ErrDuplicateKey) {
		return nil, "", err
	}

	d.logger.Debug("lost create race, updating existing notification", "key", key.String())
	n, err = d.refresh(ctx, key, desc.Message)
	if err != nil {
		return nil, "", fmt.Errorf("update after duplicate key: %w", err)
	}
	return n, "updated", nil
}

func (d *Dispatcher) refresh(ctx context.Context, key Key, message string) (*Notification, error) {
	existing, err := d.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.store.UpdateByID(ctx, existing.ID, message)
}

// fanOut runs the enabled channels concurrently, each under its own timeout, and waits
// for all of them. Channel failures are logged and counted, never returned.
func (d *Dispatcher) fanOut(ctx context.Context, n *Notification, desc *Descriptor, recipientEmail string, logger *slog.Logger) {
	var wg sync.WaitGroup
	run := func(channel string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					recordChannel(channel, "panic")
					logger.Error("channel panicked", "channel", channel, "panic", fmt.Sprint(rec))
				}
			}()
			cctx, cancel := context.WithTimeout(ctx, d.policy.ChannelTimeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				logger.Warn("channel delivery failed", "channel", channel, "notification_id", n.ID, "error", err)
			}
		}()
	}

	if desc.Realtime != nil && d.channels.Realtime != nil {
		run("realtime", func(context.Context) error {
			return d.publishRealtime(n, desc.Realtime, logger)
		})
	}
	if desc.Push != nil && d.channels.Push != nil && d.subs != nil {
		run("push", func(ctx context.Context) error {
			return d.deliverPush(ctx, n, desc.Push, logger)
		})
	}
	if d.channels.Email != nil {
		run("email", func(ctx context.Context) error {
			return d.sendEmail(ctx, desc.Email, recipientEmail, logger)
		})
	}
	wg.Wait()
}

func (d *Dispatcher) publishRealtime(n *Notification, extras *RealtimeExtras, logger *slog.Logger) error {
	delivered := d.channels.Realtime.Publish(n.UserID, RealtimeEvent, RealtimeMessage{
		Notification: n,
		Title:        extras.Title,
		Todo:         extras.Todo,
	})
	if delivered == 0 {
		recordChannel("realtime", "no_connection")
		logger.Info("no active realtime connection", "channel", "realtime")
		return nil
	}
	recordChannel("realtime", "delivered")
	return nil
}

// deliverPush sends to every subscription of the user concurrently. Subscriptions the
// push service reports gone are deleted; other failures keep the subscription.
func (d *Dispatcher) deliverPush(ctx context.Context, n *Notification, payload *PushPayload, logger *slog.Logger) error {
	subs, err := d.subs.ListForUser(ctx, n.UserID)
	if err != nil {
		recordChannel("push", "failed")
		return fmt.Errorf("load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		recordChannel("push", "no_subscription")
		logger.Info("no push subscriptions", "channel", "push")
		return nil
	}

	data := make(map[string]any, len(payload.Data)+1)
	for k, v := range payload.Data {
		data[k] = v
	}
	data["notification_id"] = n.ID
	body, err := json.Marshal(PushPayload{
		Title: payload.Title,
		Body:  payload.Body,
		Icon:  payload.Icon,
		Badge: payload.Badge,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					recordChannel("push", "panic")
					logger.Error("push delivery panicked", "channel", "push", "subscription_id", sub.ID, "panic", fmt.Sprint(rec))
				}
			}()
			d.deliverOne(ctx, sub, body, logger)
		}(sub)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, sub *Subscription, body []byte, logger *slog.Logger) {
	res, err := d.channels.Push.Deliver(ctx, sub, body)
	recordChannel("push", res.String())

	// Bookkeeping must not be lost to an expired channel deadline.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch res {
	case PushDelivered:
		if err := d.subs.TouchLastUsed(bg, sub.ID, d.now()); err != nil {
			logger.Warn("failed to touch push subscription", "channel", "push", "subscription_id", sub.ID, "error", err)
		}
	case PushGone:
		if err := d.subs.DeleteByID(bg, sub.ID); err != nil {
			logger.Warn("failed to delete gone push subscription", "channel", "push", "subscription_id", sub.ID, "error", err)
			return
		}
		SubscriptionsPruned.Inc()
		logger.Info("deleted gone push subscription", "channel", "push", "subscription_id", sub.ID, "error", err)
	default:
		logger.Warn("push delivery failed, keeping subscription", "channel", "push", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, payload *EmailPayload, to string, logger *slog.Logger) error {
	if to == "" || payload == nil {
		recordChannel("email", "skipped")
		logger.Debug("email not requested", "channel", "email")
		return nil
	}
	res, err := d.channels.Email.Send(ctx, to, payload.Subject, payload.HTML)
	recordChannel("email", res.String())
	switch res {
	case EmailSent:
		return nil
	case EmailSkipped:
		logger.Info("email skipped", "channel", "email", "reason", err)
		return nil
	default:
		if err == nil {
			err = errors.New("email transport reported failure")
		}
		return err
	}
}
