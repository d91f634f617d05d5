package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DispatchQueue carries DispatchTask messages.
	DispatchQueue = "notifications"
	// TodoEventsTopic carries TodoEvent messages from the todo service.
	TodoEventsTopic = "todo-events"

	idempotencyTTL = 24 * time.Hour
)

// DispatchTask asks for one dispatch. It is the body of DispatchQueue messages and of
// the internal dispatch endpoint.
type DispatchTask struct {
	ID             string          `json:"id,omitempty"`
	UserID         string          `json:"user_id"`
	RecipientEmail string          `json:"recipient_email,omitempty"`
	Type           Type            `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Event decodes the task payload.
func (t *DispatchTask) Event() (Event, error) {
	if t.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	return ParseEvent(t.Type, t.Data)
}

// TodoEvent is a lifecycle event published by the todo service after its write committed.
type TodoEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Todo      TodoRef   `json:"todo"`
	Changes   []string  `json:"changes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event maps the todo service event kinds onto notification events.
// ok is false for kinds that do not notify.
func (e *TodoEvent) Event() (ev Event, ok bool) {
	switch e.Kind {
	case "todo.created":
		return TodoCreated{Todo: e.Todo}, true
	case "todo.updated":
		return TodoUpdated{Todo: e.Todo, Changes: e.Changes}, true
	case "todo.completed":
		return TodoCompleted{Todo: e.Todo}, true
	case "todo.deleted":
		return TodoDeleted{Todo: e.Todo}, true
	}
	return nil, false
}

// Notifier is the dispatch entry point the worker and the sweep drive.
type Notifier interface {
	Dispatch(ctx context.Context, userID string, ev Event, recipientEmail string) *Notification
}

// IdempotencyStore is the slice of the Redis client used to drop redelivered messages.
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Worker turns queue messages into dispatches.
type Worker struct {
	notifier Notifier
	redis    IdempotencyStore
	logger   *slog.Logger
	observe  func(*TodoEvent)
}

type WorkerOption func(*Worker)

// WithTodoObserver hands every valid todo event to fn before it is dispatched.
func WithTodoObserver(fn func(*TodoEvent)) WorkerOption {
	return func(w *Worker) { w.observe = fn }
}

// NewWorker creates a new intake worker. redisClient may be nil, which disables
// duplicate suppression.
func NewWorker(notifier Notifier, redisClient IdempotencyStore, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{notifier: notifier, redis: redisClient, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessTask handles one DispatchQueue message. Malformed messages are dropped (nil error)
// since redelivery cannot fix them; a dispatch that stored nothing returns an error so the
// broker can redeliver.
func (w *Worker) ProcessTask(ctx context.Context, body []byte) error {
	var task DispatchTask
	if err := json.Unmarshal(body, &task); err != nil {
		IntakeMessages.WithLabelValues("queue", "malformed").Inc()
		w.logger.Warn("dropping malformed dispatch task", "error", err)
		return nil
	}
	ev, err := task.Event()
	if err != nil {
		IntakeMessages.WithLabelValues("queue", "malformed").Inc()
		w.logger.Warn("dropping invalid dispatch task", "task_id", task.ID, "type", task.Type, "error", err)
		return nil
	}
	return w.handle(ctx, "queue", task.ID, task.UserID, ev, task.RecipientEmail)
}

// ProcessTodoEvent handles one TodoEventsTopic message.
func (w *Worker) ProcessTodoEvent(ctx context.Context, key string, value []byte) error {
	var event TodoEvent
	if err := json.Unmarshal(value, &event); err != nil {
		IntakeMessages.WithLabelValues("stream", "malformed").Inc()
		w.logger.Warn("dropping malformed todo event", "key", key, "error", err)
		return nil
	}
	if event.UserID == "" {
		event.UserID = key
	}
	ev, ok := event.Event()
	if !ok {
		IntakeMessages.WithLabelValues("stream", "ignored").Inc()
		w.logger.Debug("todo event kind does not notify", "kind", event.Kind)
		return nil
	}
	if err := Validate(ev); err != nil || event.UserID == "" {
		IntakeMessages.WithLabelValues("stream", "malformed").Inc()
		w.logger.Warn("dropping invalid todo event", "event_id", event.ID, "kind", event.Kind, "error", err)
		return nil
	}
	if w.observe != nil {
		w.observe(&event)
	}
	return w.handle(ctx, "stream", event.ID, event.UserID, ev, event.Email)
}

func (w *Worker) handle(ctx context.Context, source, id, userID string, ev Event, email string) error {
	idempotencyKey := ""
	if w.redis != nil && id != "" {
		idempotencyKey = fmt.Sprintf("notif:intake:%s", id)
		claimed, err := w.redis.SetNX(ctx, idempotencyKey, "1", idempotencyTTL).Result()
		if err != nil {
			w.logger.Warn("redis error claiming message, processing anyway", "message_id", id, "error", err)
			idempotencyKey = ""
		} else if !claimed {
			IntakeMessages.WithLabelValues(source, "duplicate").Inc()
			w.logger.Info("message already processed (idempotent skip)", "message_id", id)
			return nil
		}
	}

	if w.notifier.Dispatch(ctx, userID, ev, email) == nil {
		IntakeMessages.WithLabelValues(source, "failed").Inc()
		if idempotencyKey != "" {
			w.redis.Del(context.WithoutCancel(ctx), idempotencyKey)
		}
		return fmt.Errorf("dispatch %s for %s stored nothing", ev.Type(), userID)
	}
	IntakeMessages.WithLabelValues(source, "ok").Inc()
	return nil
}
