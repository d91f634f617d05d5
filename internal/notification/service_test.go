package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func newTestDispatcher(ch Channels, opts ...DispatcherOption) (*Dispatcher, *MemoryStore, *MemorySubscriptionStore) {
	store := NewMemoryStore(nil)
	subs := NewMemorySubscriptionStore(nil)
	return NewDispatcher(store, subs, ch, testLogger(), opts...), store, subs
}

func todo(id, title string) TodoRef {
	return TodoRef{ID: id, Title: title}
}

func TestDispatch_Uniqueness(t *testing.T) {
	tests := []struct {
		name   string
		first  Event
		second Event
	}{
		{"due soon", TodoDueSoon{Todo: todo("t1", "Pay rent")}, TodoDueSoon{Todo: todo("t1", "Pay rent today")}},
		{"overdue", TodoOverdue{Todo: todo("t1", "Pay rent")}, TodoOverdue{Todo: todo("t1", "Pay rent!")}},
		{"new todo", TodoCreated{Todo: todo("t1", "a")}, TodoCreated{Todo: todo("t1", "b")}},
		{"updated", TodoUpdated{Todo: todo("t1", "a")}, TodoUpdated{Todo: todo("t1", "b"), Changes: []string{"title"}}},
		{"deleted", TodoDeleted{Todo: todo("t1", "a")}, TodoDeleted{Todo: todo("t1", "b")}},
		{"custom with item", Custom{RelatedItem: strPtr("p1"), Message: "one"}, Custom{RelatedItem: strPtr("p1"), Message: "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store, _ := newTestDispatcher(Channels{})
			ctx := context.Background()

			first := d.Dispatch(ctx, "u1", tt.first, "")
			if first == nil {
				t.Fatal("first dispatch returned nil")
			}
			if _, err := store.MarkRead(ctx, "u1", ReadSelector{All: true}); err != nil {
				t.Fatal(err)
			}

			second := d.Dispatch(ctx, "u1", tt.second, "")
			if second == nil {
				t.Fatal("second dispatch returned nil")
			}

			all := store.All()
			if len(all) != 1 {
				t.Fatalf("stored %d notifications, want 1", len(all))
			}
			if all[0].ID != first.ID || second.ID != first.ID {
				t.Errorf("second dispatch created a new row")
			}
			if all[0].Message != second.Message {
				t.Errorf("message = %q, want the second dispatch's %q", all[0].Message, second.Message)
			}
			if all[0].Read || all[0].ReadAt != nil {
				t.Errorf("read state not reset: read=%v readAt=%v", all[0].Read, all[0].ReadAt)
			}
		})
	}
}

func TestDispatch_CompletionPolicy(t *testing.T) {
	tests := []struct {
		name   string
		repeat bool
		want   int
	}{
		{"repeat completions", true, 2},
		{"dedup completions", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			policy.RepeatCompletions = tt.repeat
			d, store, _ := newTestDispatcher(Channels{}, WithPolicy(policy))

			ev := TodoCompleted{Todo: todo("t1", "Ship it")}
			a := d.Dispatch(context.Background(), "u1", ev, "")
			b := d.Dispatch(context.Background(), "u1", ev, "")
			if a == nil || b == nil {
				t.Fatal("dispatch returned nil")
			}
			if got := len(store.All()); got != tt.want {
				t.Errorf("stored %d completion notifications, want %d", got, tt.want)
			}
			if tt.repeat && a.ID == b.ID {
				t.Error("repeatable completions share an id")
			}
		})
	}
}

func TestDispatch_NullRelatedItemIsAKey(t *testing.T) {
	d, store, _ := newTestDispatcher(Channels{})
	ctx := context.Background()

	d.Dispatch(ctx, "u1", ProfileCreated{DisplayName: "Ada"}, "")
	d.Dispatch(ctx, "u1", ProfileCreated{DisplayName: "Ada L."}, "")
	if got := len(store.All()); got != 1 {
		t.Fatalf("two profile_created for one user stored %d rows, want 1", got)
	}

	d.Dispatch(ctx, "u1", ProfileUpdated{Fields: []string{"name"}}, "")
	d.Dispatch(ctx, "u1", Custom{Message: "hello"}, "")
	if got := len(store.All()); got != 3 {
		t.Errorf("different types with null related item collided: %d rows, want 3", got)
	}

	d.Dispatch(ctx, "u2", ProfileCreated{}, "")
	if got := len(store.All()); got != 4 {
		t.Errorf("different users collided: %d rows, want 4", got)
	}
}

func TestDispatch_ConcurrentSameKey(t *testing.T) {
	d, store, _ := newTestDispatcher(Channels{})
	ev := TodoDueSoon{Todo: todo("t1", "Pay rent")}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Dispatch(context.Background(), "u1", ev, "") == nil {
				t.Error("concurrent dispatch returned nil")
			}
		}()
	}
	wg.Wait()

	if got := len(store.All()); got != 1 {
		t.Errorf("concurrent dispatches stored %d rows, want 1", got)
	}
}

func TestDispatch_DuplicateKeyFallsBackToUpdate(t *testing.T) {
	existing := &Notification{ID: "n1", UserID: "u1", Type: TypeDueSoon, RelatedItemID: strPtr("t1")}
	findCalls := 0
	var updatedID string
	store := &MockStore{
		FindByKeyFunc: func(ctx context.Context, key Key) (*Notification, error) {
			findCalls++
			if findCalls == 1 {
				return nil, ErrNotFound
			}
			return existing, nil
		},
		CreateFunc: func(ctx context.Context, n *Notification) error {
			return fmt.Errorf("create notification: %w", ErrDuplicateKey)
		},
		UpdateByIDFunc: func(ctx context.Context, id, message string) (*Notification, error) {
			updatedID = id
			n := *existing
			n.Message = message
			return &n, nil
		},
	}
	d := NewDispatcher(store, nil, Channels{}, testLogger())

	n := d.Dispatch(context.Background(), "u1", TodoDueSoon{Todo: todo("t1", "Pay rent")}, "")
	if n == nil {
		t.Fatal("dispatch returned nil after duplicate key")
	}
	if updatedID != "n1" {
		t.Errorf("updated id = %q, want n1", updatedID)
	}
	if findCalls != 2 {
		t.Errorf("FindByKey called %d times, want 2", findCalls)
	}
}

func TestDispatch_StoreUnavailable(t *testing.T) {
	store := &MockStore{
		FindByKeyFunc: func(ctx context.Context, key Key) (*Notification, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	rt := &MockRealtime{Connections: map[string]int{"u1": 1}}
	mail := &MockEmailSender{}
	d := NewDispatcher(store, NewMemorySubscriptionStore(nil), Channels{Realtime: rt, Email: mail}, testLogger())

	if n := d.Dispatch(context.Background(), "u1", TodoDueSoon{Todo: todo("t1", "x")}, "u1@example.com"); n != nil {
		t.Fatalf("dispatch = %+v, want nil", n)
	}
	if len(rt.Calls()) != 0 || len(mail.Emails()) != 0 {
		t.Error("channels ran although nothing was stored")
	}
}

func TestDispatch_InvalidInputReturnsNil(t *testing.T) {
	d, store, _ := newTestDispatcher(Channels{})
	ctx := context.Background()

	if d.Dispatch(ctx, "", TodoCreated{Todo: todo("t1", "x")}, "") != nil {
		t.Error("dispatch without user must return nil")
	}
	if d.Dispatch(ctx, "u1", nil, "") != nil {
		t.Error("dispatch without event must return nil")
	}
	if d.Dispatch(ctx, "u1", TodoCreated{Todo: TodoRef{Title: "no id"}}, "") != nil {
		t.Error("dispatch with invalid todo must return nil")
	}
	if len(store.All()) != 0 {
		t.Error("invalid dispatches stored rows")
	}
}

func TestDispatch_FanOut(t *testing.T) {
	rt := &MockRealtime{Connections: map[string]int{"u1": 2}}
	push := &MockPushDeliverer{}
	mail := &MockEmailSender{}
	fixed := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	d, _, subs := newTestDispatcher(Channels{Realtime: rt, Push: push, Email: mail}, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	sub := &Subscription{UserID: "u1", Endpoint: "https://push.example/a", Keys: PushKeys{P256dh: "p", Auth: "a"}}
	if _, err := subs.Upsert(ctx, sub); err != nil {
		t.Fatal(err)
	}

	n := d.Dispatch(ctx, "u1", TodoDueSoon{Todo: todo("t1", "Pay rent")}, "u1@example.com")
	if n == nil {
		t.Fatal("dispatch returned nil")
	}

	calls := rt.Calls()
	if len(calls) != 1 || calls[0].Event != RealtimeEvent || calls[0].UserID != "u1" {
		t.Fatalf("realtime calls = %+v", calls)
	}
	msg, ok := calls[0].Payload.(RealtimeMessage)
	if !ok || msg.Notification.ID != n.ID || msg.Todo == nil || msg.Todo.ID != "t1" {
		t.Errorf("realtime payload = %+v", calls[0].Payload)
	}

	body, ok := push.Delivered()[sub.Endpoint]
	if !ok {
		t.Fatal("push not delivered")
	}
	var payload PushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Title != "Due soon" || payload.Body != n.Message || payload.Data["notification_id"] != n.ID {
		t.Errorf("push payload = %+v", payload)
	}

	list, _ := subs.ListForUser(ctx, "u1")
	if len(list) != 1 || !list[0].LastUsedAt.Equal(fixed) {
		t.Errorf("last used not touched: %+v", list)
	}

	emails := mail.Emails()
	if len(emails) != 1 || emails[0].To != "u1@example.com" {
		t.Errorf("emails = %+v", emails)
	}
}

func TestDispatch_EmailRequiresRecipientAndPayload(t *testing.T) {
	mail := &MockEmailSender{}
	d, _, _ := newTestDispatcher(Channels{Email: mail})
	ctx := context.Background()

	d.Dispatch(ctx, "u1", TodoDueSoon{Todo: todo("t1", "x")}, "")
	d.Dispatch(ctx, "u1", TodoUpdated{Todo: todo("t2", "x")}, "u1@example.com")
	if got := len(mail.Emails()); got != 0 {
		t.Errorf("sent %d emails, want 0", got)
	}

	d.Dispatch(ctx, "u1", TodoOverdue{Todo: todo("t3", "x")}, "u1@example.com")
	if got := len(mail.Emails()); got != 1 {
		t.Errorf("sent %d emails, want 1", got)
	}
}

func TestDispatch_ChannelIsolation(t *testing.T) {
	tests := []struct {
		name    string
		deliver func(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error)
	}{
		{"push times out", func(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error) {
			<-ctx.Done()
			return PushFailed, ctx.Err()
		}},
		{"push panics", func(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error) {
			panic("push service exploded")
		}},
		{"push errors", func(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error) {
			return PushFailed, errors.New("502 bad gateway")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &MockRealtime{Connections: map[string]int{"u1": 1}}
			push := &MockPushDeliverer{DeliverFunc: tt.deliver}
			mail := &MockEmailSender{}
			policy := DefaultPolicy()
			policy.ChannelTimeout = 50 * time.Millisecond
			d, store, subs := newTestDispatcher(Channels{Realtime: rt, Push: push, Email: mail}, WithPolicy(policy))
			ctx := context.Background()
			subs.Upsert(ctx, &Subscription{UserID: "u1", Endpoint: "https://push.example/a", Keys: PushKeys{P256dh: "p", Auth: "a"}})

			n := d.Dispatch(ctx, "u1", TodoCreated{Todo: todo("t1", "x")}, "u1@example.com")
			if n == nil {
				t.Fatal("dispatch returned nil")
			}
			if len(store.All()) != 1 {
				t.Error("notification not stored")
			}
			if len(rt.Calls()) != 1 {
				t.Error("realtime not attempted")
			}
			if len(mail.Emails()) != 1 {
				t.Error("email not attempted")
			}
			if list, _ := subs.ListForUser(ctx, "u1"); len(list) != 1 {
				t.Error("subscription dropped on a non-gone failure")
			}
		})
	}
}

func TestDispatch_PrunesGoneSubscriptions(t *testing.T) {
	push := &MockPushDeliverer{
		DeliverFunc: func(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error) {
			switch sub.Endpoint {
			case "https://push.example/gone":
				return PushGone, errors.New("410 gone")
			case "https://push.example/flaky":
				return PushFailed, errors.New("500 internal error")
			}
			return PushDelivered, nil
		},
	}
	d, _, subs := newTestDispatcher(Channels{Push: push})
	ctx := context.Background()
	for _, ep := range []string{"https://push.example/gone", "https://push.example/flaky", "https://push.example/ok"} {
		subs.Upsert(ctx, &Subscription{UserID: "u1", Endpoint: ep, Keys: PushKeys{P256dh: "p", Auth: "a"}})
	}

	if d.Dispatch(ctx, "u1", TodoOverdue{Todo: todo("t1", "x")}, "") == nil {
		t.Fatal("dispatch returned nil")
	}

	if got := len(push.Delivered()); got != 3 {
		t.Errorf("attempted %d deliveries, want 3", got)
	}
	list, _ := subs.ListForUser(ctx, "u1")
	left := map[string]bool{}
	for _, s := range list {
		left[s.Endpoint] = true
	}
	if left["https://push.example/gone"] {
		t.Error("gone subscription kept")
	}
	if !left["https://push.example/flaky"] || !left["https://push.example/ok"] {
		t.Errorf("remaining subscriptions = %v", left)
	}
}

func TestDispatchAsync(t *testing.T) {
	rt := &MockRealtime{Connections: map[string]int{"u1": 1}}
	runner := NewRunner(testLogger(), 2, time.Second)
	d, store, _ := newTestDispatcher(Channels{Realtime: rt}, WithRunner(runner))

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.DispatchAsync(ctx, "u1", TodoCreated{Todo: todo("t1", "x")}, ""); err != nil {
		t.Fatal(err)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		t.Fatal(err)
	}
	if len(store.All()) != 1 || len(rt.Calls()) != 1 {
		t.Error("detached dispatch did not complete after caller cancelled")
	}
	if err := d.DispatchAsync(context.Background(), "u1", TodoCreated{Todo: todo("t2", "x")}, ""); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("DispatchAsync after shutdown = %v, want ErrRunnerClosed", err)
	}
}
