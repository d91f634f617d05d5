package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeIdempotency struct {
	mu     sync.Mutex
	keys   map[string]bool
	setErr error
}

func (f *fakeIdempotency) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeIdempotency) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.keys, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type recordingNotifier struct {
	mu     sync.Mutex
	calls  []Event
	emails []string
	fail   bool
}

func (r *recordingNotifier) Dispatch(ctx context.Context, userID string, ev Event, email string) *Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ev)
	r.emails = append(r.emails, email)
	if r.fail {
		return nil
	}
	return &Notification{ID: "n", UserID: userID, Type: ev.Type()}
}

func TestWorker_ProcessTask(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		fail      bool
		wantCalls int
		wantErr   bool
	}{
		{"valid", `{"id":"m1","user_id":"u1","recipient_email":"u1@example.com","type":"custom","data":{"message":"hi"}}`, false, 1, false},
		{"malformed json dropped", `{"id":`, false, 0, false},
		{"unknown type dropped", `{"id":"m2","user_id":"u1","type":"party"}`, false, 0, false},
		{"missing user dropped", `{"id":"m3","type":"custom","data":{"message":"hi"}}`, false, 0, false},
		{"dispatch failure is retried", `{"id":"m4","user_id":"u1","type":"custom","data":{"message":"hi"}}`, true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{fail: tt.fail}
			w := NewWorker(n, nil, testLogger())
			err := w.ProcessTask(context.Background(), []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(n.calls) != tt.wantCalls {
				t.Errorf("dispatch calls = %d, want %d", len(n.calls), tt.wantCalls)
			}
		})
	}
}

func TestWorker_Idempotency(t *testing.T) {
	n := &recordingNotifier{}
	store := &fakeIdempotency{}
	w := NewWorker(n, store, testLogger())
	body := []byte(`{"id":"m1","user_id":"u1","type":"custom","data":{"message":"hi"}}`)

	for i := 0; i < 3; i++ {
		if err := w.ProcessTask(context.Background(), body); err != nil {
			t.Fatal(err)
		}
	}
	if len(n.calls) != 1 {
		t.Errorf("redelivered message dispatched %d times, want 1", len(n.calls))
	}

	// A failed dispatch releases its claim so redelivery can succeed.
	n.fail = true
	failing := []byte(`{"id":"m2","user_id":"u1","type":"custom","data":{"message":"hi"}}`)
	if err := w.ProcessTask(context.Background(), failing); err == nil {
		t.Fatal("expected error for failed dispatch")
	}
	n.fail = false
	if err := w.ProcessTask(context.Background(), failing); err != nil {
		t.Fatalf("redelivery after failure: %v", err)
	}
	if len(n.calls) != 3 {
		t.Errorf("dispatch calls = %d, want 3", len(n.calls))
	}
}

func TestWorker_RedisErrorStillProcesses(t *testing.T) {
	n := &recordingNotifier{}
	w := NewWorker(n, &fakeIdempotency{setErr: errors.New("redis down")}, testLogger())
	body := []byte(`{"id":"m1","user_id":"u1","type":"custom","data":{"message":"hi"}}`)
	if err := w.ProcessTask(context.Background(), body); err != nil {
		t.Fatal(err)
	}
	if len(n.calls) != 1 {
		t.Error("message not processed while redis is down")
	}
}

func TestWorker_ProcessTodoEvent(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		body     string
		wantType Type
		wantUser bool
	}{
		{"created", "u1", `{"id":"e1","type":"todo.created","user_id":"u1","email":"u1@example.com","todo":{"id":"t1","title":"x"}}`, TypeNewTodo, true},
		{"completed user from key", "u2", `{"id":"e2","type":"todo.completed","todo":{"id":"t1","title":"x"}}`, TypeTodoCompleted, true},
		{"updated", "u1", `{"id":"e3","type":"todo.updated","user_id":"u1","todo":{"id":"t1","title":"x"},"changes":["title"]}`, TypeTodoUpdated, true},
		{"deleted", "u1", `{"id":"e4","type":"todo.deleted","user_id":"u1","todo":{"id":"t1","title":"x"}}`, TypeTodoDeleted, true},
		{"ignored kind", "u1", `{"id":"e5","type":"todo.viewed","user_id":"u1","todo":{"id":"t1","title":"x"}}`, "", false},
		{"invalid todo", "u1", `{"id":"e6","type":"todo.created","user_id":"u1","todo":{"title":"x"}}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			var observed []*TodoEvent
			w := NewWorker(n, nil, testLogger(), WithTodoObserver(func(e *TodoEvent) { observed = append(observed, e) }))
			if err := w.ProcessTodoEvent(context.Background(), tt.key, []byte(tt.body)); err != nil {
				t.Fatal(err)
			}
			if !tt.wantUser {
				if len(n.calls) != 0 || len(observed) != 0 {
					t.Errorf("dispatched %d events, observed %d, want 0", len(n.calls), len(observed))
				}
				return
			}
			if len(observed) != 1 || observed[0].UserID != tt.key {
				t.Errorf("observed = %+v, want one event for %s", observed, tt.key)
			}
			if len(n.calls) != 1 || n.calls[0].Type() != tt.wantType {
				t.Fatalf("calls = %+v, want one %s", n.calls, tt.wantType)
			}
		})
	}
}
