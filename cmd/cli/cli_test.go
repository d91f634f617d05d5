package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/zenlist/notifier/internal/notification"
)

func TestBuildTask(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		message string
		related string
		wantErr bool
	}{
		{name: "missing message", user: "u1", wantErr: true},
		{name: "missing user", message: "hi", wantErr: true},
		{name: "plain", user: "u1", message: "hi"},
		{name: "tied to an item", user: "u1", message: "hi", related: "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendFlags.userID, sendFlags.message, sendFlags.related = tt.user, tt.message, tt.related
			defer func() { sendFlags.userID, sendFlags.message, sendFlags.related = "", "", "" }()

			task, err := buildTask()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			ev, err := task.Event()
			if err != nil {
				t.Fatalf("task does not decode: %v", err)
			}
			custom := ev.(notification.Custom)
			if custom.Message != tt.message {
				t.Errorf("message = %q", custom.Message)
			}
			got := ev.RelatedItemID()
			if (got == nil) != (tt.related == "") || (got != nil && *got != tt.related) {
				t.Errorf("related = %v, want %q", got, tt.related)
			}
			if task.ID == "" {
				t.Error("task id not set")
			}
		})
	}
}

func TestPrintNotifications(t *testing.T) {
	var buf bytes.Buffer
	printNotifications(&buf, []*notification.Notification{
		{ID: "n1", Type: notification.TypeDueSoon, Message: "Task due soon", Read: true, CreatedAt: time.Now()},
	})
	out := buf.String()
	if !strings.HasPrefix(out, "ID") || !strings.Contains(out, "due_soon") || !strings.Contains(out, "Task due soon") {
		t.Errorf("output = %q", out)
	}
}

func TestBuildTodoEvent(t *testing.T) {
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		kind     string
		user     string
		todo     string
		due      string
		wantKind string
		wantErr  bool
	}{
		{name: "unknown kind", kind: "archived", user: "u1", todo: "t1", wantErr: true},
		{name: "missing todo", kind: "created", user: "u1", wantErr: true},
		{name: "bad due date", kind: "created", user: "u1", todo: "t1", due: "tomorrow", wantErr: true},
		{name: "completed", kind: "completed", user: "u1", todo: "t1", wantKind: "todo.completed"},
		{name: "created with due date", kind: "created", user: "u1", todo: "t1", due: "2025-03-05", wantKind: "todo.created"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emitFlags.userID, emitFlags.todoID, emitFlags.due = tt.user, tt.todo, tt.due
			defer func() { emitFlags.userID, emitFlags.todoID, emitFlags.due = "", "", "" }()

			event, err := buildTodoEvent(tt.kind, now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if event.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", event.Kind, tt.wantKind)
			}
			if (event.Todo.DueDate != nil) != (tt.due != "") {
				t.Errorf("due date = %v, want %q", event.Todo.DueDate, tt.due)
			}
			if _, ok := event.Event(); !ok {
				t.Error("event does not map onto a notification")
			}
		})
	}
}

func TestClearCredentials(t *testing.T) {
	tests := []struct {
		name         string
		all          bool
		wantBaseURL  string
		wantPrevious string
	}{
		{name: "keeps service url", wantBaseURL: "http://notify.internal", wantPrevious: "u1"},
		{name: "forgets everything", all: true, wantBaseURL: "", wantPrevious: "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			viper.Set("base_url", "http://notify.internal")
			viper.Set("user_id", "u1")
			viper.Set("token", "jwt")
			viper.Set("api_key", "zl_svc_key")

			if got := clearCredentials(tt.all); got != tt.wantPrevious {
				t.Errorf("previous = %q, want %q", got, tt.wantPrevious)
			}
			for _, key := range credentialKeys {
				if v := viper.GetString(key); v != "" {
					t.Errorf("%s = %q after logout", key, v)
				}
			}
			if got := viper.GetString("base_url"); got != tt.wantBaseURL {
				t.Errorf("base_url = %q, want %q", got, tt.wantBaseURL)
			}
		})
	}
}
