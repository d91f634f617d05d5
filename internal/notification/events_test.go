package notification

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		data    string
		want    Type
		wantErr bool
	}{
		{"new todo", TypeNewTodo, `{"todo":{"id":"t1","title":"Buy milk"}}`, TypeNewTodo, false},
		{"due soon", TypeDueSoon, `{"todo":{"id":"t1","title":"Buy milk","due_date":"2026-03-05T09:30:00Z"}}`, TypeDueSoon, false},
		{"profile without data", TypeProfileCreated, ``, TypeProfileCreated, false},
		{"custom", TypeCustom, `{"message":"hi"}`, TypeCustom, false},
		{"custom without message", TypeCustom, `{}`, "", true},
		{"todo without id", TypeTodoDeleted, `{"todo":{"title":"x"}}`, "", true},
		{"bad json", TypeNewTodo, `{"todo":`, "", true},
		{"unknown type", Type("birthday"), `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent(tt.typ, json.RawMessage(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && ev.Type() != tt.want {
				t.Errorf("type = %s, want %s", ev.Type(), tt.want)
			}
		})
	}

	if _, err := ParseEvent(Type("birthday"), nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("unknown type err = %v, want ErrInvalidType", err)
	}
}

func TestRelatedItemID(t *testing.T) {
	if id := (TodoCompleted{Todo: todo("t1", "x")}).RelatedItemID(); id == nil || *id != "t1" {
		t.Errorf("todo event related = %v", id)
	}
	if id := (ProfileCreated{}).RelatedItemID(); id != nil {
		t.Errorf("profile event related = %v, want nil", *id)
	}
	empty := ""
	if id := (Custom{RelatedItem: &empty, Message: "m"}).RelatedItemID(); id != nil {
		t.Error("empty custom related item must be nil")
	}
}

func TestRouter_Describe(t *testing.T) {
	due := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	r := NewRouter(nil, Assets{AppURL: "https://zenlist.app", IconURL: "/icon.png", BadgeURL: "/badge.png"}, time.UTC)

	tests := []struct {
		name        string
		ev          Event
		wantMessage string
		wantPush    bool
		wantEmail   bool
		wantSubject string
	}{
		{
			name:        "due soon",
			ev:          TodoDueSoon{Todo: TodoRef{ID: "t1", Title: "Pay rent", DueDate: &due}},
			wantMessage: `Your todo "Pay rent" is due soon`,
			wantPush:    true,
			wantEmail:   true,
			wantSubject: "Reminder: Pay rent is due soon",
		},
		{
			name:        "new todo with due date",
			ev:          TodoCreated{Todo: TodoRef{ID: "t1", Title: "Pay rent", DueDate: &due}},
			wantMessage: `New todo created: "Pay rent" (due Thu, Mar 5 2026 09:30)`,
			wantPush:    true,
			wantEmail:   true,
			wantSubject: "New todo: Pay rent",
		},
		{
			name:        "updated has no email",
			ev:          TodoUpdated{Todo: todo("t1", "Pay rent"), Changes: []string{"title", "priority"}},
			wantMessage: `Todo "Pay rent" was updated: title, priority`,
			wantPush:    true,
		},
		{
			name:        "profile created",
			ev:          ProfileCreated{DisplayName: "Ada"},
			wantMessage: "Welcome to ZenList, Ada! Your profile is ready",
			wantPush:    true,
			wantEmail:   true,
			wantSubject: "Welcome to ZenList",
		},
		{
			name:        "profile updated is realtime only",
			ev:          ProfileUpdated{},
			wantMessage: "Your profile was updated",
		},
		{
			name:        "custom",
			ev:          Custom{Title: "Heads up", Message: "Maintenance tonight"},
			wantMessage: "Maintenance tonight",
			wantPush:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Describe(tt.ev)
			if err != nil {
				t.Fatalf("Describe: %v", err)
			}
			if d.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", d.Message, tt.wantMessage)
			}
			if d.Realtime == nil {
				t.Error("realtime payload missing")
			}
			if (d.Push != nil) != tt.wantPush {
				t.Fatalf("push payload present = %v, want %v", d.Push != nil, tt.wantPush)
			}
			if d.Push != nil {
				if d.Push.Body != d.Message || d.Push.Icon != "/icon.png" || d.Push.Badge != "/badge.png" {
					t.Errorf("push payload = %+v", d.Push)
				}
				if d.Push.Data["type"] != string(tt.ev.Type()) {
					t.Errorf("push data type = %v", d.Push.Data["type"])
				}
			}
			if (d.Email != nil) != tt.wantEmail {
				t.Fatalf("email payload present = %v, want %v", d.Email != nil, tt.wantEmail)
			}
			if d.Email != nil {
				if d.Email.Subject != tt.wantSubject {
					t.Errorf("subject = %q, want %q", d.Email.Subject, tt.wantSubject)
				}
				if !strings.Contains(d.Email.HTML, "https://zenlist.app") {
					t.Error("email does not link to the app")
				}
			}
		})
	}
}

func TestRouter_CustomRules(t *testing.T) {
	r := NewRouter(map[Type]RoutingConfig{TypeDueSoon: {Email: true}}, Assets{}, nil)

	d, err := r.Describe(TodoDueSoon{Todo: todo("t1", "x")})
	if err != nil {
		t.Fatal(err)
	}
	if d.Realtime != nil || d.Push != nil || d.Email == nil {
		t.Errorf("descriptor ignores rules: %+v", d)
	}
	if _, err := r.Describe(TodoOverdue{Todo: todo("t1", "x")}); !errors.Is(err, ErrInvalidType) {
		t.Errorf("unrouted type err = %v, want ErrInvalidType", err)
	}
}

func TestRenderEmailTemplateEscapes(t *testing.T) {
	html, err := RenderEmailTemplate(TypeNewTodo, EmailData{Heading: "New todo", Message: `<script>alert(1)</script>`})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("message was not escaped")
	}
	if !strings.Contains(html, "<h1>New todo</h1>") {
		t.Error("content block not injected into layout")
	}
}
