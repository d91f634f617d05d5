package notification

import (
	"fmt"
	"time"
)

// Type tags a notification and is the third component of the dedup key.
type Type string

const (
	TypeDueSoon        Type = "due_soon"
	TypeOverdue        Type = "overdue"
	TypeCustom         Type = "custom"
	TypeNewTodo        Type = "new_todo"
	TypeTodoUpdated    Type = "todo_updated"
	TypeTodoCompleted  Type = "todo_completed"
	TypeTodoDeleted    Type = "todo_deleted"
	TypeProfileCreated Type = "profile_created"
	TypeProfileUpdated Type = "profile_updated"
)

var knownTypes = map[Type]struct{}{
	TypeDueSoon:        {},
	TypeOverdue:        {},
	TypeCustom:         {},
	TypeNewTodo:        {},
	TypeTodoUpdated:    {},
	TypeTodoCompleted:  {},
	TypeTodoDeleted:    {},
	TypeProfileCreated: {},
	TypeProfileUpdated: {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ParseType validates a type tag received from a queue or HTTP payload.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

type Notification struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	RelatedItemID *string    `json:"related_item_id,omitempty"`
	Message       string     `json:"message"`
	Type          Type       `json:"type"`
	Repeatable    bool       `json:"-"`
	Read          bool       `json:"read"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Key returns the dedup key of n.
func (n *Notification) Key() Key {
	return Key{UserID: n.UserID, RelatedItemID: n.RelatedItemID, Type: n.Type}
}

// Key is the (user, related item, type) triple. A nil RelatedItemID is a key value of its own.
type Key struct {
	UserID        string
	RelatedItemID *string
	Type          Type
}

func (k Key) related() string {
	if k.RelatedItemID == nil {
		return ""
	}
	return *k.RelatedItemID
}

func (k Key) String() string {
	if k.RelatedItemID == nil {
		return fmt.Sprintf("%s/-/%s", k.UserID, k.Type)
	}
	return fmt.Sprintf("%s/%s/%s", k.UserID, *k.RelatedItemID, k.Type)
}

// PushKeys is the encryption material a browser hands out with its subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one registered browser or device of a user.
type Subscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	Keys       PushKeys  `json:"keys"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListOptions pages a user's notifications, newest first.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// ReadSelector picks the notifications a mark-read call applies to: every unread one
// of the user when All is set, otherwise the listed ids.
type ReadSelector struct {
	IDs []string
	All bool
}
