package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is a notification-worthy occurrence. The set of implementations is closed;
// each one carries exactly the fields its notification needs.
type Event interface {
	Type() Type
	RelatedItemID() *string
	isEvent()
}

// TodoRef is the slice of a todo that notifications refer to.
type TodoRef struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Priority string     `json:"priority,omitempty"`
}

func (t TodoRef) validate() error {
	if t.ID == "" {
		return errors.New("todo id is required")
	}
	if t.Title == "" {
		return errors.New("todo title is required")
	}
	return nil
}

func (t TodoRef) ref() *string {
	id := t.ID
	return &id
}

type TodoCreated struct {
	Todo TodoRef `json:"todo"`
}

type TodoUpdated struct {
	Todo    TodoRef  `json:"todo"`
	Changes []string `json:"changes,omitempty"`
}

type TodoCompleted struct {
	Todo TodoRef `json:"todo"`
}

type TodoDeleted struct {
	Todo TodoRef `json:"todo"`
}

type TodoDueSoon struct {
	Todo TodoRef `json:"todo"`
}

type TodoOverdue struct {
	Todo TodoRef `json:"todo"`
}

type ProfileCreated struct {
	DisplayName string `json:"display_name,omitempty"`
}

type ProfileUpdated struct {
	DisplayName string   `json:"display_name,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// Custom is a free-form notification, optionally tied to an item.
type Custom struct {
	RelatedItem *string `json:"related_item_id,omitempty"`
	Title       string  `json:"title,omitempty"`
	Message     string  `json:"message"`
	URL         string  `json:"url,omitempty"`
}

func (TodoCreated) Type() Type    { return TypeNewTodo }
func (TodoUpdated) Type() Type    { return TypeTodoUpdated }
func (TodoCompleted) Type() Type  { return TypeTodoCompleted }
func (TodoDeleted) Type() Type    { return TypeTodoDeleted }
func (TodoDueSoon) Type() Type    { return TypeDueSoon }
func (TodoOverdue) Type() Type    { return TypeOverdue }
func (ProfileCreated) Type() Type { return TypeProfileCreated }
func (ProfileUpdated) Type() Type { return TypeProfileUpdated }
func (Custom) Type() Type         { return TypeCustom }

func (e TodoCreated) RelatedItemID() *string   { return e.Todo.ref() }
func (e TodoUpdated) RelatedItemID() *string   { return e.Todo.ref() }
func (e TodoCompleted) RelatedItemID() *string { return e.Todo.ref() }
func (e TodoDeleted) RelatedItemID() *string   { return e.Todo.ref() }
func (e TodoDueSoon) RelatedItemID() *string   { return e.Todo.ref() }
func (e TodoOverdue) RelatedItemID() *string   { return e.Todo.ref() }
func (ProfileCreated) RelatedItemID() *string  { return nil }
func (ProfileUpdated) RelatedItemID() *string  { return nil }

func (e Custom) RelatedItemID() *string {
	if e.RelatedItem == nil || *e.RelatedItem == "" {
		return nil
	}
	id := *e.RelatedItem
	return &id
}

func (TodoCreated) isEvent()    {}
func (TodoUpdated) isEvent()    {}
func (TodoCompleted) isEvent()  {}
func (TodoDeleted) isEvent()    {}
func (TodoDueSoon) isEvent()    {}
func (TodoOverdue) isEvent()    {}
func (ProfileCreated) isEvent() {}
func (ProfileUpdated) isEvent() {}
func (Custom) isEvent()         {}

// todoOf returns the todo an event refers to, if any.
func todoOf(ev Event) (TodoRef, bool) {
	switch e := ev.(type) {
	case TodoCreated:
		return e.Todo, true
	case TodoUpdated:
		return e.Todo, true
	case TodoCompleted:
		return e.Todo, true
	case TodoDeleted:
		return e.Todo, true
	case TodoDueSoon:
		return e.Todo, true
	case TodoOverdue:
		return e.Todo, true
	}
	return TodoRef{}, false
}

// Validate checks the fields an event needs to be described.
func Validate(ev Event) error {
	if ev == nil {
		return errors.New("event is nil")
	}
	if todo, ok := todoOf(ev); ok {
		if err := todo.validate(); err != nil {
			return fmt.Errorf("%s: %w", ev.Type(), err)
		}
		return nil
	}
	if c, ok := ev.(Custom); ok && c.Message == "" {
		return errors.New("custom: message is required")
	}
	return nil
}

// ParseEvent decodes the JSON data of a queue or HTTP payload into the event for t.
func ParseEvent(t Type, data json.RawMessage) (Event, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	var (
		ev  Event
		err error
	)
	switch t {
	case TypeNewTodo:
		ev, err = decode[TodoCreated](data)
	case TypeTodoUpdated:
		ev, err = decode[TodoUpdated](data)
	case TypeTodoCompleted:
		ev, err = decode[TodoCompleted](data)
	case TypeTodoDeleted:
		ev, err = decode[TodoDeleted](data)
	case TypeDueSoon:
		ev, err = decode[TodoDueSoon](data)
	case TypeOverdue:
		ev, err = decode[TodoOverdue](data)
	case TypeProfileCreated:
		ev, err = decode[ProfileCreated](data)
	case TypeProfileUpdated:
		ev, err = decode[ProfileUpdated](data)
	case TypeCustom:
		ev, err = decode[Custom](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", t, err)
	}
	if err := Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func decode[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
