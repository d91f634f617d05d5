package notification

import (
	"fmt"
	"strings"
	"time"
)

// RoutingConfig defines which channels to notify for each notification type.
type RoutingConfig struct {
	Realtime bool
	Push     bool
	Email    bool
}

// DefaultRoutingRules defines the default routing for each notification type.
var DefaultRoutingRules = map[Type]RoutingConfig{
	TypeNewTodo:        {Realtime: true, Push: true, Email: true},
	TypeTodoUpdated:    {Realtime: true, Push: true},
	TypeTodoCompleted:  {Realtime: true, Push: true, Email: true},
	TypeTodoDeleted:    {Realtime: true, Push: true},
	TypeDueSoon:        {Realtime: true, Push: true, Email: true},
	TypeOverdue:        {Realtime: true, Push: true, Email: true},
	TypeProfileCreated: {Realtime: true, Push: true, Email: true},
	TypeProfileUpdated: {Realtime: true},
	TypeCustom:         {Realtime: true, Push: true},
}

// RealtimeExtras travel next to the stored notification in the realtime frame.
type RealtimeExtras struct {
	Title string   `json:"title,omitempty"`
	Todo  *TodoRef `json:"todo,omitempty"`
}

// PushPayload is the JSON document the service worker turns into an OS notification.
type PushPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type EmailPayload struct {
	Subject string
	HTML    string
}

// Descriptor is everything one dispatch needs: the dedup key fields, the stored message
// and the optional per-channel payloads. A nil payload disables that channel.
type Descriptor struct {
	Type          Type
	RelatedItemID *string
	Message       string
	Realtime      *RealtimeExtras
	Push          *PushPayload
	Email         *EmailPayload
}

// Assets are the links and images embedded in push and email payloads.
type Assets struct {
	AppURL   string
	IconURL  string
	BadgeURL string
}

// Router turns events into descriptors according to its routing rules.
type Router struct {
	rules    map[Type]RoutingConfig
	assets   Assets
	location *time.Location
}

// NewRouter creates a router. Nil rules mean DefaultRoutingRules; due dates in messages
// are rendered in loc (UTC when nil).
func NewRouter(rules map[Type]RoutingConfig, assets Assets, loc *time.Location) *Router {
	if rules == nil {
		rules = DefaultRoutingRules
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Router{rules: rules, assets: assets, location: loc}
}

// Describe builds the descriptor for ev.
func (r *Router) Describe(ev Event) (*Descriptor, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}
	t := ev.Type()
	config, ok := r.rules[t]
	if !ok {
		return nil, fmt.Errorf("%w: no routing rules for %q", ErrInvalidType, t)
	}

	d := &Descriptor{Type: t, RelatedItemID: ev.RelatedItemID()}
	title := pushTitles[t]
	link := r.assets.AppURL
	var emailData EmailData

	todo, isTodo := todoOf(ev)
	switch e := ev.(type) {
	case Custom:
		d.Message = e.Message
		if e.Title != "" {
			title = e.Title
		}
		if e.URL != "" {
			link = e.URL
		}
		emailData = EmailData{Heading: title, Message: e.Message}
	case ProfileCreated:
		msg, err := RenderMessage(t, messageData{DisplayName: e.DisplayName})
		if err != nil {
			return nil, err
		}
		d.Message = msg
		emailData = EmailData{Name: e.DisplayName}
	case ProfileUpdated:
		msg, err := RenderMessage(t, messageData{DisplayName: e.DisplayName, Changes: strings.Join(e.Fields, ", ")})
		if err != nil {
			return nil, err
		}
		d.Message = msg
	default:
		data := messageData{Todo: todo, Due: r.formatDue(todo.DueDate)}
		if u, ok := ev.(TodoUpdated); ok {
			data.Changes = strings.Join(u.Changes, ", ")
		}
		msg, err := RenderMessage(t, data)
		if err != nil {
			return nil, err
		}
		d.Message = msg
		emailData = EmailData{
			Heading:  title,
			Message:  msg,
			Due:      data.Due,
			Priority: todo.Priority,
		}
	}

	if config.Realtime {
		d.Realtime = &RealtimeExtras{Title: title}
		if isTodo {
			ref := todo
			d.Realtime.Todo = &ref
		}
	}

	if config.Push {
		data := map[string]any{"type": string(t)}
		if d.RelatedItemID != nil {
			data["related_item_id"] = *d.RelatedItemID
		}
		if link != "" {
			data["url"] = link
		}
		d.Push = &PushPayload{
			Title: title,
			Body:  d.Message,
			Icon:  r.assets.IconURL,
			Badge: r.assets.BadgeURL,
			Data:  data,
		}
	}

	if config.Email {
		emailData.Link = link
		html, err := RenderEmailTemplate(t, emailData)
		if err != nil {
			return nil, fmt.Errorf("render email for %s: %w", t, err)
		}
		d.Email = &EmailPayload{Subject: GetEmailSubject(t, todo.Title), HTML: html}
	}

	return d, nil
}

func (r *Router) formatDue(due *time.Time) string {
	if due == nil {
		return ""
	}
	return due.In(r.location).Format("Mon, Jan 2 2006 15:04")
}
