package notification

import "context"

// RealtimeEvent is the event name a stored notification is published under.
const RealtimeEvent = "newNotification"

// RealtimePublisher delivers payload to every live connection in a user's room
// and reports how many connections it reached.
type RealtimePublisher interface {
	Publish(userID, event string, payload any) int
}

type PushResult int

const (
	PushFailed PushResult = iota
	PushDelivered
	// PushGone means the push service no longer knows the endpoint; the subscription should be dropped.
	PushGone
)

func (r PushResult) String() string {
	switch r {
	case PushDelivered:
		return "delivered"
	case PushGone:
		return "gone"
	default:
		return "failed"
	}
}

// PushDeliverer sends an encrypted payload to one browser subscription.
type PushDeliverer interface {
	Deliver(ctx context.Context, sub *Subscription, payload []byte) (PushResult, error)
}

type EmailResult int

const (
	EmailFailed EmailResult = iota
	EmailSent
	EmailSkipped
)

func (r EmailResult) String() string {
	switch r {
	case EmailSent:
		return "sent"
	case EmailSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// EmailSender sends one transactional email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) (EmailResult, error)
}

// Channels groups the three delivery adapters a Dispatcher fans out to.
// A nil adapter disables its channel.
type Channels struct {
	Realtime RealtimePublisher
	Push     PushDeliverer
	Email    EmailSender
}

// RealtimeMessage is the data of a newNotification frame.
type RealtimeMessage struct {
	*Notification
	Title string   `json:"title,omitempty"`
	Todo  *TodoRef `json:"todo,omitempty"`
}
