package websocket

import "github.com/dukerupert/fichador/internal/notify"

// Message types exchanged between the worker and its pages.
const (
	TypeHello                = "hello"
	TypeNavigate             = "navigate"
	TypeShowNotification     = "show-notification"
	TypeScheduleNotification = "schedule-notification"
	TypeNotificationClick    = "notificationclick"
	TypeNotification         = "notification"
	TypeFocus                = "focus"
	TypeControllerChange     = "controllerchange"
)

// Message is one frame on the inter-context channel. Which fields are set
// depends on Type.
type Message struct {
	Type         string             `json:"type"`
	URL          string             `json:"url,omitempty"`
	Notification *notify.Descriptor `json:"notification,omitempty"`
	Title        string             `json:"title,omitempty"`
	Body         string             `json:"body,omitempty"`
	Tag          string             `json:"tag,omitempty"`
	// Delay is in milliseconds.
	Delay int64 `json:"delay,omitempty"`
	Cache string `json:"cache,omitempty"`
}

// NotificationMessage wraps a descriptor as a message of type typ.
func NotificationMessage(typ string, d notify.Descriptor) Message {
	return Message{Type: typ, Notification: &d}
}
