package models

import "time"

type NotificationType string

const (
	NotificationInfo        NotificationType = "info"
	NotificationSuccess     NotificationType = "success"
	NotificationWarning     NotificationType = "warning"
	NotificationAchievement NotificationType = "achievement"
)

// NotificationPayload is what callers hand to the sink.
type NotificationPayload struct {
	Type     NotificationType `json:"type"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Link     string           `json:"link,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Notification is a stored entry of a user's notification list.
type Notification struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	NotificationPayload
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
