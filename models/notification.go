package models

import "time"

// NotificationLevel is the severity shown by the UI toast.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a user-visible message produced at a failure or event
// boundary. Key is the i18n key, Message the rendered text.
type Notification struct {
	ID        string            `json:"id"`
	Level     NotificationLevel `json:"level"`
	Key       string            `json:"key"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}
