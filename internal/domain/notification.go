package domain

import "time"

// NotificationEntry is one delivery attempt. Entries are append-only: status
// fields are updated after the attempt, but an entry is never deleted, only
// marked read.
type NotificationEntry struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Channel     Channel           `json:"channel"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Kind        string            `json:"kind"` // type/severity tag (reminder, milestone, system, ...)
	Sent        bool              `json:"sent"`
	SentAt      *time.Time        `json:"sentAt,omitempty"`
	Delivered   bool              `json:"delivered"`
	DeliveredAt *time.Time        `json:"deliveredAt,omitempty"`
	Read        bool              `json:"read"`
	ReadAt      *time.Time        `json:"readAt,omitempty"`
	ReminderID  string            `json:"reminderId,omitempty"` // optional originating reminder
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"` // UTC
}
