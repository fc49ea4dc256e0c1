package domain

import "time"

// Frequency is how often a reminder recurs.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Channel is a delivery medium with its own sender and success semantics.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// TimeOfDay is a wall-clock firing time (hour:minute).
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Reminder represents a user's recurring reminder and its schedule state.
type Reminder struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Kind      string            `json:"kind"` // free-form type tag (medication, appointment, ...)
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Frequency Frequency         `json:"frequency"`
	TimeOfDay TimeOfDay         `json:"timeOfDay"`
	Days      []time.Weekday    `json:"days,omitempty"` // weekly only
	Push      bool              `json:"push"`
	Email     bool              `json:"email"`
	InApp     bool              `json:"inApp"`
	NextAt    time.Time         `json:"nextAt"`             // UTC
	LastSent  *time.Time        `json:"lastSent,omitempty"` // UTC, nullable
	Active    bool              `json:"active"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"` // UTC
}

// Channels returns the enabled delivery channels, in a fixed order.
func (r *Reminder) Channels() []Channel {
	var out []Channel
	if r.InApp {
		out = append(out, ChannelInApp)
	}
	if r.Push {
		out = append(out, ChannelPush)
	}
	if r.Email {
		out = append(out, ChannelEmail)
	}
	return out
}
