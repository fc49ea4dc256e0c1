package store

import (
	"context"
	"time"

	"github.com/kumona/notify-core/internal/domain"
)

// Repo defines storage operations for reminders and the notification log.
type Repo interface {
	// Reminders.
	CreateReminder(ctx context.Context, r *domain.Reminder) error
	GetReminder(ctx context.Context, id string) (*domain.Reminder, error)
	ListReminders(ctx context.Context, userID string) ([]domain.Reminder, error)
	// ClaimDue returns up to limit active reminders with nextAt <= now and, in
	// the same transaction, pushes their nextAt forward so a concurrent claim
	// cannot select them again. Returned reminders carry their pre-claim state.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	SetSchedule(ctx context.Context, id string, next time.Time, lastSent *time.Time) error
	SetActive(ctx context.Context, id, userID string, active bool) error

	// Notification log. Entries are created before any live delivery attempt
	// and never deleted.
	CreateEntry(ctx context.Context, e *domain.NotificationEntry) error
	UpdateEntryStatus(ctx context.Context, id string, sent bool, sentAt *time.Time, delivered bool, deliveredAt *time.Time) error
	ListRecent(ctx context.Context, userID string, limit int) ([]domain.NotificationEntry, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	Close() error
}
