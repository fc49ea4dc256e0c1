package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kumona/notify-core/internal/domain"
	"github.com/kumona/notify-core/internal/registry"
	"github.com/kumona/notify-core/internal/store"
)

// ReminderSpec is what a caller supplies to create a reminder. Day names are
// accepted as strings and validated here; unknown names are rejected, never
// defaulted.
type ReminderSpec struct {
	Kind      string
	Title     string
	Message   string
	Frequency domain.Frequency
	Hour      int
	Minute    int
	Days      []string // weekly only
	Push      bool
	Email     bool
	InApp     bool
	Meta      map[string]string
}

// Service is the single entry point domain event sources call. Profile
// updates, diagnosis results, gamification milestones and admin broadcasts all
// come through here; the core has no knowledge of their internal logic.
type Service struct {
	repo store.Repo
	reg  *registry.Registry
	disp *Dispatcher
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo store.Repo, reg *registry.Registry, disp *Dispatcher, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		reg:  reg,
		disp: disp,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers one message to one user on each requested channel. Outcomes
// are per-channel; a failing channel does not stop the others.
func (s *Service) Send(ctx context.Context, userID, title, message, kind string, channels []domain.Channel) ([]Outcome, error) {
	var outcomes []Outcome
	for _, ch := range channels {
		out, err := s.disp.Send(ctx, userID, title, message, kind, ch)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Broadcast sends a system-wide announcement to every live session. It is
// deliberately transient: announcements target whoever is online now, so no
// per-user log entries are written.
func (s *Service) Broadcast(title, message, kind string) {
	s.reg.BroadcastToAll(EventAnnouncement, NotificationPayload{
		Title:     title,
		Message:   message,
		Kind:      kind,
		CreatedAt: s.now().Format(time.RFC3339),
	})
	s.log.Info("broadcast sent", zap.String("title", title), zap.String("kind", kind))
}

// CreateReminder validates the spec, computes the first occurrence and
// persists the reminder.
func (s *Service) CreateReminder(ctx context.Context, userID string, spec ReminderSpec) (*domain.Reminder, error) {
	tod := domain.TimeOfDay{Hour: spec.Hour, Minute: spec.Minute}

	days := make([]time.Weekday, 0, len(spec.Days))
	for _, name := range spec.Days {
		d, err := domain.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	if err := domain.ValidateSchedule(spec.Frequency, tod, days); err != nil {
		return nil, err
	}

	now := s.now()
	next, err := domain.NextOccurrence(spec.Frequency, tod, days, now)
	if err != nil {
		return nil, err
	}

	rem := &domain.Reminder{
		UserID:    userID,
		Kind:      spec.Kind,
		Title:     spec.Title,
		Message:   spec.Message,
		Frequency: spec.Frequency,
		TimeOfDay: tod,
		Days:      days,
		Push:      spec.Push,
		Email:     spec.Email,
		InApp:     spec.InApp,
		NextAt:    next,
		Active:    true,
		Meta:      spec.Meta,
		CreatedAt: now,
	}
	if err := s.repo.CreateReminder(ctx, rem); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	s.log.Info("reminder created",
		zap.String("id", rem.ID),
		zap.String("userID", userID),
		zap.String("frequency", string(rem.Frequency)),
		zap.Time("nextAt", rem.NextAt),
	)
	return rem, nil
}

// DeactivateReminder soft-deactivates a reminder, effective for any future
// tick. A dispatch already in flight for the current tick completes.
func (s *Service) DeactivateReminder(ctx context.Context, id, userID string) error {
	return s.repo.SetActive(ctx, id, userID, false)
}

// ReactivateReminder turns a deactivated reminder back on and recomputes its
// next occurrence so it does not fire immediately for every missed instant.
func (s *Service) ReactivateReminder(ctx context.Context, id, userID string) error {
	rem, err := s.repo.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if rem.UserID != userID {
		return fmt.Errorf("reminder %s not owned by %s", id, userID)
	}
	now := s.now()
	next, err := domain.NextOccurrence(rem.Frequency, rem.TimeOfDay, rem.Days, now)
	if err != nil {
		return err
	}
	if err := s.repo.SetSchedule(ctx, id, next, rem.LastSent); err != nil {
		return err
	}
	return s.repo.SetActive(ctx, id, userID, true)
}

// ListReminders returns a user's reminders.
func (s *Service) ListReminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	return s.repo.ListReminders(ctx, userID)
}

// ListRecent returns a user's most recent notification entries; offline users
// catch up on store-and-forward deliveries through this.
func (s *Service) ListRecent(ctx context.Context, userID string, limit int) ([]domain.NotificationEntry, error) {
	return s.repo.ListRecent(ctx, userID, limit)
}

// MarkRead marks one entry read for its owner.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.repo.MarkRead(ctx, id, userID)
}

// MarkAllRead marks every unread entry for the user, returning the count.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
