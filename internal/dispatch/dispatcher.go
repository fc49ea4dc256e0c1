// Package dispatch decides, per notification, between live push and durable
// store-and-forward, and records every attempt in the notification log before
// touching any transport.
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

// EventNotification is the ws event type carrying one notification to a live
// session.
const EventNotification = "notification"

// EventAnnouncement is the ws event type for system-wide broadcasts.
const EventAnnouncement = "announcement"

// Outcome reports what happened to one delivery attempt.
type Outcome struct {
	EntryID   string
	Sent      bool
	Delivered bool
	// Stored is true when an in-app notification for an offline user was
	// persisted for later retrieval. That is a successful outcome, not a
	// failure: the log entry is the delivery.
	Stored bool
}

// NotificationPayload is the wire shape pushed to live sessions.
type NotificationPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"createdAt"`
}

// Dispatcher routes one message to one user over one channel.
type Dispatcher struct {
	repo        store.Repo
	reg         *registry.Registry
	push        PushSender
	email       EmailSender
	addrs       AddressResolver
	log         *zap.Logger
	sendTimeout time.Duration
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher. Any sender may be nil, in which case
// that channel degrades to sent=false with a warning.
func NewDispatcher(repo store.Repo, reg *registry.Registry, push PushSender, email EmailSender, addrs AddressResolver, log *zap.Logger, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		repo:        repo,
		reg:         reg,
		push:        push,
		email:       email,
		addrs:       addrs,
		log:         log,
		sendTimeout: sendTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers one message to one user over one channel.
//
// The log entry is created before any delivery attempt, so a crash mid-send
// still leaves an auditable record. Channel-sender failures never escape this
// boundary; they degrade to sent=false plus a warning. A failed log write does
// escape: proceeding to a live push with no record would break the audit trail.
func (d *Dispatcher) Send(ctx context.Context, userID, title, message, kind string, channel domain.Channel) (Outcome, error) {
	return d.send(ctx, userID, title, message, kind, channel, "")
}

// SendForReminder is Send with the originating reminder recorded on the entry.
func (d *Dispatcher) SendForReminder(ctx context.Context, rem *domain.Reminder, channel domain.Channel) (Outcome, error) {
	return d.send(ctx, rem.UserID, rem.Title, rem.Message, rem.Kind, channel, rem.ID)
}

func (d *Dispatcher) send(ctx context.Context, userID, title, message, kind string, channel domain.Channel, reminderID string) (Outcome, error) {
	entry := &domain.NotificationEntry{
		UserID:     userID,
		Channel:    channel,
		Title:      title,
		Message:    message,
		Kind:       kind,
		ReminderID: reminderID,
		CreatedAt:  d.now(),
	}
	if err := d.repo.CreateEntry(ctx, entry); err != nil {
		return Outcome{}, fmt.Errorf("create notification entry: %w", err)
	}
	out := Outcome{EntryID: entry.ID}

	switch channel {
	case domain.ChannelInApp:
		if !d.reg.IsPresent(userID) {
			// Store-and-forward: the entry waits for the next fetch.
			out.Stored = true
			return out, nil
		}
		payload := NotificationPayload{
			ID:        entry.ID,
			Title:     title,
			Message:   message,
			Kind:      kind,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		}
		if d.reg.DispatchToOne(userID, EventNotification, payload) {
			out.Sent, out.Delivered = true, true
		} else {
			// Every session died between the presence check and the write;
			// the stored entry covers it.
			out.Stored = true
		}

	case domain.ChannelPush:
		out.Sent = d.sendPush(ctx, userID, title, message)
		out.Delivered = out.Sent

	case domain.ChannelEmail:
		out.Sent = d.sendEmail(ctx, userID, title, message)
		out.Delivered = out.Sent

	default:
		d.log.Warn("unknown delivery channel", zap.String("channel", string(channel)), zap.String("userID", userID))
	}

	now := d.now()
	var sentAt, deliveredAt *time.Time
	if out.Sent {
		sentAt = &now
	}
	if out.Delivered {
		deliveredAt = &now
	}
	if err := d.repo.UpdateEntryStatus(ctx, entry.ID, out.Sent, sentAt, out.Delivered, deliveredAt); err != nil {
		return out, fmt.Errorf("update notification entry %s: %w", entry.ID, err)
	}
	return out, nil
}

func (d *Dispatcher) sendPush(ctx context.Context, userID, title, message string) bool {
	if d.push == nil {
		d.log.Warn("push sender not configured", zap.String("userID", userID))
		return false
	}
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	ok, err := d.push.Send(sctx, userID, title, message)
	if err != nil {
		d.log.Warn("push send failed", zap.Error(err), zap.String("userID", userID))
		return false
	}
	return ok
}

func (d *Dispatcher) sendEmail(ctx context.Context, userID, subject, body string) bool {
	if d.email == nil || d.addrs == nil {
		d.log.Warn("email sender not configured", zap.String("userID", userID))
		return false
	}
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	address, err := d.addrs.EmailAddress(sctx, userID)
	if err != nil {
		d.log.Warn("email address lookup failed", zap.Error(err), zap.String("userID", userID))
		return false
	}
	ok, err := d.email.Send(sctx, address, subject, body)
	if err != nil {
		d.log.Warn("email send failed", zap.Error(err), zap.String("userID", userID))
		return false
	}
	return ok
}
