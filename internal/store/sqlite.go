package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/kumona/notify-core/internal/domain"
)

// claimDefer is how far ClaimDue pushes a claimed reminder's next_at forward.
// The scheduler overwrites it with the real recomputed occurrence right after
// dispatch; if the process dies in between, the reminder refires after this
// interval instead of being lost.
const claimDefer = 5 * time.Minute

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Apply PRAGMAs and run migrations.
	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// --- Reminders ---

const reminderColumns = `id, user_id, kind, title, message, frequency, hour, minute,
       days, push, email, in_app, next_at, last_sent_at, active, meta, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var (
		rem        domain.Reminder
		freq       string
		daysCSV    string
		pushInt    int
		emailInt   int
		inAppInt   int
		nextAt     int64
		lastSentNS sql.NullInt64
		activeInt  int
		meta       string
		createdAt  int64
	)
	if err := row.Scan(
		&rem.ID, &rem.UserID, &rem.Kind, &rem.Title, &rem.Message,
		&freq, &rem.TimeOfDay.Hour, &rem.TimeOfDay.Minute, &daysCSV,
		&pushInt, &emailInt, &inAppInt, &nextAt, &lastSentNS, &activeInt,
		&meta, &createdAt,
	); err != nil {
		return nil, err
	}
	rem.Frequency = domain.Frequency(freq)
	rem.Days = daysFromCSV(daysCSV)
	rem.Push = pushInt != 0
	rem.Email = emailInt != 0
	rem.InApp = inAppInt != 0
	rem.NextAt = time.Unix(nextAt, 0).UTC()
	rem.LastSent = fromNullInt64(lastSentNS)
	rem.Active = activeInt != 0
	rem.Meta = metaFromJSON(meta)
	rem.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rem, nil
}

// CreateReminder inserts a new reminder. An empty ID is assigned a UUID.
func (r *SQLiteRepo) CreateReminder(ctx context.Context, rem *domain.Reminder) error {
	if rem == nil {
		return errors.New("nil reminder")
	}
	if rem.ID == "" {
		rem.ID = uuid.NewString()
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminders (
			id, user_id, kind, title, message, frequency, hour, minute,
			days, push, email, in_app, next_at, last_sent_at, active, meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rem.ID, rem.UserID, rem.Kind, rem.Title, rem.Message,
		string(rem.Frequency), rem.TimeOfDay.Hour, rem.TimeOfDay.Minute,
		daysToCSV(rem.Days), boolToInt(rem.Push), boolToInt(rem.Email), boolToInt(rem.InApp),
		rem.NextAt.UTC().Unix(), toNullInt64(rem.LastSent), boolToInt(rem.Active),
		metaToJSON(rem.Meta), rem.CreatedAt.UTC().Unix(),
	)
	return err
}

// GetReminder returns a reminder by id or an error if not found.
func (r *SQLiteRepo) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = ?`,
		id,
	)
	return scanReminder(row)
}

// ListReminders returns all reminders owned by a user, newest first.
func (r *SQLiteRepo) ListReminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE user_id = ?
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rem)
	}
	return res, rows.Err()
}

// ClaimDue selects up to `limit` active due reminders and, inside the same
// transaction, moves their next_at out of the due window. Two ticks claiming
// concurrently therefore partition the due set instead of double-firing.
func (r *SQLiteRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE active = 1
		  AND next_at <= ?
		ORDER BY next_at ASC
		LIMIT ?`,
		now.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, err
	}

	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		res = append(res, *rem)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	deferred := now.Add(claimDefer).UTC().Unix()
	for _, rem := range res {
		if _, err := tx.ExecContext(ctx, `
			UPDATE reminders SET next_at = ? WHERE id = ?`,
			deferred, rem.ID,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// SetSchedule updates next_at and (optionally) last_sent_at for a reminder.
func (r *SQLiteRepo) SetSchedule(ctx context.Context, id string, next time.Time, lastSent *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET next_at = ?, last_sent_at = ?
		WHERE id = ?`,
		next.UTC().Unix(), toNullInt64(lastSent), id,
	)
	return err
}

// SetActive toggles the active flag. The user id is part of the predicate so a
// caller cannot deactivate someone else's reminder.
func (r *SQLiteRepo) SetActive(ctx context.Context, id, userID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET active = ?
		WHERE id = ? AND user_id = ?`,
		boolToInt(active), id, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Notification log ---

const entryColumns = `id, user_id, channel, title, message, kind, sent, sent_at,
       delivered, delivered_at, read, read_at, reminder_id, meta, created_at`

func scanEntry(row rowScanner) (*domain.NotificationEntry, error) {
	var (
		e            domain.NotificationEntry
		channel      string
		sentInt      int
		sentNS       sql.NullInt64
		deliveredInt int
		deliveredNS  sql.NullInt64
		readInt      int
		readNS       sql.NullInt64
		meta         string
		createdAt    int64
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &channel, &e.Title, &e.Message, &e.Kind,
		&sentInt, &sentNS, &deliveredInt, &deliveredNS, &readInt, &readNS,
		&e.ReminderID, &meta, &createdAt,
	); err != nil {
		return nil, err
	}
	e.Channel = domain.Channel(channel)
	e.Sent = sentInt != 0
	e.SentAt = fromNullInt64(sentNS)
	e.Delivered = deliveredInt != 0
	e.DeliveredAt = fromNullInt64(deliveredNS)
	e.Read = readInt != 0
	e.ReadAt = fromNullInt64(readNS)
	e.Meta = metaFromJSON(meta)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &e, nil
}

// CreateEntry inserts a new notification log entry. An empty ID is assigned a UUID.
func (r *SQLiteRepo) CreateEntry(ctx context.Context, e *domain.NotificationEntry) error {
	if e == nil {
		return errors.New("nil entry")
	}
	if e.Delivered && !e.Sent {
		return errors.New("delivered entry must be sent")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, channel, title, message, kind, sent, sent_at,
			delivered, delivered_at, read, read_at, reminder_id, meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Channel), e.Title, e.Message, e.Kind,
		boolToInt(e.Sent), toNullInt64(e.SentAt),
		boolToInt(e.Delivered), toNullInt64(e.DeliveredAt),
		boolToInt(e.Read), toNullInt64(e.ReadAt),
		e.ReminderID, metaToJSON(e.Meta), e.CreatedAt.UTC().Unix(),
	)
	return err
}

// UpdateEntryStatus records the outcome of a delivery attempt.
func (r *SQLiteRepo) UpdateEntryStatus(ctx context.Context, id string, sent bool, sentAt *time.Time, delivered bool, deliveredAt *time.Time) error {
	if delivered && !sent {
		return errors.New("delivered entry must be sent")
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET sent = ?, sent_at = ?, delivered = ?, delivered_at = ?
		WHERE id = ?`,
		boolToInt(sent), toNullInt64(sentAt),
		boolToInt(delivered), toNullInt64(deliveredAt), id,
	)
	return err
}

// ListRecent returns up to `limit` of a user's entries, newest first.
func (r *SQLiteRepo) ListRecent(ctx context.Context, userID string, limit int) ([]domain.NotificationEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.NotificationEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}
	return res, rows.Err()
}

// CountUnread returns the number of unread entries for a user.
func (r *SQLiteRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND read = 0`,
		userID,
	).Scan(&n)
	return n, err
}

// MarkRead marks one entry read. Unknown id or wrong owner returns sql.ErrNoRows.
func (r *SQLiteRepo) MarkRead(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET read = 1, read_at = ?
		WHERE id = ? AND user_id = ? AND read = 0`,
		time.Now().UTC().Unix(), id, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead marks every unread entry for a user and returns how many changed.
// Calling it twice is safe; the second call marks 0.
func (r *SQLiteRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET read = 1, read_at = ?
		WHERE user_id = ? AND read = 0`,
		time.Now().UTC().Unix(), userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
