package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumona/notify-core/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testReminder(userID string, nextAt time.Time) *domain.Reminder {
	return &domain.Reminder{
		UserID:    userID,
		Kind:      "medication",
		Title:     "Take medication",
		Message:   "Morning dose",
		Frequency: domain.FreqDaily,
		TimeOfDay: domain.TimeOfDay{Hour: 9},
		InApp:     true,
		NextAt:    nextAt,
		Active:    true,
	}
}

func TestReminderRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	next := time.Date(2025, time.May, 6, 9, 0, 0, 0, time.UTC)
	rem := testReminder("u1", next)
	rem.Frequency = domain.FreqWeekly
	rem.Days = []time.Weekday{time.Monday, time.Thursday}
	rem.Meta = map[string]string{"clinicId": "c42"}
	require.NoError(t, repo.CreateReminder(ctx, rem))
	require.NotEmpty(t, rem.ID, "create assigns an id")

	got, err := repo.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, domain.FreqWeekly, got.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, got.Days)
	assert.Equal(t, domain.TimeOfDay{Hour: 9}, got.TimeOfDay)
	assert.True(t, got.NextAt.Equal(next))
	assert.Nil(t, got.LastSent)
	assert.True(t, got.Active)
	assert.Equal(t, "c42", got.Meta["clinicId"])
}

func TestClaimDueExcludesInactiveAndFuture(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := testReminder("u1", now.Add(-time.Hour))
	require.NoError(t, repo.CreateReminder(ctx, due))

	future := testReminder("u1", now.Add(time.Hour))
	require.NoError(t, repo.CreateReminder(ctx, future))

	inactive := testReminder("u2", now.Add(-time.Hour))
	inactive.Active = false
	require.NoError(t, repo.CreateReminder(ctx, inactive))

	claimed, err := repo.ClaimDue(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	// returned state is pre-claim
	assert.True(t, claimed[0].NextAt.Equal(due.NextAt.Truncate(time.Second)))
}

func TestClaimDueIsIdempotentPerDueInstant(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rem := testReminder("u1", now.Add(-time.Minute))
	require.NoError(t, repo.CreateReminder(ctx, rem))

	// Two concurrent ticks must partition the due set, not double-claim.
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		total  int
		errSet []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimDue(ctx, now, 100)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errSet = append(errSet, err)
				return
			}
			total += len(claimed)
		}()
	}
	wg.Wait()
	require.Empty(t, errSet)
	assert.Equal(t, 1, total, "a due reminder is claimed exactly once")

	// The claim pushed next_at forward, out of the due window.
	got, err := repo.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.True(t, got.NextAt.After(now))
}

func TestSetScheduleAndSetActive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rem := testReminder("u1", now.Add(-time.Hour))
	require.NoError(t, repo.CreateReminder(ctx, rem))

	next := now.Add(24 * time.Hour)
	require.NoError(t, repo.SetSchedule(ctx, rem.ID, next, &now))

	got, err := repo.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.True(t, got.NextAt.Equal(next))
	require.NotNil(t, got.LastSent)
	assert.True(t, got.LastSent.Equal(now))

	// wrong owner cannot deactivate
	assert.ErrorIs(t, repo.SetActive(ctx, rem.ID, "intruder", false), sql.ErrNoRows)
	require.NoError(t, repo.SetActive(ctx, rem.ID, "u1", false))

	claimed, err := repo.ClaimDue(ctx, now.Add(48*time.Hour), 100)
	require.NoError(t, err)
	assert.Empty(t, claimed, "deactivated reminders are never claimed")
}

func testEntry(userID string) *domain.NotificationEntry {
	return &domain.NotificationEntry{
		UserID:  userID,
		Channel: domain.ChannelInApp,
		Title:   "Diagnosis ready",
		Message: "Your results are available",
		Kind:    "diagnosis",
	}
}

func TestEntryStatusInvariant(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	e := testEntry("u1")
	e.Delivered = true // delivered without sent
	assert.Error(t, repo.CreateEntry(ctx, e))

	e = testEntry("u1")
	require.NoError(t, repo.CreateEntry(ctx, e))
	now := time.Now().UTC()
	assert.Error(t, repo.UpdateEntryStatus(ctx, e.ID, false, nil, true, &now))
	require.NoError(t, repo.UpdateEntryStatus(ctx, e.ID, true, &now, true, &now))

	list, err := repo.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Sent)
	assert.True(t, list[0].Delivered)
	require.NotNil(t, list[0].SentAt)
}

func TestListRecentOrderAndLimit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		e := testEntry("u1")
		e.Title = string(rune('a' + i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateEntry(ctx, e))
	}
	e := testEntry("other")
	require.NoError(t, repo.CreateEntry(ctx, e))

	list, err := repo.ListRecent(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "e", list[0].Title, "newest first")
	for _, got := range list {
		assert.Equal(t, "u1", got.UserID)
	}
}

func TestMarkReadAndMarkAllRead(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e := testEntry("u1")
		require.NoError(t, repo.CreateEntry(ctx, e))
		ids = append(ids, e.ID)
	}
	other := testEntry("u2")
	require.NoError(t, repo.CreateEntry(ctx, other))

	n, err := repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// wrong owner cannot mark read
	assert.ErrorIs(t, repo.MarkRead(ctx, ids[0], "u2"), sql.ErrNoRows)
	require.NoError(t, repo.MarkRead(ctx, ids[0], "u1"))
	// already read
	assert.ErrorIs(t, repo.MarkRead(ctx, ids[0], "u1"), sql.ErrNoRows)

	count, err := repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	// idempotent: second call marks 0
	count, err = repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// other users untouched
	n, err = repo.CountUnread(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
