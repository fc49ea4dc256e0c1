package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kumona/notify-core/internal/dispatch"
	"github.com/kumona/notify-core/internal/domain"
	"github.com/kumona/notify-core/internal/registry"
	"github.com/kumona/notify-core/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, store.Repo) {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	disp := dispatch.NewDispatcher(repo, registry.New(), nil, nil, nil, zap.NewNop(), time.Second)
	return New(repo, disp, zap.NewNop(), time.Minute), repo
}

func dailyReminder(t *testing.T, repo store.Repo, userID string, nextAt time.Time) *domain.Reminder {
	t.Helper()
	rem := &domain.Reminder{
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
	require.NoError(t, repo.CreateReminder(context.Background(), rem))
	return rem
}

func TestTickFiresDueReminderOnce(t *testing.T) {
	sched, repo := newTestScheduler(t)
	ctx := context.Background()

	yesterday9 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	rem := dailyReminder(t, repo, "u1", yesterday9)

	now := time.Date(2025, time.May, 6, 9, 5, 0, 0, time.UTC)
	sched.Tick(ctx, now)

	// one log entry
	list, err := repo.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rem.ID, list[0].ReminderID)
	assert.Equal(t, domain.ChannelInApp, list[0].Channel)

	// rescheduled to tomorrow 09:00, lastSent set
	got, err := repo.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.True(t, got.NextAt.Equal(time.Date(2025, time.May, 7, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, got.LastSent)
	assert.True(t, got.LastSent.Equal(now))

	// a second tick finds nothing due
	sched.Tick(ctx, now.Add(time.Minute))
	list, err = repo.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentTicksFireOnce(t *testing.T) {
	sched, repo := newTestScheduler(t)
	ctx := context.Background()

	dailyReminder(t, repo, "u1", time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC))
	now := time.Date(2025, time.May, 6, 9, 5, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Tick(ctx, now)
		}()
	}
	wg.Wait()

	list, err := repo.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1, "double-triggered tick must not double-fire")
}

func TestTickFansOutEnabledChannels(t *testing.T) {
	sched, repo := newTestScheduler(t)
	ctx := context.Background()

	rem := &domain.Reminder{
		UserID:    "u1",
		Title:     "Checkup",
		Frequency: domain.FreqDaily,
		TimeOfDay: domain.TimeOfDay{Hour: 9},
		InApp:     true,
		Push:      true,
		NextAt:    time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC),
		Active:    true,
	}
	require.NoError(t, repo.CreateReminder(ctx, rem))

	sched.Tick(ctx, time.Date(2025, time.May, 6, 9, 5, 0, 0, time.UTC))

	list, err := repo.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2, "one entry per enabled channel")
	channels := map[domain.Channel]bool{list[0].Channel: true, list[1].Channel: true}
	assert.True(t, channels[domain.ChannelInApp])
	assert.True(t, channels[domain.ChannelPush])
}

func TestTickSkipsInactiveReminders(t *testing.T) {
	sched, repo := newTestScheduler(t)
	ctx := context.Background()

	rem := dailyReminder(t, repo, "u1", time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC))
	require.NoError(t, repo.SetActive(ctx, rem.ID, "u1", false))

	sched.Tick(ctx, time.Date(2025, time.May, 6, 9, 5, 0, 0, time.UTC))

	list, err := repo.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTickSurvivesCorruptSchedule(t *testing.T) {
	sched, repo := newTestScheduler(t)
	ctx := context.Background()

	// weekly reminder whose day-set was lost: NextOccurrence fails, the tick
	// must keep going and still fire the healthy reminder.
	broken := &domain.Reminder{
		UserID:    "u1",
		Title:     "Broken",
		Frequency: domain.FreqWeekly,
		TimeOfDay: domain.TimeOfDay{Hour: 9},
		InApp:     true,
		NextAt:    time.Date(2025, time.May, 5, 8, 0, 0, 0, time.UTC),
		Active:    true,
	}
	require.NoError(t, repo.CreateReminder(ctx, broken))
	healthy := dailyReminder(t, repo, "u2", time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC))

	sched.Tick(ctx, time.Date(2025, time.May, 6, 9, 5, 0, 0, time.UTC))

	list, err := repo.ListRecent(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, healthy.ID, list[0].ReminderID)
}
