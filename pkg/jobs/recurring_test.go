package jobs_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/jobs"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

var recipients = []string{"finance@example.com"}

func TestDefaultSchedules(t *testing.T) {
	t.Parallel()

	byName := make(map[string]jobs.Schedule)
	for _, s := range jobs.DefaultSchedules(recipients) {
		byName[s.Name] = s
	}
	assert.Equal(t, "0 6 * * *", byName[jobs.ScheduleDailyReports].Cron)
	assert.Equal(t, "0 8 * * 1", byName[jobs.ScheduleWeeklyReports].Cron)
	assert.Equal(t, "0 * * * *", byName[jobs.ScheduleAnalyticsAggregation].Cron)
	assert.Equal(t, recipients, byName[jobs.ScheduleDailyReports].Recipients)
}

func TestSchedule_QueueAndRunnable(t *testing.T) {
	t.Parallel()

	for _, s := range jobs.DefaultSchedules(nil) {
		assert.NotEmpty(t, s.Queue(), s.Name)
	}

	noRecipients := jobs.DefaultSchedules(nil)
	assert.False(t, noRecipients[0].Runnable())
	assert.False(t, noRecipients[1].Runnable())
	assert.True(t, noRecipients[2].Runnable())
	assert.Equal(t, jobs.QueueAnalytics, noRecipients[2].Queue())

	withRecipients := jobs.DefaultSchedules(recipients)
	assert.True(t, withRecipients[0].Runnable())
	assert.Equal(t, jobs.QueueDailyReports, withRecipients[0].Queue())

	disabled := withRecipients[2]
	disabled.Disabled = true
	assert.False(t, disabled.Runnable())

	assert.False(t, jobs.Schedule{Name: "cleanup", Cron: "* * * * *"}.Runnable())
}

func TestLoadSchedules(t *testing.T) {
	t.Parallel()

	t.Run("overrides by name", func(t *testing.T) {
		t.Parallel()
		src := `
recurring:
  - name: daily-reports
    cron: "30 5 * * *"
    format: csv
    recipients: [ceo@example.com]
  - name: analytics-aggregation
    disabled: true
`
		got, err := jobs.LoadSchedules(strings.NewReader(src), jobs.DefaultSchedules(recipients))
		require.NoError(t, err)
		require.Len(t, got, 3)

		assert.Equal(t, "30 5 * * *", got[0].Cron)
		assert.Equal(t, jobs.FormatCSV, got[0].Format)
		assert.Equal(t, jobs.ReportAll, got[0].ReportType)
		assert.Equal(t, []string{"ceo@example.com"}, got[0].Recipients)
		assert.Equal(t, "0 8 * * 1", got[1].Cron)
		assert.True(t, got[2].Disabled)
	})

	t.Run("empty input keeps defaults", func(t *testing.T) {
		t.Parallel()
		got, err := jobs.LoadSchedules(strings.NewReader(""), jobs.DefaultSchedules(recipients))
		require.NoError(t, err)
		assert.Equal(t, jobs.DefaultSchedules(recipients), got)
	})

	t.Run("unknown entry", func(t *testing.T) {
		t.Parallel()
		_, err := jobs.LoadSchedules(strings.NewReader("recurring:\n  - name: monthly\n"), jobs.DefaultSchedules(recipients))
		assert.ErrorIs(t, err, jobs.ErrUnknownScheduleEntry)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := jobs.LoadSchedules(strings.NewReader("recurring:\n  - name: daily-reports\n    when: never\n"), nil)
		assert.ErrorIs(t, err, jobs.ErrInvalidSchedule)
	})

	t.Run("no file", func(t *testing.T) {
		t.Parallel()
		base := jobs.DefaultSchedules(recipients)
		got, err := jobs.LoadSchedulesFile("", base)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})
}

func TestRecurringJobs(t *testing.T) {
	t.Parallel()

	recs, err := jobs.RecurringJobs(jobs.DefaultSchedules(recipients))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	firedAt := time.Date(2025, 3, 10, 8, 0, 12, 0, time.UTC) // Monday

	byKey := make(map[string]queue.Recurring)
	for _, r := range recs {
		byKey[r.DedupeKey] = r
	}

	daily := byKey[jobs.ScheduleDailyReports]
	assert.Equal(t, jobs.QueueDailyReports, daily.Queue)
	assert.Equal(t, jobs.TypeGenerateDailyReport, daily.JobType)
	dp := daily.Payload(firedAt).(jobs.ReportPayload)
	assert.Equal(t, "2025-03-09", dp.Date)
	require.NoError(t, dp.Validate())

	weekly := byKey[jobs.ScheduleWeeklyReports]
	wp := weekly.Payload(firedAt).(jobs.ReportPayload)
	assert.Equal(t, "2025-03-03", wp.WeekStart)
	assert.Equal(t, "2025-03-09", wp.WeekEnd)
	require.NoError(t, wp.Validate())

	agg := byKey[jobs.ScheduleAnalyticsAggregation]
	assert.Equal(t, jobs.QueueAnalytics, agg.Queue)
	ap := agg.Payload(firedAt).(jobs.AnalyticsAggregate)
	assert.True(t, time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC).Equal(ap.Hour))
}

func TestRecurringJobs_Errors(t *testing.T) {
	t.Parallel()

	_, err := jobs.RecurringJobs(jobs.DefaultSchedules(nil))
	assert.ErrorIs(t, err, jobs.ErrInvalidSchedule)

	schedules := jobs.DefaultSchedules(recipients)
	schedules[0].Timezone = "Mars/Olympus"
	_, err = jobs.RecurringJobs(schedules)
	assert.ErrorIs(t, err, jobs.ErrInvalidSchedule)

	schedules = jobs.DefaultSchedules(nil)
	schedules[0].Disabled = true
	schedules[1].Disabled = true
	recs, err := jobs.RecurringJobs(schedules)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecurringJobs_DailyReportFiresOncePerDay(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC))
	log, _ := newTestLogger()
	reg, broker := newMarketRegistry(t, clock, log)

	recs, err := jobs.RecurringJobs(jobs.DefaultSchedules(recipients))
	require.NoError(t, err)

	s, err := queue.NewScheduler(reg, queue.WithSchedulerClock(clock.Now), queue.WithSchedulerLogger(log))
	require.NoError(t, err)
	require.NoError(t, s.Register(recs...))

	ctx := context.Background()
	outcome, err := s.Fire(ctx, jobs.ScheduleDailyReports)
	require.NoError(t, err)
	assert.Equal(t, queue.FireEnqueued, outcome)

	// The first instance is now active on a worker.
	env, err := broker.Lease(ctx, jobs.QueueDailyReports, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, env)

	clock.Advance(time.Minute)
	outcome, err = s.Fire(ctx, jobs.ScheduleDailyReports)
	require.NoError(t, err)
	assert.Equal(t, queue.FireSkipped, outcome)

	c, err := broker.Counts(ctx, jobs.QueueDailyReports)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Total())
}
