package job_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/job"
)

func dailySchedule() job.Schedule {
	return job.Schedule{Frequency: job.FrequencyDaily, Hour: 2, Minute: 30}
}

func TestScheduleNext(t *testing.T) {
	tests := []struct {
		name     string
		schedule job.Schedule
		after    time.Time
		want     time.Time
	}{
		{
			name:     "daily before today's slot",
			schedule: dailySchedule(),
			after:    time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC),
			want:     time.Date(2026, 3, 15, 2, 30, 0, 0, time.UTC),
		},
		{
			name:     "daily after today's slot rolls to tomorrow",
			schedule: dailySchedule(),
			after:    time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC),
			want:     time.Date(2026, 3, 16, 2, 30, 0, 0, time.UTC),
		},
		{
			name:     "daily exactly at slot rolls forward",
			schedule: dailySchedule(),
			after:    time.Date(2026, 3, 15, 2, 30, 0, 0, time.UTC),
			want:     time.Date(2026, 3, 16, 2, 30, 0, 0, time.UTC),
		},
		{
			name:     "weekly lands on configured weekday",
			schedule: job.Schedule{Frequency: job.FrequencyWeekly, Hour: 6, Minute: 0, Weekday: time.Monday},
			// 2026-03-15 is a Sunday
			after: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "weekly on same weekday after slot rolls a week",
			schedule: job.Schedule{Frequency: job.FrequencyWeekly, Hour: 6, Minute: 0, Weekday: time.Sunday},
			after:    time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
			want:     time.Date(2026, 3, 22, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(tt.after))
		})
	}
}

func TestScheduleValidate(t *testing.T) {
	assert.NoError(t, dailySchedule().Validate())
	assert.Error(t, job.Schedule{Frequency: "hourly", Hour: 1}.Validate())
	assert.Error(t, job.Schedule{Frequency: job.FrequencyDaily, Hour: 24}.Validate())
	assert.Error(t, job.Schedule{Frequency: job.FrequencyDaily, Minute: 60}.Validate())
}

func TestRecordLifecycle(t *testing.T) {
	clock := &job.MockClock{CurrentTime: time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)}

	rec, err := job.NewRecord("regulatory-monitoring", dailySchedule(), 3, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, job.StatusIdle, rec.Status)
	assert.Equal(t, 3, rec.RetryCountRemaining)
	assert.Equal(t, time.Date(2026, 3, 15, 2, 30, 0, 0, time.UTC), rec.NextRunAt)

	t.Run("successful run", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		require.NoError(t, rec.Start())
		assert.Equal(t, job.StatusRunning, rec.Status)
		assert.Error(t, rec.Start(), "double start rejected")

		require.NoError(t, rec.Succeed(clock.Now()))
		assert.Equal(t, job.StatusSuccess, rec.Status)
		assert.Equal(t, 1, rec.SuccessCount)
		assert.Equal(t, 3, rec.RetryCountRemaining)
		require.NotNil(t, rec.LastRunAt)
		assert.Equal(t, time.Date(2026, 3, 16, 2, 30, 0, 0, time.UTC), rec.NextRunAt)
	})

	t.Run("failed run consumes retries", func(t *testing.T) {
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Fail(clock.Now()))
		assert.Equal(t, job.StatusFailed, rec.Status)
		assert.Equal(t, 1, rec.FailureCount)

		require.True(t, rec.CanRetry())
		require.NoError(t, rec.BeginRetry())
		assert.Equal(t, job.StatusRetrying, rec.Status)
		assert.Equal(t, 2, rec.RetryCountRemaining)
	})

	t.Run("exhaustion", func(t *testing.T) {
		for rec.RetryCountRemaining > 0 {
			require.NoError(t, rec.Start())
			require.NoError(t, rec.Fail(clock.Now()))
			require.NoError(t, rec.BeginRetry())
		}
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Fail(clock.Now()))

		assert.False(t, rec.CanRetry())
		assert.Error(t, rec.BeginRetry())

		rec.Exhaust(clock.Now())
		assert.Equal(t, job.StatusFailed, rec.Status)
		assert.True(t, rec.NextRunAt.After(clock.Now()))
		assert.Equal(t, rec.MaxRetries, rec.RetryCountRemaining,
			"next scheduled cycle starts with a full retry budget")
		assert.True(t, rec.Due(rec.NextRunAt), "exhausted job runs again at its next slot")
	})
}

func TestRecordDue(t *testing.T) {
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	rec, err := job.NewRecord("regulatory-monitoring", dailySchedule(), 1, now)
	require.NoError(t, err)

	assert.False(t, rec.Due(now))
	assert.True(t, rec.Due(rec.NextRunAt))
	assert.True(t, rec.Due(rec.NextRunAt.Add(time.Hour)))

	require.NoError(t, rec.Start())
	assert.False(t, rec.Due(rec.NextRunAt), "running job is never due")
}

func TestBackoffDelay(t *testing.T) {
	base := 10 * time.Second
	cap := 5 * time.Minute

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{10, 5 * time.Minute}, // capped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, job.BackoffDelay(base, tt.attempt, cap), "attempt %d", tt.attempt)
	}

	assert.Equal(t, time.Duration(0), job.BackoffDelay(0, 3, cap))
}
