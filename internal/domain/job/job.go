package job

import (
	"fmt"
	"time"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
)

// Frequency is how often a job runs
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Schedule describes when a job runs: daily or weekly at a fixed time.
type Schedule struct {
	Frequency Frequency    `json:"frequency"`
	Hour      int          `json:"hour"`
	Minute    int          `json:"minute"`
	Weekday   time.Weekday `json:"weekday"` // weekly only
}

// Validate checks the schedule fields.
func (s Schedule) Validate() error {
	if s.Frequency != FrequencyDaily && s.Frequency != FrequencyWeekly {
		return errors.NewValidationError("INVALID_FREQUENCY",
			fmt.Sprintf("frequency must be daily or weekly, got %q", s.Frequency))
	}
	if s.Hour < 0 || s.Hour > 23 {
		return errors.NewValidationError("INVALID_HOUR", "hour must be between 0 and 23")
	}
	if s.Minute < 0 || s.Minute > 59 {
		return errors.NewValidationError("INVALID_MINUTE", "minute must be between 0 and 59")
	}
	return nil
}

// Next returns the first scheduled run strictly after the given time.
func (s Schedule) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), s.Hour, s.Minute, 0, 0, after.Location())

	switch s.Frequency {
	case FrequencyWeekly:
		for next.Weekday() != s.Weekday || !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
	default:
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}

// Status is the job state machine:
// Idle -> Running -> {Success | Failed}; a Failed job with retry budget
// moves to Retrying and back to Running; with the budget spent it stays
// Failed until its next scheduled time.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
)

// Record is the scheduler-owned state of one configured job. Created at
// configuration load, mutated only by the scheduler after each execution
// attempt, never deleted while the pipeline runs.
type Record struct {
	Name                string     `json:"job_name"`
	Schedule            Schedule   `json:"schedule"`
	MaxRetries          int        `json:"max_retries"`
	RetryCountRemaining int        `json:"retry_count_remaining"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	Status              Status     `json:"last_status"`
	SuccessCount        int        `json:"success_count"`
	FailureCount        int        `json:"failure_count"`
	NextRunAt           time.Time  `json:"next_run_at"`
}

// NewRecord creates a job record in the Idle state with its retry budget
// full and its first run computed from the schedule.
func NewRecord(name string, schedule Schedule, maxRetries int, now time.Time) (*Record, error) {
	if name == "" {
		return nil, errors.NewValidationError("EMPTY_JOB_NAME", "job name cannot be empty")
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if maxRetries < 0 {
		return nil, errors.NewValidationError("INVALID_MAX_RETRIES", "max retries cannot be negative")
	}

	return &Record{
		Name:                name,
		Schedule:            schedule,
		MaxRetries:          maxRetries,
		RetryCountRemaining: maxRetries,
		Status:              StatusIdle,
		NextRunAt:           schedule.Next(now),
	}, nil
}

// Start moves the job to Running. Legal from any non-running state.
func (r *Record) Start() error {
	if r.Status == StatusRunning {
		return errors.NewConflictError(fmt.Sprintf("job %s is already running", r.Name))
	}
	r.Status = StatusRunning
	return nil
}

// Succeed records a successful attempt, refills the retry budget, and
// advances the next scheduled run.
func (r *Record) Succeed(now time.Time) error {
	if r.Status != StatusRunning {
		return errors.NewConflictError(fmt.Sprintf("job %s cannot succeed from %s", r.Name, r.Status))
	}
	r.Status = StatusSuccess
	r.SuccessCount++
	r.RetryCountRemaining = r.MaxRetries
	r.LastRunAt = &now
	r.NextRunAt = r.Schedule.Next(now)
	return nil
}

// Fail records a failed attempt.
func (r *Record) Fail(now time.Time) error {
	if r.Status != StatusRunning {
		return errors.NewConflictError(fmt.Sprintf("job %s cannot fail from %s", r.Name, r.Status))
	}
	r.Status = StatusFailed
	r.FailureCount++
	r.LastRunAt = &now
	return nil
}

// CanRetry reports whether a failed job still has retry budget.
func (r *Record) CanRetry() bool {
	return r.Status == StatusFailed && r.RetryCountRemaining > 0
}

// BeginRetry consumes one retry and moves the job to Retrying.
func (r *Record) BeginRetry() error {
	if !r.CanRetry() {
		return errors.NewJobExhaustedError(r.Name)
	}
	r.RetryCountRemaining--
	r.Status = StatusRetrying
	return nil
}

// Exhaust finalizes a failed job whose retries are spent, schedules its
// next regular run, and refills the retry budget so the next scheduled
// cycle starts with full retries again.
func (r *Record) Exhaust(now time.Time) {
	r.Status = StatusFailed
	r.RetryCountRemaining = r.MaxRetries
	r.NextRunAt = r.Schedule.Next(now)
}

// Due reports whether the job should run at the given time.
func (r *Record) Due(now time.Time) bool {
	if r.Status == StatusRunning || r.Status == StatusRetrying {
		return false
	}
	return !now.Before(r.NextRunAt)
}

// BackoffDelay computes the exponential retry delay for an attempt:
// base * 2^attempt, capped.
func BackoffDelay(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
