package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/job"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/report"
	"github.com/regsentry/regulatory-monitor-backend/internal/metrics"
)

// SystemRef names a monitored system and the regulations it is scored
// against.
type SystemRef struct {
	SystemID    string
	Regulations []string
}

// SourceRef names a monitored source and the regulation its requirements
// belong to. An empty RegulationID means the source ID doubles as the
// regulation ID.
type SourceRef struct {
	SourceID     string
	RegulationID string
}

// Config is the orchestrator's runtime configuration.
type Config struct {
	Sources           []SourceRef
	Systems           []SystemRef
	Recipients        []notification.Recipient
	Operators         []notification.Recipient
	Workers           int
	FetchTimeout      time.Duration
	SourceMinInterval time.Duration
	BaseRetryDelay    time.Duration
	MaxRetryDelay     time.Duration
	AlertCooldown     time.Duration
	AllOrNothing      bool
	TopActions        int
	TickInterval      time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Minute
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Minute
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = time.Hour
	}
	if c.TopActions <= 0 {
		c.TopActions = 5
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
}

// Service drives monitoring cycles: it owns the job records, the per-source
// locks and rate limiters, the worker pool, and the fetch -> detect ->
// assess -> notify -> report sequencing within one cycle.
type Service struct {
	cfg        Config
	fetcher    RequirementFetcher
	compliance ComplianceProvider
	store      Store
	detector   Detector
	assessor   Assessor
	notifier   Notifier
	pool       *workerPool
	clock      job.Clock
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
	registry   *metrics.Registry

	mu   sync.Mutex
	jobs map[string]*job.Record

	lockMu      sync.Mutex
	sourceLocks map[string]*sync.Mutex

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	ticker  *time.Ticker
	running sync.WaitGroup
}

// NewService wires the orchestrator from its collaborators.
func NewService(cfg Config, fetcher RequirementFetcher, compliance ComplianceProvider, store Store, detector Detector, assessor Assessor, notifier Notifier, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:         cfg,
		fetcher:     fetcher,
		compliance:  compliance,
		store:       store,
		detector:    detector,
		assessor:    assessor,
		notifier:    notifier,
		pool:        newWorkerPool(cfg.Workers, logger),
		clock:       job.RealClock{},
		sleep:       sleepCtx,
		logger:      logger,
		jobs:        make(map[string]*job.Record),
		sourceLocks: make(map[string]*sync.Mutex),
		limiters:    make(map[string]*rate.Limiter),
		cooldowns:   make(map[string]time.Time),
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock job.Clock) *Service {
	s.clock = clock
	return s
}

// WithMetrics attaches the instrument registry. Without it the scheduler
// runs unmetered.
func (s *Service) WithMetrics(registry *metrics.Registry) *Service {
	s.registry = registry
	return s
}

// WithSleep overrides the backoff wait for tests.
func (s *Service) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Service {
	s.sleep = sleep
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AddJob registers a job record. Jobs are registered before Start and
// mutated only by the scheduler afterwards.
func (s *Service) AddJob(name string, schedule job.Schedule, maxRetries int) error {
	record, err := job.NewRecord(name, schedule, maxRetries, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return errors.NewConflictError(fmt.Sprintf("job %s already registered", name))
	}
	s.jobs[name] = record

	s.logger.Info("registered monitoring job",
		zap.String("job_name", name),
		zap.String("frequency", string(schedule.Frequency)),
		zap.Time("next_run", record.NextRunAt))
	return nil
}

// Start begins the scheduling loop. Due jobs are launched on each tick.
func (s *Service) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.ticker = time.NewTicker(s.cfg.TickInterval)

	s.running.Add(1)
	go s.run()

	s.logger.Info("scheduler started", zap.Duration("tick_interval", s.cfg.TickInterval))
}

// Stop cancels the loop and waits for in-flight jobs to drain. In-flight
// source work observes the cancellation at the next task boundary.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.running.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Service) run() {
	defer s.running.Done()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-s.ticker.C:
			s.launchDueJobs()
		}
	}
}

func (s *Service) launchDueJobs() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*job.Record
	for _, record := range s.jobs {
		if record.Due(now) {
			due = append(due, record)
		}
	}
	s.mu.Unlock()

	for _, record := range due {
		s.running.Add(1)
		go func(record *job.Record) {
			defer s.running.Done()
			if _, err := s.runJob(s.runCtx, record); err != nil {
				s.logger.Error("scheduled job failed",
					zap.String("job_name", record.Name),
					zap.Error(err))
			}
		}(record)
	}
}

// TriggerJob runs one job's cycle immediately, outside its schedule, and
// returns the resulting report.
func (s *Service) TriggerJob(ctx context.Context, name string) (*report.MonitoringReport, error) {
	s.mu.Lock()
	record, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	return s.runJob(ctx, record)
}

// JobStatuses returns a point-in-time copy of every job record.
func (s *Service) JobStatuses() []job.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]job.Record, 0, len(s.jobs))
	for _, record := range s.jobs {
		statuses = append(statuses, *record)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// runJob executes one job's cycle with retry and backoff. A cycle counts as
// failed when it errors or its report finalizes as failed; retries repeat
// the whole cycle. When the retry budget is spent the job raises exactly
// one operator alert and waits for its next scheduled time.
func (s *Service) runJob(ctx context.Context, record *job.Record) (*report.MonitoringReport, error) {
	logger := s.logger.With(zap.String("job_name", record.Name))

	for attempt := 0; ; attempt++ {
		if err := s.startJob(record); err != nil {
			return nil, err
		}

		if s.registry != nil {
			s.registry.JobStarted()
		}
		rep, err := s.ExecuteMonitoringCycle(ctx, record.Name)
		if s.registry != nil {
			s.registry.JobFinished()
		}
		now := s.clock.Now()

		if err == nil && rep.Succeeded() {
			s.finishJob(record, true, now)
			logger.Info("monitoring cycle succeeded",
				zap.String("cycle_status", string(rep.Status)),
				zap.Int("sources", len(rep.Sources)))
			return rep, nil
		}

		s.finishJob(record, false, now)
		logger.Warn("monitoring cycle failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		s.mu.Lock()
		canRetry := record.CanRetry()
		if canRetry {
			_ = record.BeginRetry()
		} else {
			record.Exhaust(now)
		}
		s.mu.Unlock()

		if !canRetry {
			if s.registry != nil {
				s.registry.RecordJobExhausted(ctx, record.Name)
			}
			s.raiseJobAlert(ctx, record.Name)
			return rep, errors.NewJobExhaustedError(record.Name)
		}

		if s.registry != nil {
			s.registry.RecordJobRetry(ctx, record.Name)
		}
		delay := job.BackoffDelay(s.cfg.BaseRetryDelay, attempt, s.cfg.MaxRetryDelay)
		logger.Info("retrying after backoff",
			zap.Duration("delay", delay),
			zap.Int("retries_remaining", record.RetryCountRemaining))
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			// An interrupted backoff abandons the retry chain. The record
			// must not stay in Retrying, which is never due: settle it as
			// Failed with its next scheduled run computed.
			s.mu.Lock()
			record.Exhaust(s.clock.Now())
			s.mu.Unlock()
			logger.Warn("retry wait interrupted, job deferred to its next scheduled run",
				zap.Error(sleepErr))
			return rep, sleepErr
		}
	}
}

func (s *Service) startJob(record *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return record.Start()
}

func (s *Service) finishJob(record *job.Record, success bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		_ = record.Succeed(now)
	} else {
		_ = record.Fail(now)
	}
}

// ExecuteMonitoringCycle runs one full cycle: concurrent per-source fetch
// and change detection, then drift assessment, then notification delivery
// for the aggregated results, then report assembly and persistence. A
// failed source contributes a fetch-failed entry and never aborts the rest.
func (s *Service) ExecuteMonitoringCycle(ctx context.Context, jobName string) (*report.MonitoringReport, error) {
	started := s.clock.Now()
	rep := report.New(jobName, started)

	tasks := make([]sourceTask, 0, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		sourceID := src.SourceID
		tasks = append(tasks, sourceTask{
			SourceID: sourceID,
			Run: func(taskCtx context.Context) sourceResult {
				return s.processSource(taskCtx, sourceID)
			},
		})
	}

	results := s.pool.Run(ctx, tasks)
	sort.Slice(results, func(i, j int) bool { return results[i].SourceID < results[j].SourceID })

	var allChanges []*monitoring.Change
	for _, result := range results {
		status := report.SourceStatus{
			SourceID:    result.SourceID,
			Outcome:     result.Outcome,
			ChangeCount: len(result.Changes),
		}
		if result.Err != nil {
			status.Error = result.Err.Error()
		}
		rep.AddSource(status)
		allChanges = append(allChanges, result.Changes...)

		if s.registry != nil {
			s.registry.RecordSource(ctx, result.Duration.Seconds(), string(result.Outcome))
		}
	}
	rep.CountChanges(allChanges)

	if s.registry != nil {
		for _, change := range allChanges {
			s.registry.RecordChange(ctx, string(change.Type), string(change.Severity))
		}
	}

	s.assessSystems(ctx, rep, allChanges)

	// Delivery happens once, after every source settles, so one cycle never
	// produces duplicate partial digests. Deliveries that failed in an
	// earlier cycle ride along as fresh attempts while their change is
	// still the latest word on its requirement.
	pending := s.notifier.CreateNotifications(allChanges, s.cfg.Recipients)
	pending = s.appendRedeliveries(ctx, pending)
	delivery := s.notifier.Send(ctx, pending)
	rep.NotificationsSent = delivery.Sent
	rep.NotificationsDelivered = delivery.Delivered
	rep.NotificationsFailed = delivery.Failed
	if err := s.store.SaveNotifications(ctx, pending); err != nil {
		s.logger.Warn("persist notifications failed", zap.Error(err))
	}
	if err := s.notifier.AccumulateDigests(ctx, allChanges, s.cfg.Recipients); err != nil {
		s.logger.Warn("digest accumulation failed", zap.Error(err))
	}

	rep.Finalize(s.clock.Now(), s.cfg.AllOrNothing)

	if s.registry != nil {
		s.registry.RecordCycle(ctx, rep.CompletedAt.Sub(rep.StartedAt).Seconds(), string(rep.Status))
	}

	if err := s.store.SaveReport(ctx, rep); err != nil {
		return rep, errors.Wrap(err, "persist cycle report")
	}

	s.logger.Info("monitoring cycle completed",
		zap.String("job_name", jobName),
		zap.String("cycle_status", string(rep.Status)),
		zap.Int("changes", len(allChanges)),
		zap.Int("notifications_sent", delivery.Sent),
		zap.Duration("duration", rep.CompletedAt.Sub(rep.StartedAt)))
	return rep, nil
}

// appendRedeliveries requeues notifications that failed in an earlier
// cycle and whose change is still unresolved, skipping any (change,
// recipient, channel) this cycle already produced a notification for.
func (s *Service) appendRedeliveries(ctx context.Context, pending []*notification.Notification) []*notification.Notification {
	failed, err := s.store.LoadUnresolvedFailures(ctx)
	if err != nil {
		s.logger.Warn("loading failed notifications for redelivery", zap.Error(err))
		return pending
	}

	seen := make(map[notification.DedupKey]bool, len(pending))
	for _, n := range pending {
		seen[n.Key()] = true
	}
	for _, n := range failed {
		if seen[n.Key()] {
			continue
		}
		seen[n.Key()] = true
		pending = append(pending, n.Requeue(s.clock.Now()))
		s.logger.Info("requeued failed notification",
			zap.String("change_id", n.ChangeID.String()),
			zap.String("recipient", n.Recipient),
			zap.String("channel", string(n.Channel)))
	}
	return pending
}

// systemsForSource resolves which systems a source's changes affect, via
// the source's regulation and each system's regulation list.
func (s *Service) systemsForSource(sourceID string) []string {
	regulationID := sourceID
	for _, src := range s.cfg.Sources {
		if src.SourceID == sourceID && src.RegulationID != "" {
			regulationID = src.RegulationID
			break
		}
	}

	var systems []string
	for _, system := range s.cfg.Systems {
		for _, r := range system.Regulations {
			if strings.EqualFold(r, regulationID) {
				systems = append(systems, system.SystemID)
				break
			}
		}
	}
	sort.Strings(systems)
	return systems
}

// processSource runs the fetch+detect stage for one source. The per-source
// lock spans load-compare-persist so two concurrent cycles never race on
// the previous snapshot.
func (s *Service) processSource(ctx context.Context, sourceID string) sourceResult {
	result := sourceResult{SourceID: sourceID}

	if err := s.limiter(sourceID).Wait(ctx); err != nil {
		result.Outcome = report.SourceSkipped
		result.Err = err
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	requirements, err := s.fetcher.FetchRequirements(fetchCtx, sourceID)
	cancel()
	if err != nil {
		result.Outcome = report.SourceFetchFailed
		result.Err = errors.NewFetchError(sourceID, err.Error())
		return result
	}

	current, err := monitoring.NewSnapshotSet(sourceID, requirements, s.clock.Now())
	if err != nil {
		result.Outcome = report.SourceFetchFailed
		result.Err = errors.NewFetchError(sourceID, "malformed requirement payload: "+err.Error())
		return result
	}

	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	previous, err := s.store.LoadSnapshots(ctx, sourceID)
	if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
		result.Outcome = report.SourceFetchFailed
		result.Err = errors.Wrap(err, "load previous snapshot")
		return result
	}

	changes := s.detector.Detect(sourceID, previous, current)
	affected := s.systemsForSource(sourceID)
	for _, change := range changes {
		change.AffectedSystems = affected
	}

	// The new snapshot and its changes commit together, only after the
	// comparison completed. A partial write would either advance the
	// baseline without its changes or re-detect them next cycle.
	if err := s.store.SaveSourceCycle(ctx, sourceID, current, changes); err != nil {
		result.Outcome = report.SourceFetchFailed
		result.Err = errors.Wrap(err, "persist source cycle")
		return result
	}

	result.Outcome = report.SourceProcessed
	result.Changes = changes
	return result
}

// assessSystems runs the drift stage for every configured system and folds
// the assessments into the report.
func (s *Service) assessSystems(ctx context.Context, rep *report.MonitoringReport, changes []*monitoring.Change) {
	var scoreSum, deltaSum float64
	var assessed int
	var actions []drift.ActionPlanItem

	for _, system := range s.cfg.Systems {
		var current []drift.ComplianceSnapshot
		available := true
		for _, regulationID := range system.Regulations {
			snaps, err := s.compliance.GetComplianceSnapshot(ctx, system.SystemID, regulationID)
			if err != nil {
				s.logger.Warn("compliance scores unavailable",
					zap.String("system_id", system.SystemID),
					zap.String("regulation_id", regulationID),
					zap.Error(err))
				available = false
				break
			}
			current = append(current, snaps...)
		}
		if !available || len(current) == 0 {
			continue
		}

		previous, err := s.store.LoadComplianceSnapshots(ctx, system.SystemID)
		if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
			s.logger.Warn("previous compliance snapshots unavailable",
				zap.String("system_id", system.SystemID),
				zap.Error(err))
			continue
		}

		assessStart := time.Now()
		assessment := s.assessor.Assess(system.SystemID, previous, current, changes)

		if s.registry != nil {
			s.registry.RecordAssessment(ctx, float64(time.Since(assessStart).Microseconds())/1000.0, system.SystemID)
			s.registry.SetComplianceScore(system.SystemID, assessment.OverallScore)
			for _, d := range assessment.Drifts {
				s.registry.RecordDrift(ctx, string(d.Type))
			}
		}

		if len(assessment.Drifts) > 0 {
			if err := s.store.SaveDrifts(ctx, assessment.Drifts); err != nil {
				s.logger.Warn("persist drifts failed",
					zap.String("system_id", system.SystemID),
					zap.Error(err))
			}
		}
		if err := s.store.SaveComplianceSnapshots(ctx, system.SystemID, current); err != nil {
			s.logger.Warn("persist compliance snapshots failed",
				zap.String("system_id", system.SystemID),
				zap.Error(err))
		}

		rep.SystemsAffected = append(rep.SystemsAffected, system.SystemID)
		rep.AddSystem(report.SystemStatus{
			SystemID:         system.SystemID,
			OverallScore:     assessment.OverallScore,
			ScoreDelta:       assessment.OverallDelta,
			DriftCount:       len(assessment.Drifts),
			FirstObservation: assessment.FirstObservation,
		})
		scoreSum += assessment.OverallScore
		deltaSum += assessment.OverallDelta
		assessed++
		actions = append(actions, assessment.ActionPlan...)
	}

	if assessed > 0 {
		rep.OverallScore = scoreSum / float64(assessed)
		rep.ScoreDelta = deltaSum / float64(assessed)
	}
	rep.TopActions = topActions(actions, s.cfg.TopActions)
}

// topActions merges per-system action plans and keeps the highest-risk
// items, reprioritized across systems.
func topActions(actions []drift.ActionPlanItem, limit int) []drift.ActionPlanItem {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
			return a.RiskLevel.Rank() > b.RiskLevel.Rank()
		}
		if !a.EstimatedCost.Equal(b.EstimatedCost) {
			return a.EstimatedCost.GreaterThan(b.EstimatedCost)
		}
		if a.SystemID != b.SystemID {
			return a.SystemID < b.SystemID
		}
		return a.RequirementID < b.RequirementID
	})

	if len(actions) > limit {
		actions = actions[:limit]
	}
	for i := range actions {
		actions[i].Priority = i + 1
	}
	return actions
}

// raiseJobAlert broadcasts the exhausted-job operator alert, suppressed
// inside the cooldown window so repeated failures raise one alert.
func (s *Service) raiseJobAlert(ctx context.Context, jobName string) {
	key := "job_exhausted:" + jobName
	now := s.clock.Now()

	s.cooldownMu.Lock()
	if last, ok := s.cooldowns[key]; ok && now.Sub(last) < s.cfg.AlertCooldown {
		s.cooldownMu.Unlock()
		s.logger.Debug("job alert suppressed by cooldown",
			zap.String("job_name", jobName),
			zap.Duration("since_last", now.Sub(last)))
		return
	}
	s.cooldowns[key] = now
	s.cooldownMu.Unlock()

	subject := fmt.Sprintf("[CRITICAL] monitoring job %s unreachable", jobName)
	body := fmt.Sprintf("Job %s exhausted its retry budget at %s and will stay failed until its next scheduled run.",
		jobName, now.Format(time.RFC3339))

	result := s.notifier.Broadcast(ctx, monitoring.SeverityCritical, s.cfg.Operators, subject, body)
	s.logger.Warn("job retries exhausted, operator alert raised",
		zap.String("job_name", jobName),
		zap.Int("alerts_delivered", result.Delivered),
		zap.Int("alerts_failed", result.Failed))
}

func (s *Service) sourceLock(sourceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.sourceLocks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		s.sourceLocks[sourceID] = lock
	}
	return lock
}

func (s *Service) limiter(sourceID string) *rate.Limiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	limiter, ok := s.limiters[sourceID]
	if !ok {
		if s.cfg.SourceMinInterval > 0 {
			limiter = rate.NewLimiter(rate.Every(s.cfg.SourceMinInterval), 1)
		} else {
			limiter = rate.NewLimiter(rate.Inf, 1)
		}
		s.limiters[sourceID] = limiter
	}
	return limiter
}
