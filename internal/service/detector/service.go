package detector

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// Thresholds is the ordered, table-driven similarity classification for
// requirements present in both snapshots. Thresholds are data, not code, so
// deploys can tune them through configuration.
type Thresholds struct {
	NoiseFloor     float64 `json:"noise_floor"`      // >= this: no change emitted
	ClarifiedMin   float64 `json:"clarified_min"`    // [ClarifiedMin, NoiseFloor): Clarified/Low
	ModifiedMedMin float64 `json:"modified_med_min"` // [ModifiedMedMin, ClarifiedMin): Modified/Medium
	ModifiedHiMin  float64 `json:"modified_hi_min"`  // [ModifiedHiMin, ModifiedMedMin): Modified/High; below: Modified/Critical
}

// DefaultThresholds returns the shipped similarity thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NoiseFloor:     0.95,
		ClarifiedMin:   0.85,
		ModifiedMedMin: 0.70,
		ModifiedHiMin:  0.50,
	}
}

// classification is one row of the threshold table, scanned in order.
type classification struct {
	Min      float64
	Type     monitoring.ChangeType
	Severity monitoring.Severity
}

func (t Thresholds) table() []classification {
	return []classification{
		{Min: t.ClarifiedMin, Type: monitoring.ChangeTypeClarified, Severity: monitoring.SeverityLow},
		{Min: t.ModifiedMedMin, Type: monitoring.ChangeTypeModified, Severity: monitoring.SeverityMedium},
		{Min: t.ModifiedHiMin, Type: monitoring.ChangeTypeModified, Severity: monitoring.SeverityHigh},
		{Min: 0, Type: monitoring.ChangeTypeModified, Severity: monitoring.SeverityCritical},
	}
}

// Service detects changes between two snapshots of a source's requirement
// set. Detection is a pure transformation: the caller persists the result.
type Service struct {
	thresholds Thresholds
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService creates a change detector.
func NewService(thresholds Thresholds, logger *zap.Logger) *Service {
	return &Service{
		thresholds: thresholds,
		clock:      time.Now,
		logger:     logger,
	}
}

// WithClock overrides the detector's time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Detect compares the previous and current snapshot sets for one source and
// returns the severity-ranked change list. Requirement IDs only in current
// are Added; only in previous are Removed; in both with differing
// fingerprints they are classified by text similarity against the threshold
// table. An empty or missing current set is skipped with a warning so one
// malformed source never aborts detection for the others.
func (s *Service) Detect(sourceID string, previous, current monitoring.SnapshotSet) []*monitoring.Change {
	if len(current) == 0 {
		s.logger.Warn("skipping source with empty snapshot set",
			zap.String("source_id", sourceID))
		return nil
	}

	detectedAt := s.clock()
	var changes []*monitoring.Change

	// Iterate requirement IDs in sorted order so two runs over the same
	// input produce an identical change list.
	for _, id := range sortedKeys(current) {
		curr := current[id]
		if err := curr.Validate(); err != nil {
			s.logger.Warn("skipping corrupt snapshot",
				zap.String("source_id", sourceID),
				zap.String("requirement_id", id),
				zap.Error(err))
			continue
		}

		prev, seen := previous[id]
		if !seen {
			severity := additionSeverity(curr.Text)
			changes = append(changes, monitoring.NewChange(sourceID, id,
				monitoring.ChangeTypeAdded, severity, "", curr.Text, detectedAt))
			continue
		}

		if prev.Fingerprint.Equal(curr.Fingerprint) {
			continue
		}

		score := monitoring.Similarity(prev.Text, curr.Text)
		if score >= s.thresholds.NoiseFloor {
			continue
		}

		for _, row := range s.thresholds.table() {
			if score >= row.Min {
				changes = append(changes, monitoring.NewChange(sourceID, id,
					row.Type, row.Severity, prev.Text, curr.Text, detectedAt))
				break
			}
		}
	}

	for _, id := range sortedKeys(previous) {
		if _, stillPresent := current[id]; stillPresent {
			continue
		}
		prev := previous[id]
		severity := additionSeverity(prev.Text)
		changes = append(changes, monitoring.NewChange(sourceID, id,
			monitoring.ChangeTypeRemoved, severity, prev.Text, "", detectedAt))
	}

	if len(changes) > 0 {
		s.logger.Info("changes detected",
			zap.String("source_id", sourceID),
			zap.Int("count", len(changes)))
	}

	return changes
}

// additionSeverity escalates Added/Removed requirements carrying
// mandatory-obligation markers to Critical.
func additionSeverity(text string) monitoring.Severity {
	if monitoring.ContainsObligation(text) {
		return monitoring.SeverityCritical
	}
	return monitoring.SeverityHigh
}

func sortedKeys(set monitoring.SnapshotSet) []string {
	keys := make([]string, 0, len(set))
	for id := range set {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
