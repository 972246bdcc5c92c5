package assessor

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
)

// Assessment is the output of one drift evaluation for a system: the drift
// list, the prioritized remediation plan, and the overall score delta
// (simple mean of per-requirement deltas).
type Assessment struct {
	SystemID         string
	Drifts           []*drift.Drift
	ActionPlan       []drift.ActionPlanItem
	OverallScore     float64
	OverallDelta     float64
	FirstObservation bool
}

// Service compares two compliance-snapshot collections for a system and
// derives drifts plus a remediation plan. Pure read+derive: snapshots are
// never mutated.
type Service struct {
	clock  func() time.Time
	logger *zap.Logger
}

// NewService creates a drift/impact assessor.
func NewService(logger *zap.Logger) *Service {
	return &Service{clock: time.Now, logger: logger}
}

// WithClock overrides the assessor's time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// pairKey identifies a (regulation, requirement) pair within one system.
type pairKey struct {
	RegulationID  string
	RequirementID string
}

// Assess evaluates the previous and current compliance snapshots for one
// system. Changes from the current cycle provide attribution context for
// action-plan descriptions. A system with no previous snapshots is reported
// as a first observation with no drift computed.
func (s *Service) Assess(systemID string, previous, current []drift.ComplianceSnapshot, changes []*monitoring.Change) *Assessment {
	assessment := &Assessment{SystemID: systemID}

	currByPair := indexByPair(current)
	assessment.OverallScore = meanScore(current)

	if len(previous) == 0 {
		s.logger.Info("first observation for system, no drift computed",
			zap.String("system_id", systemID))
		assessment.FirstObservation = true
		assessment.ActionPlan = s.buildActionPlan(systemID, currByPair, nil, changes)
		return assessment
	}

	prevByPair := indexByPair(previous)
	detectedAt := s.clock()

	var deltaSum float64
	var deltaCount int
	drifts := make([]*drift.Drift, 0, len(currByPair))

	for _, key := range sortedPairs(currByPair) {
		curr := currByPair[key]
		prev, seen := prevByPair[key]
		if !seen {
			continue
		}

		delta := curr.Score - prev.Score
		deltaSum += delta
		deltaCount++

		drifts = append(drifts, &drift.Drift{
			DriftID:       uuid.New(),
			SystemID:      systemID,
			RegulationID:  key.RegulationID,
			RequirementID: key.RequirementID,
			Type:          drift.Classify(prev.Score, curr.Score),
			ScoreDelta:    delta,
			DetectedAt:    detectedAt,
		})
	}

	if deltaCount > 0 {
		assessment.OverallDelta = deltaSum / float64(deltaCount)
	}
	assessment.Drifts = drifts
	assessment.ActionPlan = s.buildActionPlan(systemID, currByPair, drifts, changes)

	return assessment
}

// buildActionPlan produces one item per NewGap drift and per requirement
// currently scoring below the gap threshold, ranked by risk level
// descending with estimated cost descending as tie-break. Estimates reuse
// the detector's severity lookup scaled by the gap-size multiplier.
func (s *Service) buildActionPlan(systemID string, current map[pairKey]drift.ComplianceSnapshot, drifts []*drift.Drift, changes []*monitoring.Change) []drift.ActionPlanItem {
	newGaps := make(map[pairKey]bool)
	for _, d := range drifts {
		if d.Type == drift.DriftTypeNewGap {
			newGaps[pairKey{RegulationID: d.RegulationID, RequirementID: d.RequirementID}] = true
		}
	}

	changedReqs := make(map[string]*monitoring.Change)
	for _, c := range changes {
		changedReqs[c.RequirementID] = c
	}

	var items []drift.ActionPlanItem
	for _, key := range sortedPairs(current) {
		snap := current[key]
		if snap.Score >= drift.GapScore && !newGaps[key] {
			continue
		}

		risk := drift.RiskForScore(snap.Score)
		hours, cost := monitoring.EstimateForSeverity(riskSeverity(risk))
		multiplier := drift.GapMultiplier(snap.Score)

		issue := fmt.Sprintf("compliance score %.0f below target for %s/%s",
			snap.Score, key.RegulationID, key.RequirementID)
		if c, ok := changedReqs[key.RequirementID]; ok {
			issue = fmt.Sprintf("%s (requirement %s in cycle: %s)", issue, c.Type, c.SourceID)
		}

		items = append(items, drift.ActionPlanItem{
			SystemID:       systemID,
			RegulationID:   key.RegulationID,
			RequirementID:  key.RequirementID,
			Issue:          issue,
			EstimatedHours: scaleHours(hours, multiplier),
			EstimatedCost:  cost.Mul(decimal.NewFromFloat(multiplier)).Round(2),
			RiskLevel:      risk,
		})
	}

	// Risk descending, then cost descending; requirement ID as the final
	// tie-break keeps the ranking stable across runs.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RiskLevel.Rank() != items[j].RiskLevel.Rank() {
			return items[i].RiskLevel.Rank() > items[j].RiskLevel.Rank()
		}
		if !items[i].EstimatedCost.Equal(items[j].EstimatedCost) {
			return items[i].EstimatedCost.GreaterThan(items[j].EstimatedCost)
		}
		return items[i].RequirementID < items[j].RequirementID
	})

	for i := range items {
		items[i].Priority = i + 1
	}
	return items
}

// riskSeverity maps a risk level onto the severity scale shared with the
// change detector's estimate table.
func riskSeverity(risk drift.RiskLevel) monitoring.Severity {
	switch risk {
	case drift.RiskLevelCritical:
		return monitoring.SeverityCritical
	case drift.RiskLevelHigh:
		return monitoring.SeverityHigh
	case drift.RiskLevelMedium:
		return monitoring.SeverityMedium
	default:
		return monitoring.SeverityLow
	}
}

func scaleHours(hours int, multiplier float64) int {
	scaled := int(float64(hours)*multiplier + 0.5)
	if scaled < 1 {
		return 1
	}
	return scaled
}

func indexByPair(snapshots []drift.ComplianceSnapshot) map[pairKey]drift.ComplianceSnapshot {
	byPair := make(map[pairKey]drift.ComplianceSnapshot, len(snapshots))
	for _, snap := range snapshots {
		key := pairKey{RegulationID: snap.RegulationID, RequirementID: snap.RequirementID}
		// Later entries win: callers pass chronologically ordered rows, so
		// the most recent observation per pair is retained.
		if existing, ok := byPair[key]; !ok || !snap.RecordedAt.Before(existing.RecordedAt) {
			byPair[key] = snap
		}
	}
	return byPair
}

func sortedPairs(byPair map[pairKey]drift.ComplianceSnapshot) []pairKey {
	keys := make([]pairKey, 0, len(byPair))
	for key := range byPair {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RegulationID != keys[j].RegulationID {
			return keys[i].RegulationID < keys[j].RegulationID
		}
		return keys[i].RequirementID < keys[j].RequirementID
	})
	return keys
}

func meanScore(snapshots []drift.ComplianceSnapshot) float64 {
	if len(snapshots) == 0 {
		return 0
	}
	byPair := indexByPair(snapshots)
	var sum float64
	for _, snap := range byPair {
		sum += snap.Score
	}
	return sum / float64(len(byPair))
}
