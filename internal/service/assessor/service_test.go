package assessor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/assessor"
)

func newAssessor() *assessor.Service {
	svc := assessor.NewService(zap.NewNop())
	return svc.WithClock(func() time.Time {
		return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	})
}

func snap(system, reg, req string, score float64, at time.Time) drift.ComplianceSnapshot {
	return drift.ComplianceSnapshot{
		SystemID:      system,
		RegulationID:  reg,
		RequirementID: req,
		Score:         score,
		RecordedAt:    at,
	}
}

func TestAssess_NegativeDriftProducesActionItem(t *testing.T) {
	svc := newAssessor()
	prevAt := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	currAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	previous := []drift.ComplianceSnapshot{snap("sys1", "GDPR", "R1", 82, prevAt)}
	current := []drift.ComplianceSnapshot{snap("sys1", "GDPR", "R1", 45, currAt)}

	a := svc.Assess("sys1", previous, current, nil)

	require.Len(t, a.Drifts, 1)
	assert.Equal(t, drift.DriftTypeNegative, a.Drifts[0].Type)
	assert.InDelta(t, -37, a.Drifts[0].ScoreDelta, 0.0001)
	assert.InDelta(t, -37, a.OverallDelta, 0.0001)

	require.Len(t, a.ActionPlan, 1)
	item := a.ActionPlan[0]
	assert.Equal(t, 1, item.Priority)
	assert.Equal(t, "R1", item.RequirementID)
	assert.Equal(t, drift.RiskLevelHigh, item.RiskLevel)
	assert.Positive(t, item.EstimatedHours)
	assert.True(t, item.EstimatedCost.IsPositive())
}

func TestAssess_DriftTypes(t *testing.T) {
	svc := newAssessor()
	prevAt := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	currAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	previous := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 60, prevAt),
		snap("sys1", "GDPR", "R2", 90, prevAt),
		snap("sys1", "GDPR", "R3", 49, prevAt),
		snap("sys1", "GDPR", "R4", 80, prevAt),
	}
	current := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 70, currAt),  // positive drift
		snap("sys1", "GDPR", "R2", 75, currAt),  // negative drift
		snap("sys1", "GDPR", "R3", 51, currAt),  // resolved gap
		snap("sys1", "GDPR", "R4", 80.5, currAt), // unchanged
	}

	a := svc.Assess("sys1", previous, current, nil)
	require.Len(t, a.Drifts, 4)

	byReq := map[string]drift.DriftType{}
	for _, d := range a.Drifts {
		byReq[d.RequirementID] = d.Type
	}
	assert.Equal(t, drift.DriftTypePositive, byReq["R1"])
	assert.Equal(t, drift.DriftTypeNegative, byReq["R2"])
	assert.Equal(t, drift.DriftTypeResolvedGap, byReq["R3"])
	assert.Equal(t, drift.DriftTypeUnchanged, byReq["R4"])

	// Mean of (10, -15, 2, 0.5).
	assert.InDelta(t, -0.625, a.OverallDelta, 0.0001)
}

func TestAssess_FirstObservationNoDrift(t *testing.T) {
	svc := newAssessor()
	currAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	current := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 40, currAt),
		snap("sys1", "GDPR", "R2", 90, currAt),
	}

	a := svc.Assess("sys1", nil, current, nil)

	assert.True(t, a.FirstObservation)
	assert.Empty(t, a.Drifts)
	assert.Zero(t, a.OverallDelta)
	// Sub-50 requirement still earns an action item on first observation.
	require.Len(t, a.ActionPlan, 1)
	assert.Equal(t, "R1", a.ActionPlan[0].RequirementID)
}

func TestAssess_ActionPlanOrdering(t *testing.T) {
	svc := newAssessor()
	currAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	prevAt := currAt.AddDate(0, 0, -7)

	previous := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 45, prevAt),
		snap("sys1", "GDPR", "R2", 45, prevAt),
		snap("sys1", "SOC2", "C1", 30, prevAt),
	}
	current := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 10, currAt), // critical risk
		snap("sys1", "GDPR", "R2", 40, currAt), // high risk, smaller gap
		snap("sys1", "SOC2", "C1", 20, currAt), // critical risk, smaller gap than R1
	}

	a := svc.Assess("sys1", previous, current, nil)
	require.Len(t, a.ActionPlan, 3)

	// Critical risk first; among criticals the larger gap costs more and
	// ranks higher.
	assert.Equal(t, "R1", a.ActionPlan[0].RequirementID)
	assert.Equal(t, "C1", a.ActionPlan[1].RequirementID)
	assert.Equal(t, "R2", a.ActionPlan[2].RequirementID)

	for i, item := range a.ActionPlan {
		assert.Equal(t, i+1, item.Priority)
	}
}

func TestAssess_RankingIdempotent(t *testing.T) {
	svc := newAssessor()
	currAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	prevAt := currAt.AddDate(0, 0, -7)

	previous := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 45, prevAt),
		snap("sys1", "GDPR", "R2", 20, prevAt),
		snap("sys1", "SOC2", "C1", 48, prevAt),
	}
	current := []drift.ComplianceSnapshot{
		snap("sys1", "GDPR", "R1", 44, currAt),
		snap("sys1", "GDPR", "R2", 22, currAt),
		snap("sys1", "SOC2", "C1", 44, currAt),
	}

	first := svc.Assess("sys1", previous, current, nil)
	second := svc.Assess("sys1", previous, current, nil)

	require.Equal(t, len(first.ActionPlan), len(second.ActionPlan))
	for i := range first.ActionPlan {
		assert.Equal(t, first.ActionPlan[i].RequirementID, second.ActionPlan[i].RequirementID)
		assert.Equal(t, first.ActionPlan[i].Priority, second.ActionPlan[i].Priority)
	}
}

func TestAssess_StableLowScoreIsUnchanged(t *testing.T) {
	svc := newAssessor()
	currAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	prevAt := currAt.AddDate(0, 0, -7)

	previous := []drift.ComplianceSnapshot{snap("sys1", "GDPR", "R1", 40, prevAt)}
	current := []drift.ComplianceSnapshot{snap("sys1", "GDPR", "R1", 41, currAt)}

	a := svc.Assess("sys1", previous, current, nil)
	require.Len(t, a.Drifts, 1)
	assert.Equal(t, drift.DriftTypeUnchanged, a.Drifts[0].Type)
	// The persistent gap still earns an action item.
	require.Len(t, a.ActionPlan, 1)
}
