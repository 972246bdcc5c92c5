package drift

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
)

// Thresholds for drift classification. A score below GapScore is a
// compliance gap; deltas within NoiseBand of zero are treated as stable.
const (
	GapScore  = 50.0
	NoiseBand = 2.0
)

// ComplianceSnapshot is one immutable observation of a system's compliance
// score for a requirement, in [0, 100].
type ComplianceSnapshot struct {
	SystemID      string    `json:"system_id"`
	RegulationID  string    `json:"regulation_id"`
	RequirementID string    `json:"requirement_id"`
	Score         float64   `json:"score"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Validate checks the snapshot's keys and score range.
func (s *ComplianceSnapshot) Validate() error {
	if s.SystemID == "" || s.RegulationID == "" || s.RequirementID == "" {
		return errors.NewValidationError("INVALID_COMPLIANCE_SNAPSHOT", "snapshot keys cannot be empty")
	}
	if s.Score < 0 || s.Score > 100 {
		return errors.NewValidationError("SCORE_OUT_OF_RANGE", "score must be within [0, 100]")
	}
	return nil
}

// DriftType classifies the direction of a compliance score change
type DriftType string

const (
	DriftTypePositive    DriftType = "positive_drift"
	DriftTypeNegative    DriftType = "negative_drift"
	DriftTypeNewGap      DriftType = "new_gap"
	DriftTypeResolvedGap DriftType = "resolved_gap"
	DriftTypeUnchanged   DriftType = "unchanged"
)

// Drift is the derived comparison of the two most recent compliance
// snapshots for one (system, regulation, requirement) triple.
type Drift struct {
	DriftID       uuid.UUID `json:"drift_id"`
	SystemID      string    `json:"system_id"`
	RegulationID  string    `json:"regulation_id"`
	RequirementID string    `json:"requirement_id"`
	Type          DriftType `json:"drift_type"`
	ScoreDelta    float64   `json:"score_delta"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Classify derives the drift type from a previous and current score.
// Delta direction takes precedence; gap transitions classify the remaining
// within-noise-band crossings of the gap threshold. Persistent sub-gap
// scores with a delta inside the noise band fold into Unchanged.
func Classify(previous, current float64) DriftType {
	switch {
	case current-previous > NoiseBand:
		return DriftTypePositive
	case current-previous < -NoiseBand:
		return DriftTypeNegative
	case previous >= GapScore && current < GapScore:
		return DriftTypeNewGap
	case previous < GapScore && current >= GapScore:
		return DriftTypeResolvedGap
	default:
		return DriftTypeUnchanged
	}
}

// RiskLevel is derived from the current compliance score
type RiskLevel string

const (
	RiskLevelCritical RiskLevel = "critical"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelLow      RiskLevel = "low"
)

// Rank orders risk levels: higher rank means more urgent.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLevelCritical:
		return 4
	case RiskLevelHigh:
		return 3
	case RiskLevelMedium:
		return 2
	case RiskLevelLow:
		return 1
	default:
		return 0
	}
}

// RiskForScore maps a current compliance score to a risk level.
func RiskForScore(score float64) RiskLevel {
	switch {
	case score < 25:
		return RiskLevelCritical
	case score < GapScore:
		return RiskLevelHigh
	case score < 75:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// GapMultiplier scales remediation estimates by how far below the gap
// threshold the current score sits, clamped to [0.2, 1.0].
func GapMultiplier(currentScore float64) float64 {
	m := (GapScore - currentScore) / GapScore
	if m < 0.2 {
		return 0.2
	}
	if m > 1.0 {
		return 1.0
	}
	return m
}

// ActionPlanItem is one entry in the prioritized remediation plan.
// Priority 1 is highest.
type ActionPlanItem struct {
	Priority       int             `json:"priority"`
	SystemID       string          `json:"system_id"`
	RegulationID   string          `json:"regulation_id"`
	RequirementID  string          `json:"requirement_id"`
	Issue          string          `json:"issue_description"`
	EstimatedHours int             `json:"estimated_hours"`
	EstimatedCost  decimal.Decimal `json:"estimated_cost"`
	RiskLevel      RiskLevel       `json:"risk_level"`
}
