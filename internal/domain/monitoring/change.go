package monitoring

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChangeType classifies what happened to a requirement between two snapshots
type ChangeType string

const (
	ChangeTypeAdded           ChangeType = "added"
	ChangeTypeModified        ChangeType = "modified"
	ChangeTypeRemoved         ChangeType = "removed"
	ChangeTypeClarified       ChangeType = "clarified"
	ChangeTypeDeadlineChanged ChangeType = "deadline_changed"
	ChangeTypePenaltyChanged  ChangeType = "penalty_changed"
)

// Severity is the four-level ordinal driving remediation priority and
// notification routing.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities: higher rank means more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the severity is one of the four known levels.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Change records one detected difference between two observations of a
// requirement. Changes are append-only: created by the detector, never
// mutated afterwards. OldText is empty for Added; NewText is empty for
// Removed.
type Change struct {
	ChangeID        uuid.UUID       `json:"change_id"`
	SourceID        string          `json:"source_id"`
	RequirementID   string          `json:"requirement_id"`
	Type            ChangeType      `json:"change_type"`
	Severity        Severity        `json:"severity"`
	OldText         string          `json:"old_text,omitempty"`
	NewText         string          `json:"new_text,omitempty"`
	DetectedAt      time.Time       `json:"detected_at"`
	AffectedSystems []string        `json:"affected_systems"`
	EstimatedHours  int             `json:"remediation_estimate_hours"`
	EstimatedCost   decimal.Decimal `json:"remediation_estimate_cost"`
}

// remediationEstimate is a fixed per-severity remediation lookup. Estimates
// are data, not a model output, so detection stays reproducible.
type remediationEstimate struct {
	Hours int
	Cost  decimal.Decimal
}

var remediationEstimates = map[Severity]remediationEstimate{
	SeverityCritical: {Hours: 40, Cost: decimal.NewFromInt(20000)},
	SeverityHigh:     {Hours: 24, Cost: decimal.NewFromInt(10000)},
	SeverityMedium:   {Hours: 8, Cost: decimal.NewFromInt(3500)},
	SeverityLow:      {Hours: 2, Cost: decimal.NewFromInt(500)},
}

// EstimateForSeverity returns the fixed remediation hour and cost estimate
// for a severity.
func EstimateForSeverity(severity Severity) (hours int, cost decimal.Decimal) {
	est, ok := remediationEstimates[severity]
	if !ok {
		est = remediationEstimates[SeverityLow]
	}
	return est.Hours, est.Cost
}

// NewChange constructs a Change with its remediation estimates filled in
// from the severity lookup.
func NewChange(sourceID, requirementID string, changeType ChangeType, severity Severity, oldText, newText string, detectedAt time.Time) *Change {
	hours, cost := EstimateForSeverity(severity)
	return &Change{
		ChangeID:       uuid.New(),
		SourceID:       sourceID,
		RequirementID:  requirementID,
		Type:           changeType,
		Severity:       severity,
		OldText:        oldText,
		NewText:        newText,
		DetectedAt:     detectedAt,
		EstimatedHours: hours,
		EstimatedCost:  cost,
	}
}
