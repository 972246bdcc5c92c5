package monitoring

import (
	"time"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
)

// RequirementSnapshot is an immutable, timestamped observation of one
// requirement's text within a regulatory source. A new observation creates a
// new snapshot; an existing snapshot is never mutated. Uniqueness is
// (source_id, requirement_id, observed_at).
type RequirementSnapshot struct {
	SourceID      string      `json:"source_id"`
	RequirementID string      `json:"requirement_id"`
	Text          string      `json:"text"`
	Fingerprint   Fingerprint `json:"content_fingerprint"`
	ObservedAt    time.Time   `json:"observed_at"`
}

// NewRequirementSnapshot records an observation, computing the content
// fingerprint from the text.
func NewRequirementSnapshot(sourceID, requirementID, text string, observedAt time.Time) (*RequirementSnapshot, error) {
	if sourceID == "" {
		return nil, errors.NewValidationError("EMPTY_SOURCE_ID", "source_id cannot be empty")
	}
	if requirementID == "" {
		return nil, errors.NewValidationError("EMPTY_REQUIREMENT_ID", "requirement_id cannot be empty")
	}
	if observedAt.IsZero() {
		return nil, errors.NewValidationError("EMPTY_OBSERVED_AT", "observed_at cannot be zero")
	}

	return &RequirementSnapshot{
		SourceID:      sourceID,
		RequirementID: requirementID,
		Text:          text,
		Fingerprint:   ComputeFingerprint(text),
		ObservedAt:    observedAt,
	}, nil
}

// Validate checks snapshot integrity, including that the stored fingerprint
// matches the stored text. A mismatch indicates a corrupt snapshot.
func (s *RequirementSnapshot) Validate() error {
	if s.SourceID == "" || s.RequirementID == "" {
		return errors.NewValidationError("INVALID_SNAPSHOT", "snapshot keys cannot be empty")
	}
	if s.Fingerprint.IsZero() {
		return errors.NewComparisonError(s.RequirementID, "snapshot fingerprint is missing")
	}
	if !s.Fingerprint.Equal(ComputeFingerprint(s.Text)) {
		return errors.NewComparisonError(s.RequirementID, "snapshot fingerprint does not match text")
	}
	return nil
}

// SnapshotSet is the set of requirement snapshots observed for one source in
// one cycle, keyed by requirement_id.
type SnapshotSet map[string]*RequirementSnapshot

// NewSnapshotSet builds a SnapshotSet from fetched requirement texts.
func NewSnapshotSet(sourceID string, requirements map[string]string, observedAt time.Time) (SnapshotSet, error) {
	set := make(SnapshotSet, len(requirements))
	for id, text := range requirements {
		snap, err := NewRequirementSnapshot(sourceID, id, text, observedAt)
		if err != nil {
			return nil, err
		}
		set[id] = snap
	}
	return set, nil
}
