package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/config"
)

type scoreEntry struct {
	RequirementID string    `json:"requirement_id"`
	Score         float64   `json:"score"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type scoresPayload struct {
	Scores []scoreEntry `json:"scores"`
}

// ComplianceClient queries the scoring service for a system's current
// per-requirement compliance scores.
type ComplianceClient struct {
	cfg    config.ComplianceConfig
	client *http.Client
	logger *zap.Logger
}

func NewComplianceClient(cfg config.ComplianceConfig, logger *zap.Logger) *ComplianceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ComplianceClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// GetComplianceSnapshot fetches the current scores for one (system,
// regulation) pair. Entries failing validation are rejected as a unit so a
// partially corrupt response never feeds the assessor.
func (c *ComplianceClient) GetComplianceSnapshot(ctx context.Context, systemID, regulationID string) ([]drift.ComplianceSnapshot, error) {
	url := fmt.Sprintf("%s/api/v1/systems/%s/regulations/%s/scores", c.cfg.BaseURL, systemID, regulationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewExternalError("compliance", "build request failed").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("compliance", "scoring service unreachable").WithCause(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewExternalError("compliance", fmt.Sprintf("scoring service returned %d", resp.StatusCode))
	}

	var payload scoresPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.NewExternalError("compliance", "malformed scores payload").WithCause(err)
	}

	snapshots := make([]drift.ComplianceSnapshot, 0, len(payload.Scores))
	for _, entry := range payload.Scores {
		snap := drift.ComplianceSnapshot{
			SystemID:      systemID,
			RegulationID:  regulationID,
			RequirementID: entry.RequirementID,
			Score:         entry.Score,
			RecordedAt:    entry.RecordedAt,
		}
		if err := snap.Validate(); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	c.logger.Debug("fetched compliance scores",
		zap.String("system_id", systemID),
		zap.String("regulation_id", regulationID),
		zap.Int("scores", len(snapshots)))
	return snapshots, nil
}
