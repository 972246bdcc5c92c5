package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/config"
)

// documentPayload is the wire format regulatory sources publish: the full
// current requirement set, keyed by requirement ID.
type documentPayload struct {
	SourceID     string            `json:"source_id"`
	Requirements map[string]string `json:"requirements"`
}

// HTTPFetcher retrieves the current requirement set for configured sources.
type HTTPFetcher struct {
	urls   map[string]string
	client *http.Client
	logger *zap.Logger
}

func NewHTTPFetcher(sources []config.SourceConfig, timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	urls := make(map[string]string, len(sources))
	for _, src := range sources {
		urls[src.SourceID] = src.URL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		urls:   urls,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// FetchRequirements downloads and decodes one source's requirement set.
func (f *HTTPFetcher) FetchRequirements(ctx context.Context, sourceID string) (map[string]string, error) {
	url, ok := f.urls[sourceID]
	if !ok {
		return nil, errors.ErrSourceNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewFetchError(sourceID, "build request failed").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "regmon-fetcher/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewFetchError(sourceID, "source unreachable").WithCause(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewFetchError(sourceID, fmt.Sprintf("source returned %d", resp.StatusCode))
	}

	var payload documentPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.NewFetchError(sourceID, "malformed document payload").WithCause(err)
	}
	if len(payload.Requirements) == 0 {
		return nil, errors.NewFetchError(sourceID, "document contains no requirements")
	}

	f.logger.Debug("fetched source document",
		zap.String("source_id", sourceID),
		zap.Int("requirements", len(payload.Requirements)))
	return payload.Requirements, nil
}
