package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/job"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/report"
)

type fakeReportStore struct {
	latest  *report.MonitoringReport
	reports []*report.MonitoringReport
	changes []*monitoring.Change

	lastSourceID string
	lastSince    time.Time
	lastLimit    int
}

func (f *fakeReportStore) LatestReport(context.Context) (*report.MonitoringReport, error) {
	if f.latest == nil {
		return nil, errors.ErrReportNotFound
	}
	return f.latest, nil
}

func (f *fakeReportStore) ListReports(_ context.Context, limit int) ([]*report.MonitoringReport, error) {
	f.lastLimit = limit
	return f.reports, nil
}

func (f *fakeReportStore) ListChanges(_ context.Context, sourceID string, since time.Time, limit int) ([]*monitoring.Change, error) {
	f.lastSourceID = sourceID
	f.lastSince = since
	f.lastLimit = limit

	var out []*monitoring.Change
	for _, c := range f.changes {
		if sourceID != "" && c.SourceID != sourceID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type fakeJobs struct {
	statuses  []job.Record
	triggered []string
	report    *report.MonitoringReport
	err       error
}

func (f *fakeJobs) JobStatuses() []job.Record { return f.statuses }

func (f *fakeJobs) TriggerJob(_ context.Context, name string) (*report.MonitoringReport, error) {
	f.triggered = append(f.triggered, name)
	if f.err != nil {
		return f.report, f.err
	}
	return f.report, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func sampleReport() *report.MonitoringReport {
	rep := report.New("daily-monitor", time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC))
	rep.AddSource(report.SourceStatus{SourceID: "hipaa-privacy", Outcome: report.SourceProcessed, ChangeCount: 1})
	rep.TopActions = []drift.ActionPlanItem{
		{Priority: 1, SystemID: "patient-portal", RegulationID: "hipaa", RequirementID: "R1",
			Issue: "encryption requirement widened", EstimatedHours: 24,
			EstimatedCost: decimal.NewFromInt(10000), RiskLevel: drift.RiskLevelHigh},
		{Priority: 2, SystemID: "billing", RegulationID: "hipaa", RequirementID: "R7",
			Issue: "audit logging gap", EstimatedHours: 8,
			EstimatedCost: decimal.NewFromInt(3500), RiskLevel: drift.RiskLevelMedium},
	}
	rep.Finalize(time.Date(2026, 3, 16, 6, 1, 0, 0, time.UTC), false)
	return rep
}

func newTestRouter(t *testing.T, store *fakeReportStore, jobs *fakeJobs) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewRouter(RouterConfig{
		Handler: NewHandler(store, jobs, logger),
		Health: NewHealthHandler(map[string]Pinger{
			"postgres": fakePinger{},
			"redis":    fakePinger{},
		}, logger),
		Logger: logger,
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestGetLatestReport(t *testing.T) {
	store := &fakeReportStore{latest: sampleReport()}
	router := newTestRouter(t, store, &fakeJobs{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cycle/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got report.MonitoringReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "daily-monitor", got.JobName)
	assert.Equal(t, report.CycleStatusCompleted, got.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetLatestReport_NotFound(t *testing.T) {
	router := newTestRouter(t, &fakeReportStore{}, &fakeJobs{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cycle/latest", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "RESOURCE_NOT_FOUND")
}

func TestListChanges_FiltersAndParses(t *testing.T) {
	now := time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC)
	store := &fakeReportStore{changes: []*monitoring.Change{
		monitoring.NewChange("hipaa-privacy", "R1", monitoring.ChangeTypeModified, monitoring.SeverityMedium, "old", "new", now),
		monitoring.NewChange("gdpr", "A5", monitoring.ChangeTypeAdded, monitoring.SeverityCritical, "", "new duty", now),
	}}
	router := newTestRouter(t, store, &fakeJobs{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/changes?source_id=hipaa-privacy&since=2026-03-15T00:00:00Z&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hipaa-privacy", store.lastSourceID)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), store.lastSince)
	assert.Equal(t, 10, store.lastLimit)

	var body struct {
		Changes []*monitoring.Change `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Changes, 1)
	assert.Equal(t, "R1", body.Changes[0].RequirementID)
}

func TestListChanges_BadSince(t *testing.T) {
	router := newTestRouter(t, &fakeReportStore{}, &fakeJobs{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/changes?since=yesterday", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_SINCE")
}

func TestGetActionPlan_FiltersBySystem(t *testing.T) {
	store := &fakeReportStore{latest: sampleReport()}
	router := newTestRouter(t, store, &fakeJobs{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/action-plan?system_id=billing", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ActionPlan []drift.ActionPlanItem `json:"action_plan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.ActionPlan, 1)
	assert.Equal(t, "R7", body.ActionPlan[0].RequirementID)
	// Cross-system rank survives filtering.
	assert.Equal(t, 2, body.ActionPlan[0].Priority)
}

func TestTriggerJob(t *testing.T) {
	jobs := &fakeJobs{report: sampleReport()}
	router := newTestRouter(t, &fakeReportStore{}, jobs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/daily-monitor/trigger", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"daily-monitor"}, jobs.triggered)
}

func TestTriggerJob_Unknown(t *testing.T) {
	jobs := &fakeJobs{err: errors.ErrJobNotFound}
	router := newTestRouter(t, &fakeReportStore{}, jobs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nope/trigger", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	record, err := job.NewRecord("daily-monitor",
		job.Schedule{Frequency: job.FrequencyDaily, Hour: 6}, 3,
		time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	router := newTestRouter(t, &fakeReportStore{}, &fakeJobs{statuses: []job.Record{*record}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily-monitor")
}

func TestReadiness_Degraded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	router := NewRouter(RouterConfig{
		Handler: NewHandler(&fakeReportStore{}, &fakeJobs{}, logger),
		Health: NewHealthHandler(map[string]Pinger{
			"postgres": fakePinger{err: errors.NewInternalError("connection refused")},
			"redis":    fakePinger{},
		}, logger),
		Logger: logger,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := chain(panicky, recoveryMiddleware(logger))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
