package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/drift"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/errors"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/job"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/report"
)

// ReportStore is the read side of the persistence layer the API exposes.
type ReportStore interface {
	LatestReport(ctx context.Context) (*report.MonitoringReport, error)
	ListReports(ctx context.Context, limit int) ([]*report.MonitoringReport, error)
	ListChanges(ctx context.Context, sourceID string, since time.Time, limit int) ([]*monitoring.Change, error)
}

// JobController exposes the scheduler's job surface.
type JobController interface {
	JobStatuses() []job.Record
	TriggerJob(ctx context.Context, name string) (*report.MonitoringReport, error)
}

// Handler serves the monitoring API.
type Handler struct {
	reports ReportStore
	jobs    JobController
	logger  *slog.Logger
}

func NewHandler(reports ReportStore, jobs JobController, logger *slog.Logger) *Handler {
	return &Handler{reports: reports, jobs: jobs, logger: logger}
}

// GetLatestReport returns the most recent cycle report.
func (h *Handler) GetLatestReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.LatestReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// ListReports returns cycle history, newest first.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reports, err := h.reports.ListReports(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// ListChanges returns detected changes, optionally filtered by source and a
// since timestamp (RFC 3339).
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, r, errors.NewValidationError("INVALID_SINCE", "since must be an RFC 3339 timestamp"))
			return
		}
	}

	changes, err := h.reports.ListChanges(r.Context(), r.URL.Query().Get("source_id"), since, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

// GetActionPlan returns the latest cycle's prioritized remediation items,
// optionally narrowed to one system. Filtered items keep their cross-system
// priority ranks.
func (h *Handler) GetActionPlan(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rep, err := h.reports.LatestReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := rep.TopActions
	if systemID := r.URL.Query().Get("system_id"); systemID != "" {
		filtered := make([]drift.ActionPlanItem, 0, len(items))
		for _, item := range items {
			if item.SystemID == systemID {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"report_id":    rep.ReportID,
		"completed_at": rep.CompletedAt,
		"action_plan":  items,
	})
}

// ListJobs returns every registered job's status.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.JobStatuses()})
}

// TriggerJob runs the named job immediately and returns its cycle report.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeError(w, r, errors.NewValidationError("MISSING_JOB_NAME", "job name is required"))
		return
	}

	rep, err := h.jobs.TriggerJob(r.Context(), name)
	if err != nil {
		// A finished report still comes back on partial or failed cycles.
		if rep != nil {
			h.writeJSON(w, http.StatusOK, rep)
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.NewValidationError("INVALID_"+strings.ToUpper(name), name+" must be a non-negative integer")
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetStatusCode(err)
	body := errorBody{Code: "INTERNAL_ERROR", Message: "An internal error occurred"}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Code = appErr.Code
		if status < http.StatusInternalServerError {
			body.Message = appErr.Message
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
}
