package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/0xPuncker/job-scheduler/internal/scheduler"
	"github.com/0xPuncker/job-scheduler/internal/store"
	"github.com/0xPuncker/job-scheduler/pkg/schedule"
	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// JobController is the part of the scheduler the HTTP API drives.
type JobController interface {
	RunNow(ctx context.Context, job types.Job) error
	StopJob(jobID string) bool
	IsJobRunning(jobID string) bool
	Status() scheduler.Status
}

type Handler struct {
	store     store.Store
	scheduler JobController
	logger    *logrus.Logger
}

type jobResponse struct {
	types.Job
	Running bool `json:"running"`
}

type createJobRequest struct {
	Name        string          `json:"name"`
	Commands    []string        `json:"commands"`
	CommandsRaw string          `json:"commands_raw"`
	Schedule    json.RawMessage `json:"schedule"`
	Enabled     *bool           `json:"enabled"`
}

type updateJobRequest struct {
	Name        *string         `json:"name"`
	Commands    []string        `json:"commands"`
	CommandsRaw *string         `json:"commands_raw"`
	Schedule    json.RawMessage `json:"schedule"`
	Enabled     *bool           `json:"enabled"`
}

type validateRequest struct {
	Schedule json.RawMessage `json:"schedule"`
}

type validateResponse struct {
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
	StorageForm string `json:"storage_form,omitempty"`
}

type executionsResponse struct {
	Executions []types.Execution `json:"executions"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	Total      int               `json:"total"`
}

func NewHandler(st store.Store, sched JobController, logger *logrus.Logger) *Handler {
	return &Handler{
		store:     st,
		scheduler: sched,
		logger:    logger,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.handleError(w, fmt.Errorf("store unavailable: %w", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"scheduler": h.scheduler.Status().Running,
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListJobs(r.Context())
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.toResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        out,
		"active_jobs": h.scheduler.Status().InFlight,
	})
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.handleError(w, errors.New("name is required"), http.StatusBadRequest)
		return
	}
	commands := pickCommands(req.Commands, req.CommandsRaw)
	if len(commands) == 0 {
		h.handleError(w, errors.New("at least one command is required"), http.StatusBadRequest)
		return
	}
	stored, err := schedule.ToStorageForm(req.Schedule)
	if err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}

	job := &types.Job{
		Name:     name,
		Commands: commands,
		Schedule: stored,
		Enabled:  req.Enabled == nil || *req.Enabled,
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_name": job.Name,
		"schedule": job.Schedule,
	}).Info("Job created")
	writeJSON(w, http.StatusCreated, h.toResponse(*job))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(*job))
}

func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	var req updateJobRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			h.handleError(w, errors.New("name must not be empty"), http.StatusBadRequest)
			return
		}
		job.Name = name
	}
	if req.Commands != nil || req.CommandsRaw != nil {
		raw := ""
		if req.CommandsRaw != nil {
			raw = *req.CommandsRaw
		}
		commands := pickCommands(req.Commands, raw)
		if len(commands) == 0 {
			h.handleError(w, errors.New("at least one command is required"), http.StatusBadRequest)
			return
		}
		job.Commands = commands
	}
	if len(req.Schedule) > 0 {
		stored, err := schedule.ToStorageForm(req.Schedule)
		if err != nil {
			h.handleError(w, err, http.StatusBadRequest)
			return
		}
		job.Schedule = stored
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if err := h.store.UpdateJob(r.Context(), job); err != nil {
		h.handleStoreError(w, err)
		return
	}
	if !job.Enabled && h.scheduler.StopJob(job.ID) {
		h.logger.WithField("job_id", job.ID).Info("Stopped running job after disabling it")
	}
	writeJSON(w, http.StatusOK, h.toResponse(*job))
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteJob(r.Context(), id); err != nil {
		h.handleStoreError(w, err)
		return
	}
	h.scheduler.StopJob(id)
	h.logger.WithField("job_id", id).Info("Job deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	err := h.scheduler.RunNow(r.Context(), *job)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "job started",
			"job_id": job.ID,
		})
	case errors.Is(err, scheduler.ErrAlreadyRunning), errors.Is(err, scheduler.ErrConcurrencyLimit):
		h.handleError(w, err, http.StatusConflict)
	case errors.Is(err, scheduler.ErrStopped):
		h.handleError(w, err, http.StatusServiceUnavailable)
	default:
		h.handleError(w, err, http.StatusInternalServerError)
	}
}

func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if !h.scheduler.StopJob(job.ID) {
		h.handleError(w, errors.New("job is not running"), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "job stopped",
		"job_id": job.ID,
	})
}

func (h *Handler) ListJobExecutions(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	h.listExecutions(w, r, job.ID)
}

func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	h.listExecutions(w, r, r.URL.Query().Get("job_id"))
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request, jobID string) {
	page, pageSize, err := pagination(r)
	if err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}

	list, total, err := h.store.ListExecutions(r.Context(), store.ExecutionFilter{
		JobID:  jobID,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, executionsResponse{
		Executions: list,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
	})
}

func (h *Handler) ValidateSchedule(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, err, http.StatusBadRequest)
		return
	}

	stored, err := schedule.ToStorageForm(req.Schedule)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, StorageForm: stored})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*types.Job, bool) {
	job, err := h.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleStoreError(w, err)
		return nil, false
	}
	return job, true
}

func (h *Handler) toResponse(j types.Job) jobResponse {
	return jobResponse{Job: j, Running: h.scheduler.IsJobRunning(j.ID)}
}

func (h *Handler) handleStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.handleError(w, errors.New("job not found"), http.StatusNotFound)
		return
	}
	h.handleError(w, err, http.StatusInternalServerError)
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	if code >= http.StatusInternalServerError {
		h.logger.Error(err)
	} else {
		h.logger.Debug(err)
	}
	writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pickCommands prefers the explicit list and falls back to newline separated text.
func pickCommands(list []string, raw string) []string {
	var out []string
	for _, c := range list {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	return types.SplitCommands(raw)
}

func pagination(r *http.Request) (page, pageSize int, err error) {
	q := r.URL.Query()
	page, pageSize = 1, defaultPageSize
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		if page > math.MaxInt/maxPageSize {
			return 0, 0, fmt.Errorf("page must not exceed %d", math.MaxInt/maxPageSize)
		}
	}
	if v := q.Get("page_size"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 {
			return 0, 0, fmt.Errorf("page_size must be a positive integer")
		}
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize, nil
}
