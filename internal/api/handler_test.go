package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/job-scheduler/internal/scheduler"
	"github.com/0xPuncker/job-scheduler/internal/store"
	"github.com/0xPuncker/job-scheduler/internal/testutil"
	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiPath = "/api/v1"

type fakeScheduler struct {
	mu      sync.Mutex
	running map[string]bool
	runErr  error
	ran     []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{running: map[string]bool{}}
}

func (f *fakeScheduler) RunNow(ctx context.Context, job types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	f.ran = append(f.ran, job.ID)
	f.running[job.ID] = true
	return nil
}

func (f *fakeScheduler) StopJob(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running[jobID]
	delete(f.running, jobID)
	return was
}

func (f *fakeScheduler) IsJobRunning(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[jobID]
}

func (f *fakeScheduler) Status() scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.Status{Running: true, PollInterval: "30s", MaxConcurrent: 5, InFlight: len(f.running)}
}

type testAPI struct {
	router    *mux.Router
	store     *store.Memory
	scheduler *fakeScheduler
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{store: store.NewMemory(), scheduler: newFakeScheduler()}
	api.router = NewRouter(NewHandler(api.store, api.scheduler, testutil.QuietLogger()))
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, apiPath+path, reader)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) createJob(t *testing.T, name, sched string) types.Job {
	t.Helper()
	job := &types.Job{Name: name, Commands: []string{"echo " + name}, Schedule: sched, Enabled: true}
	require.NoError(t, a.store.CreateJob(context.Background(), job))
	return *job
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealthCheck(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	decode(t, rr, &response)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, true, response["scheduler"])
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateJob(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, http.MethodPost, "/jobs", `{
		"name": "backup",
		"commands_raw": "echo start\n\necho done",
		"schedule": {"weekdays": [1, 3], "times": [{"minute": 30, "hour": 2}]}
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var job jobResponse
	decode(t, rr, &job)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "backup", job.Name)
	assert.Equal(t, []string{"echo start", "echo done"}, job.Commands)
	assert.Equal(t, `{"weekdays":[1,3],"times":[{"hour":2,"minute":30}]}`, job.Schedule)
	assert.True(t, job.Enabled)
	assert.False(t, job.Running)

	rr = api.do(t, http.MethodPost, "/jobs", `{"name":"cron","commands":["date"],"schedule":"  */5 * * * * ","enabled":false}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	decode(t, rr, &job)
	assert.Equal(t, "*/5 * * * *", job.Schedule)
	assert.False(t, job.Enabled)
}

func TestCreateJobRejectsInvalidInput(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing name", `{"commands":["date"],"schedule":"* * * * *"}`, "name is required"},
		{"no commands", `{"name":"x","commands_raw":"  \n","schedule":"* * * * *"}`, "at least one command"},
		{"bad cron", `{"name":"x","commands":["date"],"schedule":"61 * * * *"}`, "cron expression"},
		{"bad calendar", `{"name":"x","commands":["date"],"schedule":{"months":[0]}}`, "months"},
		{"unknown field", `{"name":"x","commands":["date"],"schedule":"* * * * *","cron":"x"}`, "invalid request body"},
		{"not json", `nope`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var response map[string]string
			decode(t, rr, &response)
			assert.Contains(t, response["error"], tt.message)
		})
	}

	jobs, err := api.store.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGetJob(t *testing.T) {
	api := setupTestAPI(t)
	job := api.createJob(t, "report", "0 9 * * 1")

	rr := api.do(t, http.MethodGet, "/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got jobResponse
	decode(t, rr, &got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "0 9 * * 1", got.Schedule)

	rr = api.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListJobs(t *testing.T) {
	api := setupTestAPI(t)
	a := api.createJob(t, "a", "* * * * *")
	api.createJob(t, "b", "* * * * *")
	api.scheduler.running[a.ID] = true

	rr := api.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Jobs       []jobResponse `json:"jobs"`
		ActiveJobs int           `json:"active_jobs"`
	}
	decode(t, rr, &response)
	require.Len(t, response.Jobs, 2)
	assert.Equal(t, 1, response.ActiveJobs)
	for _, j := range response.Jobs {
		assert.Equal(t, j.ID == a.ID, j.Running)
	}
}

func TestUpdateJob(t *testing.T) {
	api := setupTestAPI(t)
	job := api.createJob(t, "nightly", "0 0 * * *")

	rr := api.do(t, http.MethodPut, "/jobs/"+job.ID, `{"schedule":{"daysOfMonth":[1,15]}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got jobResponse
	decode(t, rr, &got)
	assert.Equal(t, `{"daysOfMonth":[1,15]}`, got.Schedule)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, job.Commands, got.Commands)

	rr = api.do(t, http.MethodPut, "/jobs/"+job.ID, `{"schedule":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodPut, "/jobs/"+job.ID, `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodPut, "/jobs/missing", `{"enabled":false}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	stored, err := api.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"daysOfMonth":[1,15]}`, stored.Schedule)
}

func TestDisablingRunningJobStopsIt(t *testing.T) {
	api := setupTestAPI(t)
	job := api.createJob(t, "long", "* * * * *")
	api.scheduler.running[job.ID] = true

	rr := api.do(t, http.MethodPut, "/jobs/"+job.ID, `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var got jobResponse
	decode(t, rr, &got)
	assert.False(t, got.Enabled)
	assert.False(t, got.Running)
	assert.False(t, api.scheduler.IsJobRunning(job.ID))
}

func TestDeleteJob(t *testing.T) {
	api := setupTestAPI(t)
	job := api.createJob(t, "old", "* * * * *")
	api.scheduler.running[job.ID] = true

	rr := api.do(t, http.MethodDelete, "/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, api.scheduler.IsJobRunning(job.ID))

	_, err := api.store.GetJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rr = api.do(t, http.MethodDelete, "/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunJob(t *testing.T) {
	api := setupTestAPI(t)
	job := api.createJob(t, "manual", "0 0 1 1 *")

	rr := api.do(t, http.MethodPost, "/jobs/"+job.ID+"/run", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{job.ID}, api.scheduler.ran)

	tests := []struct {
		err  error
		code int
	}{
		{scheduler.ErrAlreadyRunning, http.StatusConflict},
		{scheduler.ErrConcurrencyLimit, http.StatusConflict},
		{scheduler.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			api.scheduler.runErr = tt.err
			rr := api.do(t, http.MethodPost, "/jobs/"+job.ID+"/run", "")
			assert.Equal(t, tt.code, rr.Code)

			var response map[string]string
			decode(t, rr, &response)
			assert.Equal(t, tt.err.Error(), response["error"])
		})
	}

	api.scheduler.runErr = nil
	rr = api.do(t, http.MethodPost, "/jobs/missing/run", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStopJob(t *testing.T) {
	api := setupTestAPI(t)
	job := api.createJob(t, "slow", "* * * * *")

	rr := api.do(t, http.MethodPost, "/jobs/"+job.ID+"/stop", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	api.scheduler.running[job.ID] = true
	rr = api.do(t, http.MethodPost, "/jobs/"+job.ID+"/stop", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, api.scheduler.IsJobRunning(job.ID))
}

func TestListExecutions(t *testing.T) {
	api := setupTestAPI(t)
	a := api.createJob(t, "a", "* * * * *")
	b := api.createJob(t, "b", "* * * * *")

	base := time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		_, err := api.store.AppendExecution(context.Background(), a.ID, true, nil, at, at.Add(time.Second))
		require.NoError(t, err)
	}
	_, err := api.store.AppendExecution(context.Background(), b.ID, false, nil, base, base)
	require.NoError(t, err)

	rr := api.do(t, http.MethodGet, "/executions?page=2&page_size=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page executionsResponse
	decode(t, rr, &page)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Executions, 2)

	rr = api.do(t, http.MethodGet, "/executions?job_id="+b.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Executions, 1)
	assert.False(t, page.Executions[0].Success)

	rr = api.do(t, http.MethodGet, "/jobs/"+a.ID+"/executions?page_size=3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &page)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Executions, 3)
	assert.True(t, page.Executions[0].StartedAt.Equal(base.Add(4*time.Minute)), "newest first")

	rr = api.do(t, http.MethodGet, "/executions?page=0", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	lastPage := math.MaxInt / maxPageSize
	rr = api.do(t, http.MethodGet, fmt.Sprintf("/executions?page=%d&page_size=%d", lastPage, maxPageSize), "")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &page)
	assert.Equal(t, 6, page.Total)
	assert.Empty(t, page.Executions, "far past the last row")

	rr = api.do(t, http.MethodGet, fmt.Sprintf("/executions?page=%d&page_size=2", lastPage+1), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = api.do(t, http.MethodGet, "/executions?page=9223372036854775807", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodGet, "/jobs/missing/executions", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestValidateSchedule(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name        string
		body        string
		valid       bool
		storageForm string
	}{
		{"cron", `{"schedule":"*/15 9-17 * * 1-5"}`, true, "*/15 9-17 * * 1-5"},
		{"calendar", `{"schedule":{"times":[{"minute":0,"hour":12}]}}`, true, `{"times":[{"hour":12,"minute":0}]}`},
		{"bad cron", `{"schedule":"every day"}`, false, ""},
		{"bad calendar", `{"schedule":{"weekdays":[7]}}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/schedules/validate", tt.body)
			require.Equal(t, http.StatusOK, rr.Code)

			var response validateResponse
			decode(t, rr, &response)
			assert.Equal(t, tt.valid, response.Valid)
			assert.Equal(t, tt.storageForm, response.StorageForm)
			if !tt.valid {
				assert.NotEmpty(t, response.Error)
			}
		})
	}
}

func TestSchedulerStatus(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, http.MethodGet, "/scheduler", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var status scheduler.Status
	decode(t, rr, &status)
	assert.True(t, status.Running)
	assert.Equal(t, 5, status.MaxConcurrent)
}

func TestCORSPreflight(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, apiPath+"/jobs", nil)
	rr := httptest.NewRecorder()
	corsMiddleware(api.router).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
