package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/internal/api"
	"github.com/tigerroll/caseflow/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/engine/verification"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

type MockOperator struct {
	mock.Mock
}

func (m *MockOperator) Create(ctx context.Context, req usecase.CreateRequest) (*model.Process, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Process), args.Error(1)
}

func (m *MockOperator) Dispatch(ctx context.Context, processID string) (int, error) {
	args := m.Called(ctx, processID)
	return args.Int(0), args.Error(1)
}

func (m *MockOperator) Pause(ctx context.Context, processID string) error {
	return m.Called(ctx, processID).Error(0)
}

func (m *MockOperator) Resume(ctx context.Context, processID string) error {
	return m.Called(ctx, processID).Error(0)
}

func (m *MockOperator) Cancel(ctx context.Context, processID string) error {
	return m.Called(ctx, processID).Error(0)
}

func (m *MockOperator) RetryFailedBatches(ctx context.Context, processID string) (int, error) {
	args := m.Called(ctx, processID)
	return args.Int(0), args.Error(1)
}

func (m *MockOperator) Restart(ctx context.Context, processID string) error {
	return m.Called(ctx, processID).Error(0)
}

type MockExplorer struct {
	mock.Mock
}

func (m *MockExplorer) GetStatus(ctx context.Context, processID string) (*usecase.ProcessStatusReport, error) {
	args := m.Called(ctx, processID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.ProcessStatusReport), args.Error(1)
}

func (m *MockExplorer) ListProcesses(ctx context.Context, statuses ...model.ProcessStatus) ([]*model.Process, error) {
	args := m.Called(ctx, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Process), args.Error(1)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Start(ctx context.Context, processID string, mode model.VerificationMode) (string, error) {
	args := m.Called(ctx, processID, mode)
	return args.String(0), args.Error(1)
}

func (m *MockVerifier) Status(ctx context.Context, runID string) (*verification.Progress, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verification.Progress), args.Error(1)
}

func (m *MockVerifier) QuickVerify(ctx context.Context, processID string, sampleSize int) (map[model.ResourceType]verification.QuickResult, error) {
	args := m.Called(ctx, processID, sampleSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.ResourceType]verification.QuickResult), args.Error(1)
}

type MockStaleRuns struct {
	mock.Mock
}

func (m *MockStaleRuns) Scan(ctx context.Context) ([]verification.StaleRun, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]verification.StaleRun), args.Error(1)
}

func (m *MockStaleRuns) Recover(ctx context.Context, runID string, mode model.VerificationMode) (string, error) {
	args := m.Called(ctx, runID, mode)
	return args.String(0), args.Error(1)
}

type stubArchive struct {
	names []string
}

func (s stubArchive) List(ctx context.Context, rt model.ResourceType, processID string) ([]string, error) {
	return s.names, nil
}

type envelope struct {
	OK    bool             `json:"ok"`
	Data  json.RawMessage  `json:"data"`
	Error *api.ErrorDetail `json:"error"`
}

type testServer struct {
	router   *gin.Engine
	operator *MockOperator
	explorer *MockExplorer
	verifier *MockVerifier
	stale    *MockStaleRuns
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &testServer{
		operator: new(MockOperator),
		explorer: new(MockExplorer),
		verifier: new(MockVerifier),
		stale:    new(MockStaleRuns),
	}
	h := api.NewHandler(s.operator, s.explorer, s.verifier, s.stale, stubArchive{names: []string{"payloads/a.parquet"}})
	s.router = api.NewRouter(h, nil)
	t.Cleanup(func() {
		s.operator.AssertExpectations(t)
		s.explorer.AssertExpectations(t)
		s.verifier.AssertExpectations(t)
		s.stale.AssertExpectations(t)
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestCreateProcessDispatches(t *testing.T) {
	s := newTestServer(t)
	p := model.NewProcess("clients", model.ResourceClient, nil, nil, 100, 2, 250)
	req := usecase.CreateRequest{Name: "clients", ResourceType: model.ResourceClient, BatchSize: 100}
	s.operator.On("Create", mock.Anything, req).Return(p, nil)
	s.operator.On("Dispatch", mock.Anything, p.ID).Return(2, nil)

	code, env := s.do(t, http.MethodPost, "/processes", req)

	assert.Equal(t, http.StatusCreated, code)
	assert.True(t, env.OK)
	var data struct {
		ProcessID  string `json:"process_id"`
		Dispatched int    `json:"dispatched"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, p.ID, data.ProcessID)
	assert.Equal(t, 2, data.Dispatched)
}

func TestCreateProcessRejectsInvalidFilter(t *testing.T) {
	s := newTestServer(t)
	s.operator.On("Create", mock.Anything, mock.Anything).
		Return(nil, &exception.InvalidFilterError{Key: "colour", Reason: "unsupported filter"})

	code, env := s.do(t, http.MethodPost, "/processes", map[string]interface{}{
		"resource_type": "CLIENT",
		"filters":       map[string]string{"colour": "red"},
	})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_filter", env.Error.Kind)
	assert.Contains(t, env.Error.Message, "colour")
}

func TestCreateProcessRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/processes", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"invalid_request"`)
}

func TestGetProcessStatus(t *testing.T) {
	s := newTestServer(t)
	p := model.NewProcess("cases", model.ResourceCase, nil, nil, 10, 1, 20)
	report := &usecase.ProcessStatusReport{Process: p, Status: "IN_PROGRESS", TotalItems: 20, ProcessedItems: 10, ProgressPercentage: 50}
	s.explorer.On("GetStatus", mock.Anything, p.ID).Return(report, nil)
	s.explorer.On("GetStatus", mock.Anything, "missing").Return(nil, fmt.Errorf("process missing: %w", exception.ErrNotFound))

	code, env := s.do(t, http.MethodGet, "/processes/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	var got usecase.ProcessStatusReport
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 50.0, got.ProgressPercentage)
	assert.EqualValues(t, 20, got.TotalItems)

	code, env = s.do(t, http.MethodGet, "/processes/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Kind)
}

func TestListProcessesParsesStatuses(t *testing.T) {
	s := newTestServer(t)
	s.explorer.On("ListProcesses", mock.Anything,
		[]model.ProcessStatus{model.ProcessPending, model.ProcessCompleted, model.ProcessFailed}).
		Return(nil, nil)

	code, env := s.do(t, http.MethodGet, "/processes?status=pending,completed&status=FAILED", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestTransitions(t *testing.T) {
	s := newTestServer(t)
	s.operator.On("Pause", mock.Anything, "p1").Return(nil)
	s.operator.On("Resume", mock.Anything, "p1").Return(nil)
	s.operator.On("Restart", mock.Anything, "p1").Return(nil)
	s.operator.On("Cancel", mock.Anything, "p1").Return(&exception.InvalidTransitionError{
		Entity: "process", ID: "p1", From: "COMPLETED", To: "CANCELLED",
	})
	s.operator.On("RetryFailedBatches", mock.Anything, "p1").Return(3, nil)

	for _, action := range []string{"pause", "resume", "restart"} {
		code, env := s.do(t, http.MethodPost, "/processes/p1/"+action, nil)
		assert.Equal(t, http.StatusOK, code, action)
		assert.True(t, env.OK, action)
	}

	code, env := s.do(t, http.MethodPost, "/processes/p1/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Error.Kind)

	code, env = s.do(t, http.MethodPost, "/processes/p1/retry-failed", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"process_id":"p1","batches_reset":3}`, string(env.Data))
}

func TestStartVerification(t *testing.T) {
	s := newTestServer(t)
	s.verifier.On("Start", mock.Anything, "p1", model.VerificationContinue).Return("run-1", nil)
	s.verifier.On("Start", mock.Anything, "p1", model.VerificationMode("")).Return("run-2", nil)
	s.verifier.On("Start", mock.Anything, "p1", model.VerificationMode("partial")).
		Return("", &exception.InvalidFilterError{Key: "mode", Reason: "unknown mode"})

	code, env := s.do(t, http.MethodPost, "/processes/p1/verifications", map[string]string{"mode": "CONTINUE"})
	assert.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"verification_run_id":"run-1"}`, string(env.Data))

	code, _ = s.do(t, http.MethodPost, "/processes/p1/verifications", nil)
	assert.Equal(t, http.StatusAccepted, code)

	code, env = s.do(t, http.MethodPost, "/processes/p1/verifications", map[string]string{"mode": "partial"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_filter", env.Error.Kind)
}

func TestGetVerificationStatus(t *testing.T) {
	s := newTestServer(t)
	prog := &verification.Progress{RunID: "run-1", Status: verification.RunRunning, Total: 100, Processed: 40, Verified: 39, CurrentActivity: "verifying CLIENT"}
	s.verifier.On("Status", mock.Anything, "run-1").Return(prog, nil)

	code, env := s.do(t, http.MethodGet, "/verifications/run-1", nil)
	assert.Equal(t, http.StatusOK, code)
	var got verification.Progress
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, verification.RunRunning, got.Status)
	assert.EqualValues(t, 40, got.Processed)
}

func TestQuickVerify(t *testing.T) {
	s := newTestServer(t)
	res := map[model.ResourceType]verification.QuickResult{
		model.ResourceClient: {TotalChecked: 25, Verified: 25, SuccessRate: 100, Status: "verified"},
	}
	s.verifier.On("QuickVerify", mock.Anything, "p1", 25).Return(res, nil)

	code, env := s.do(t, http.MethodGet, "/processes/p1/quick-verify?sample_size=25", nil)
	assert.Equal(t, http.StatusOK, code)
	var got map[model.ResourceType]verification.QuickResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, res, got)

	code, env = s.do(t, http.MethodGet, "/processes/p1/quick-verify?sample_size=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", env.Error.Kind)
}

func TestStaleVerifications(t *testing.T) {
	s := newTestServer(t)
	stale := []verification.StaleRun{{
		Progress: verification.Progress{RunID: "run-9", Status: verification.RunInterrupted, HeartbeatAt: time.Now()},
		Silence:  time.Minute,
	}}
	s.stale.On("Scan", mock.Anything).Return(stale, nil)
	s.stale.On("Recover", mock.Anything, "run-9", model.VerificationFull).Return("run-10", nil)

	code, env := s.do(t, http.MethodGet, "/verifications/stale", nil)
	assert.Equal(t, http.StatusOK, code)
	var got []verification.StaleRun
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "run-9", got[0].RunID)

	code, env = s.do(t, http.MethodPost, "/verifications/run-9/recover", map[string]string{"mode": "full"})
	assert.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"recovered_run_id":"run-9","verification_run_id":"run-10"}`, string(env.Data))
}

func TestListArchives(t *testing.T) {
	s := newTestServer(t)
	p := model.NewProcess("cases", model.ResourceCase, nil, nil, 10, 1, 20)
	s.explorer.On("GetStatus", mock.Anything, p.ID).Return(&usecase.ProcessStatusReport{Process: p}, nil)

	code, env := s.do(t, http.MethodGet, "/processes/"+p.ID+"/archives", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["payloads/a.parquet"]`, string(env.Data))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "no scrape route without an exposition handler")
}
