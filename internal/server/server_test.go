package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/dualfit/internal/config"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/fit"
	"github.com/copyleftdev/dualfit/internal/logging"
)

const decayModel = `
local lib, x, y
return {
  initialize = function(mls)
    lib = mls
    x = mls.RealVector.linspace(0, 4, 25)
    y = 2 * mls.exp(-0.5 * x)
    return mls.Vec{1, 1}
  end,
  residuals = function(b)
    return b[1] * lib.exp(-b[2] * x) - y
  end,
}
`

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stdout"

	cfg.Fit.MaxIterations = 500
	cfg.Fit.InitMu = 1e-3
	cfg.Fit.Eps1 = 1e-15
	cfg.Fit.Eps2 = 1e-15
	cfg.Fit.Eps3 = 1e-20
	cfg.Fit.Seed = 1

	cfg.Server.MaxRunningFits = 2
	cfg.Server.StartRate = 1000
	cfg.Server.StartBurst = 1000
	cfg.Server.MaxScriptBytes = 1 << 16

	return cfg
}

// testLogger creates a logger that discards its output
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.DebugLevel, io.Discard)
}

// fakeFitter blocks every fit until release is closed or the fit is
// cancelled.
type fakeFitter struct {
	release chan struct{}
	report  *fit.Report
	err     error

	mu      sync.Mutex
	running int
	peak    int
}

func newFakeFitter() *fakeFitter {
	return &fakeFitter{
		release: make(chan struct{}),
		report:  &fit.Report{Outcome: fit.OutcomeConverged, Converged: true},
	}
}

func (f *fakeFitter) Fit(ctx context.Context, name, source string) (*fit.Report, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	select {
	case <-f.release:
		return f.report, f.err
	case <-ctx.Done():
		return &fit.Report{Outcome: fit.OutcomeCancelled}, ctx.Err()
	}
}

func (f *fakeFitter) peakRunning() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type rejectionCounter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *rejectionCounter) Rejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func newTestServer(t *testing.T, cfg *config.Config, fitter Fitter) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(cfg, testLogger(t), fitter, nil)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func callRPC(t *testing.T, h http.Handler, body string) rpcResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func startBody(t *testing.T, name, script string) string {
	t.Helper()
	b, err := json.Marshal(StartRequest{Name: name, Script: script})
	require.NoError(t, err)
	return string(b)
}

func waitStatus(t *testing.T, srv *Server, id, want string) *StatusResponse {
	t.Helper()
	var last *StatusResponse
	require.Eventually(t, func() bool {
		resp, err := srv.status(id)
		if err != nil {
			return false
		}
		last = resp
		return resp.Status == want
	}, 10*time.Second, 5*time.Millisecond, "fit %s never reached %s", id, want)
	return last
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), newFakeFitter(), nil)
	assert.NotNil(t, srv, "Server should be created")
	assert.Equal(t, 2, cap(srv.slots))
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, testConfig(t), newFakeFitter())

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/fit", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/fit/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // Registered by cmd/server
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			// Registered routes answer 404 only as a JSON body for an
			// unknown fit id.
			routeMissing := rr.Code == http.StatusNotFound && !strings.Contains(rr.Body.String(), "fit not found")
			assert.Equal(t, !tt.shouldExist, routeMissing, rr.Body.String())
		})
	}
}

func TestRESTLifecycle(t *testing.T) {
	fitter := newFakeFitter()
	srv, r := newTestServer(t, testConfig(t), fitter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fit",
		strings.NewReader(startBody(t, "decay", decayModel))))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, StatusPending, started.Status)
	require.NotEmpty(t, started.ID)

	waitStatus(t, srv, started.ID, StatusRunning)
	close(fitter.release)
	require.NoError(t, srv.Wait(context.Background(), started.ID))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status/"+started.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, "decay", status.Name)
	require.NotNil(t, status.Report)
	assert.Equal(t, fit.OutcomeConverged, status.Report.Outcome)
	assert.NotNil(t, status.EndTime)
	assert.Nil(t, status.Error)

	// Finished fits cannot be cancelled.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/fit/"+started.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}

func TestRESTErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxScriptBytes = 64
	_, r := newTestServer(t, cfg, newFakeFitter())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/api/v1/fit", "{", http.StatusBadRequest},
		{"missing script", http.MethodPost, "/api/v1/fit", `{"name":"x"}`, http.StatusBadRequest},
		{"script too large", http.MethodPost, "/api/v1/fit", startBody(t, "x", strings.Repeat("-", 100)), http.StatusBadRequest},
		{"body too large", http.MethodPost, "/api/v1/fit", startBody(t, "x", strings.Repeat("-", 8192)), http.StatusRequestEntityTooLarge},
		{"unknown status", http.MethodGet, "/api/v1/status/nope", "", http.StatusNotFound},
		{"unknown cancel", http.MethodDelete, "/api/v1/fit/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestJSONRPC(t *testing.T) {
	fitter := newFakeFitter()
	srv, r := newTestServer(t, testConfig(t), fitter)

	resp := callRPC(t, r, `{"jsonrpc":"2.0","id":1,"method":"fit.start","params":`+startBody(t, "decay", decayModel)+`}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, 1.0, resp.ID)

	var started StartResponse
	require.NoError(t, json.Unmarshal(resp.Result, &started))
	require.NotEmpty(t, started.ID)

	// Params may also be a one-element array.
	resp = callRPC(t, r, `{"jsonrpc":"2.0","id":"s","method":"fit.status","params":[{"fit_id":"`+started.ID+`"}]}`)
	require.Nil(t, resp.Error)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.Equal(t, started.ID, status.ID)
	assert.Contains(t, []string{StatusPending, StatusRunning}, status.Status)

	resp = callRPC(t, r, `{"jsonrpc":"2.0","id":2,"method":"fit.cancel","params":{"fit_id":"`+started.ID+`"}}`)
	require.Nil(t, resp.Error)
	require.NoError(t, srv.Wait(context.Background(), started.ID))

	final, err := srv.status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.NotNil(t, final.EndTime)

	resp = callRPC(t, r, `{"jsonrpc":"2.0","id":3,"method":"fit.cancel","params":{"fit_id":"`+started.ID+`"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32003, resp.Error.Code)
}

func TestJSONRPCErrors(t *testing.T) {
	_, r := newTestServer(t, testConfig(t), newFakeFitter())

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, codeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"fit.status"}`, codeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.start"}`, codeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"fit.status"}`, codeInvalidParams},
		{"two params", `{"jsonrpc":"2.0","id":1,"method":"fit.status","params":[{},{}]}`, codeInvalidParams},
		{"params of wrong type", `{"jsonrpc":"2.0","id":1,"method":"fit.start","params":{"script":3}}`, codeInvalidParams},
		{"empty script", `{"jsonrpc":"2.0","id":1,"method":"fit.start","params":{"name":"x"}}`, codeInvalidParams},
		{"unknown fit", `{"jsonrpc":"2.0","id":1,"method":"fit.status","params":{"fit_id":"nope"}}`, -32004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callRPC(t, r, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code, resp.Error.Message)
			assert.Nil(t, resp.Result)
		})
	}
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), newFakeFitter(), nil)

	tests := []struct {
		name    string
		code    int
		message string
		id      interface{}
	}{
		{"string id", codeServerError, "server error", "123"},
		{"nil id", codeParseError, "Parse error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			assert.Equal(t, http.StatusOK, rr.Code)
			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, "2.0", response["jsonrpc"])
			assert.Equal(t, tt.id, response["id"])
			errObj := response["error"].(map[string]interface{})
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
		})
	}
}

func TestRespondWithAPIError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), newFakeFitter(), nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"api error keeps its status", errNotFound, http.StatusNotFound},
		{"usage error", errors.New(errors.KindUsage, "bad argument"), http.StatusBadRequest},
		{"evaluation error", errors.New(errors.KindEvaluation, "attempt to index a nil value"), http.StatusUnprocessableEntity},
		{"load error", errors.New(errors.KindLoad, "syntax error"), http.StatusUnprocessableEntity},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithAPIError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.err.Error(), response["error"])
		})
	}
}

func TestFailedFit(t *testing.T) {
	fitter := newFakeFitter()
	fitter.report = nil
	fitter.err = errors.New(errors.KindContract, `model "bad" has no residuals function`)
	close(fitter.release)
	srv, _ := newTestServer(t, testConfig(t), fitter)

	started, err := srv.startFit(StartRequest{Name: "bad", Script: "return {}"})
	require.NoError(t, err)
	require.NoError(t, srv.Wait(context.Background(), started.ID))

	status, err := srv.status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, "ContractError", status.Error.Kind)
	assert.Contains(t, status.Error.Message, "no residuals function")
	assert.Nil(t, status.Report)
}

func TestConcurrencyLimit(t *testing.T) {
	fitter := newFakeFitter()
	srv, _ := newTestServer(t, testConfig(t), fitter)

	var ids []string
	for i := 0; i < 5; i++ {
		started, err := srv.startFit(StartRequest{Script: "return {}"})
		require.NoError(t, err)
		ids = append(ids, started.ID)
	}

	require.Eventually(t, func() bool {
		running, pending := 0, 0
		for _, id := range ids {
			status, err := srv.status(id)
			if err != nil {
				return false
			}
			switch status.Status {
			case StatusRunning:
				running++
			case StatusPending:
				pending++
			}
		}
		return running == 2 && pending == 3
	}, 5*time.Second, 5*time.Millisecond)

	// A queued fit can be cancelled before it runs.
	var queued string
	for _, id := range ids {
		status, err := srv.status(id)
		require.NoError(t, err)
		if status.Status == StatusPending {
			queued = id
			break
		}
	}
	require.NoError(t, srv.cancelFit(queued))
	require.NoError(t, srv.Wait(context.Background(), queued))

	close(fitter.release)
	for _, id := range ids {
		require.NoError(t, srv.Wait(context.Background(), id))
	}
	assert.LessOrEqual(t, fitter.peakRunning(), 2)

	status, err := srv.status(queued)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status.Status)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.StartRate = 0.001
	cfg.Server.StartBurst = 2

	rejections := &rejectionCounter{}
	srv := NewServer(cfg, testLogger(t), newFakeFitter(), rejections)
	t.Cleanup(func() { _ = srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fit",
			strings.NewReader(startBody(t, "m", "return {}"))))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)

	resp := callRPC(t, r, `{"jsonrpc":"2.0","id":1,"method":"fit.start","params":{"script":"return {}"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32001, resp.Error.Code)

	rejections.mu.Lock()
	defer rejections.mu.Unlock()
	assert.Equal(t, []string{"rate_limited", "rate_limited"}, rejections.reasons)
}

func TestClose(t *testing.T) {
	fitter := newFakeFitter()
	rejections := &rejectionCounter{}
	srv := NewServer(testConfig(t), testLogger(t), fitter, rejections)

	started, err := srv.startFit(StartRequest{Script: "return {}"})
	require.NoError(t, err)
	waitStatus(t, srv, started.ID, StatusRunning)

	require.NoError(t, srv.Close(), "Close should not return an error")

	status, err := srv.status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status.Status)

	_, err = srv.startFit(StartRequest{Script: "return {}"})
	assert.ErrorIs(t, err, errShutdown)
	assert.Equal(t, []string{"shutdown"}, rejections.reasons)
}

func TestFitDecay(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full fit")
	}
	cfg := testConfig(t)
	runner := fit.NewRunner(fit.Options{Settings: cfg.FitSettings(), Seed: cfg.Fit.Seed})
	_, r := newTestServer(t, cfg, runner)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fit",
		bytes.NewBufferString(startBody(t, "decay", decayModel))))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	var status StatusResponse
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status/"+started.ID, nil))
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &status) != nil {
			return false
		}
		return status.Status != StatusPending && status.Status != StatusRunning
	}, 30*time.Second, 10*time.Millisecond)

	require.Equal(t, StatusCompleted, status.Status, "%+v", status.Error)
	require.NotNil(t, status.Report)
	assert.True(t, status.Report.Converged)
	beta := status.Report.Beta()
	require.Len(t, beta, 2)
	assert.InDelta(t, 2.0, beta[0], 1e-2)
	assert.InDelta(t, 0.5, beta[1], 1e-2)
}
