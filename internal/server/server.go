package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/dualfit/internal/config"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/fit"
	"github.com/copyleftdev/dualfit/internal/logging"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Fitter runs one fit. *fit.Runner implements it.
type Fitter interface {
	Fit(ctx context.Context, name, source string) (*fit.Report, error)
}

// Rejections counts refused start requests. *metrics.Collector
// implements it.
type Rejections interface {
	Rejected(reason string)
}

// Fit statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// FitState tracks one fit job. Fields are guarded by Server.fitsMu.
type FitState struct {
	ID          string
	Name        string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Report      *fit.Report
	Err         error

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *FitState) terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrorInfo is the JSON form of a failed fit.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusResponse is returned by fit.status and GET /api/v1/status/{id}.
type StatusResponse struct {
	ID          string      `json:"fit_id"`
	Name        string      `json:"name,omitempty"`
	Status      string      `json:"status"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	LastUpdated time.Time   `json:"last_update"`
	Report      *fit.Report `json:"report,omitempty"`
	Error       *ErrorInfo  `json:"error,omitempty"`
}

// StartResponse is returned when a fit is accepted.
type StartResponse struct {
	ID     string `json:"fit_id"`
	Status string `json:"status"`
}

// StartRequest is the body of fit.start and POST /api/v1/fit.
type StartRequest struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

// Server implements the HTTP and JSON-RPC API of the fitting service. It
// starts fits in the background, at most cfg.Server.MaxRunningFits at a
// time, and keeps their results for status queries.
type Server struct {
	cfg        *config.Config
	logger     Logger
	fitter     Fitter
	rejections Rejections

	limiter *rate.Limiter
	slots   chan struct{}

	fits   map[string]*FitState
	fitsMu sync.RWMutex // Protects fits and the states in it
	wg     sync.WaitGroup
	closed bool
}

// NewServer creates a new server instance. rejections may be nil.
func NewServer(cfg *config.Config, logger Logger, fitter Fitter, rejections Rejections) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger,
		fitter:     fitter,
		rejections: rejections,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Server.StartRate), cfg.Server.StartBurst),
		slots:      make(chan struct{}, cfg.Server.MaxRunningFits),
		fits:       make(map[string]*FitState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fit", s.handleStart)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/fit/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// apiError is an error with the HTTP status and JSON-RPC code it maps to.
type apiError struct {
	status  int
	code    int
	message string
}

func (e *apiError) Error() string { return e.message }

var (
	errRateLimited = &apiError{http.StatusTooManyRequests, -32001, "too many fit requests"}
	errShutdown    = &apiError{http.StatusServiceUnavailable, -32002, "server is shutting down"}
	errNotFound    = &apiError{http.StatusNotFound, -32004, "fit not found"}
)

func invalidParams(msg string) *apiError {
	return &apiError{http.StatusBadRequest, codeInvalidParams, msg}
}

// startFit validates req and launches the fit.
func (s *Server) startFit(req StartRequest) (*StartResponse, error) {
	if req.Script == "" {
		return nil, invalidParams("script is required")
	}
	if int64(len(req.Script)) > s.cfg.Server.MaxScriptBytes {
		return nil, invalidParams("script is too large")
	}
	if !s.limiter.Allow() {
		s.reject("rate_limited")
		return nil, errRateLimited
	}

	name := req.Name
	if name == "" {
		name = "model"
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &FitState{
		ID:          uuid.NewString(),
		Name:        name,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	s.fitsMu.Lock()
	if s.closed {
		s.fitsMu.Unlock()
		cancel()
		s.reject("shutdown")
		return nil, errShutdown
	}
	s.fits[state.ID] = state
	s.wg.Add(1)
	s.fitsMu.Unlock()

	go s.runFit(ctx, state, req.Script)

	s.logger.Info("Fit accepted", map[string]interface{}{
		"fit_id": state.ID,
		"name":   name,
	})
	return &StartResponse{ID: state.ID, Status: StatusPending}, nil
}

// runFit waits for a free slot, runs the fit and records the outcome.
func (s *Server) runFit(ctx context.Context, state *FitState, source string) {
	defer s.wg.Done()
	defer close(state.done)
	defer state.cancel()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.finish(state, nil, ctx.Err())
		return
	}

	s.fitsMu.Lock()
	if state.Status == StatusPending {
		state.Status = StatusRunning
		state.LastUpdated = time.Now()
	}
	s.fitsMu.Unlock()

	report, err := s.fitter.Fit(ctx, state.Name, source)
	s.finish(state, report, err)
}

func (s *Server) finish(state *FitState, report *fit.Report, err error) {
	s.fitsMu.Lock()
	defer s.fitsMu.Unlock()

	now := time.Now()
	state.Report = report
	state.Err = err
	state.LastUpdated = now
	if state.EndTime == nil {
		state.EndTime = &now
	}

	switch {
	case state.Status == StatusCancelled:
	case err != nil && (errors.Is(err, context.Canceled) ||
		report != nil && report.Outcome == fit.OutcomeCancelled):
		state.Status = StatusCancelled
	case err != nil:
		state.Status = StatusFailed
		s.logger.Error("Fit failed", map[string]interface{}{
			"fit_id": state.ID,
			"kind":   errors.KindOf(err).String(),
			"error":  err.Error(),
		})
	default:
		state.Status = StatusCompleted
	}

	fields := map[string]interface{}{
		"fit_id": state.ID,
		"status": state.Status,
	}
	if report != nil {
		fields["outcome"] = string(report.Outcome)
		fields["iterations"] = report.Info.Iterations
	}
	s.logger.Info("Fit finished", fields)
}

// status snapshots the state of a fit.
func (s *Server) status(id string) (*StatusResponse, error) {
	s.fitsMu.RLock()
	defer s.fitsMu.RUnlock()

	state, ok := s.fits[id]
	if !ok {
		return nil, errNotFound
	}
	resp := &StatusResponse{
		ID:          state.ID,
		Name:        state.Name,
		Status:      state.Status,
		StartTime:   state.StartTime,
		EndTime:     state.EndTime,
		LastUpdated: state.LastUpdated,
		Report:      state.Report,
	}
	if state.Err != nil {
		resp.Error = &ErrorInfo{
			Kind:    errors.KindOf(state.Err).String(),
			Message: state.Err.Error(),
		}
	}
	return resp, nil
}

// cancelFit cancels a pending or running fit.
func (s *Server) cancelFit(id string) error {
	s.fitsMu.Lock()
	defer s.fitsMu.Unlock()

	state, ok := s.fits[id]
	if !ok {
		return errNotFound
	}
	if state.terminal() {
		return &apiError{http.StatusConflict, -32003, "cannot cancel fit with status: " + state.Status}
	}

	state.cancel()
	now := time.Now()
	state.Status = StatusCancelled
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Fit cancelled", map[string]interface{}{
		"fit_id": id,
	})
	return nil
}

// Wait blocks until the fit id has finished or ctx is done.
func (s *Server) Wait(ctx context.Context, id string) error {
	s.fitsMu.RLock()
	state, ok := s.fits[id]
	s.fitsMu.RUnlock()
	if !ok {
		return errNotFound
	}
	select {
	case <-state.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) reject(reason string) {
	if s.rejections != nil {
		s.rejections.Rejected(reason)
	}
}

// Close cancels all fits, refuses new ones and waits for the running ones
// to return.
func (s *Server) Close() error {
	s.fitsMu.Lock()
	s.closed = true
	for _, state := range s.fits {
		state.cancel()
	}
	s.fitsMu.Unlock()

	s.wg.Wait()
	return nil
}

// respondJSON writes v as the JSON body.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}
