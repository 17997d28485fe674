// Package levmar implements the Levenberg-Marquardt method for nonlinear
// least squares with a user supplied Jacobian.
//
// The iteration follows the well known levmar dlevmar_der scheme: the
// damping term starts at InitMu * max(diag(J^T J)) and is updated from the
// gain ratio of each accepted step, the run stops on the first of the
// tests described by StopReason, and the covariance of the solution is
// estimated from the pseudo-inverse of J^T J.
package levmar

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/dualfit/internal/optimization"
)

// epsilon is the machine epsilon for float64.
const epsilon = 2.220446049250313e-16

// Minimizer implements optimization.Optimizer. A Minimizer runs one problem
// at a time; GetBestSolution, GetHistory and Stop may be called from other
// goroutines while Optimize is running.
type Minimizer struct {
	logger *zap.Logger
	ws     workspace

	mu      sync.Mutex
	best    *optimization.Solution
	history []optimization.Evaluation
	cancel  context.CancelFunc
}

var _ optimization.Optimizer = (*Minimizer)(nil)

// New creates a Minimizer. A nil logger disables logging.
func New(logger *zap.Logger) *Minimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Minimizer{logger: logger.Named("levmar")}
}

// Optimize minimizes ||r(p)||^2 starting from problem.Initial. A zero
// Settings value selects DefaultSettings.
//
// When the model fails to evaluate or the run is cancelled, Optimize returns
// the result reached so far together with the error.
func (lm *Minimizer) Optimize(ctx context.Context, problem optimization.Problem, settings optimization.Settings) (*optimization.OptimizationResult, error) {
	const op = "Minimizer.Optimize"

	if settings == (optimization.Settings{}) {
		settings = optimization.DefaultSettings()
	}
	if err := validate(problem, settings); err != nil {
		return nil, err.WithOperation(op).WithComponent("levmar")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lm.mu.Lock()
	lm.cancel = cancel
	lm.best = nil
	lm.history = make([]optimization.Evaluation, 0, min(settings.MaxIterations, 64))
	lm.mu.Unlock()

	r := &run{
		lm:       lm,
		ctx:      ctx,
		problem:  problem,
		settings: settings,
		w:        &lm.ws,
	}
	result, err := r.minimize()
	if err != nil {
		err = err.WithOperation(op).WithComponent("levmar")
	}

	lm.logger.Info("Optimization finished",
		zap.Int("iterations", result.Info.Iterations),
		zap.String("stop_reason", result.Info.StopReason),
		zap.Float64("initial_cost", result.Info.InitialCost),
		zap.Float64("final_cost", result.Info.FinalCost),
		zap.Int("evaluations", result.Info.Evaluations),
		zap.Int("jacobians", result.Info.Jacobians),
	)
	if err != nil {
		return result, err
	}
	return result, nil
}

// GetBestSolution returns the current point of the running or last run.
func (lm *Minimizer) GetBestSolution() *optimization.Solution {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.best == nil {
		return nil
	}
	return &optimization.Solution{
		Parameters: append([]float64(nil), lm.best.Parameters...),
		Value:      lm.best.Value,
	}
}

// GetHistory returns one entry per completed iteration.
func (lm *Minimizer) GetHistory() []optimization.Evaluation {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]optimization.Evaluation(nil), lm.history...)
}

// Stop cancels the running optimization, if any. The run ends with
// StopCancelled at the next iteration boundary.
func (lm *Minimizer) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.cancel != nil {
		lm.cancel()
	}
}

func (lm *Minimizer) record(k int, p []float64, cost, mu float64) {
	sol := &optimization.Solution{
		Parameters: append([]float64(nil), p...),
		Value:      cost,
	}
	lm.mu.Lock()
	lm.best = sol
	lm.history = append(lm.history, optimization.Evaluation{
		Iteration: k,
		Solution:  sol,
		Mu:        mu,
	})
	lm.mu.Unlock()
}

func validate(problem optimization.Problem, settings optimization.Settings) *optimization.Error {
	m := len(problem.Initial)
	switch {
	case problem.Residuals == nil || problem.Jacobian == nil:
		return optimization.WrapError(optimization.ErrInvalidProblem, "residual and jacobian functions are required")
	case m == 0:
		return optimization.WrapError(optimization.ErrInvalidProblem, "no parameters")
	case problem.N < m:
		return optimization.WrapErrorf(optimization.ErrInvalidProblem,
			"cannot solve a problem with fewer measurements (%d) than unknowns (%d)", problem.N, m)
	case !allFinite(problem.Initial):
		return optimization.WrapError(optimization.ErrInvalidProblem, "initial point is not finite")
	case settings.MaxIterations < 1:
		return optimization.WrapErrorf(optimization.ErrInvalidProblem, "max iterations must be positive, got %d", settings.MaxIterations)
	case !(settings.InitMu > 0):
		return optimization.WrapErrorf(optimization.ErrInvalidProblem, "initial mu must be positive, got %g", settings.InitMu)
	case settings.Eps1 < 0 || settings.Eps2 < 0 || settings.Eps3 < 0:
		return optimization.WrapError(optimization.ErrInvalidProblem, "stopping thresholds must not be negative")
	}
	return nil
}

// run is the state of one Optimize call.
type run struct {
	lm       *Minimizer
	ctx      context.Context
	problem  optimization.Problem
	settings optimization.Settings
	w        *workspace

	info   optimization.Info
	cost   float64
	mu     float64
	jacAtP bool
	err    error
}

func (r *run) minimize() (*optimization.OptimizationResult, *optimization.Error) {
	w := r.w
	w.reset(r.problem.N, len(r.problem.Initial))
	copy(w.p, r.problem.Initial)

	stop := r.iterate()
	r.info.StopCode = int(stop)
	r.info.StopReason = stop.String()
	if d := w.maxDiag(); d > 0 {
		r.info.MuRatio = r.mu / d
	}
	r.info.FinalCost = r.cost

	result := &optimization.OptimizationResult{
		BestSolution: &optimization.Solution{
			Parameters: append([]float64(nil), w.p...),
			Value:      r.cost,
		},
		History:    r.lm.GetHistory(),
		Iterations: r.info.Iterations,
		Converged:  stop.Converged(),
	}

	switch stop {
	case StopInvalidValues:
		result.Info = r.info
		if r.err == nil {
			r.err = optimization.ErrNotFinite
		}
		return result, optimization.WrapError(r.err, "model evaluation failed")
	case StopCancelled:
		result.Info = r.info
		return result, optimization.WrapError(fmt.Errorf("%w: %w", optimization.ErrStopped, context.Cause(r.ctx)), "run cancelled")
	}

	r.estimateCovariance(result)
	result.Info = r.info
	return result, nil
}

// iterate runs the outer loop and returns the stop reason.
func (r *run) iterate() StopReason {
	w, s := r.w, r.settings

	if err := r.problem.Residuals(w.p, w.hx); err != nil {
		r.err = err
		return StopInvalidValues
	}
	r.info.Evaluations++
	r.cost = floats.Dot(w.hx, w.hx)
	r.info.InitialCost = r.cost
	if math.IsNaN(r.cost) || math.IsInf(r.cost, 0) {
		return StopInvalidValues
	}

	var (
		stop StopReason
		nu   = 2
		k    int
	)
	eps2sq := s.Eps2 * s.Eps2

	for k = 0; k < s.MaxIterations && stop == StopNone; k++ {
		if r.ctx.Err() != nil {
			stop = StopCancelled
			break
		}
		if r.cost <= s.Eps3 {
			stop = StopSmallError
			break
		}

		if err := r.problem.Jacobian(w.p, w.jac); err != nil {
			r.err = err
			stop = StopInvalidValues
			break
		}
		r.info.Jacobians++
		if !allFinite(w.jac) {
			stop = StopInvalidValues
			break
		}
		r.jacAtP = true
		w.normalEquations()

		r.info.Gradient = w.gradientNorm()
		if r.info.Gradient <= s.Eps1 {
			stop = StopSmallGradient
			break
		}
		if k == 0 {
			r.mu = s.InitMu * w.maxDiag()
		}

		pNorm := floats.Dot(w.p, w.p)
		for {
			if w.solve(r.mu, r.lm.logger) {
				r.info.LinearSolves++
				dp := w.dp.RawVector().Data
				r.info.StepNorm = floats.Dot(dp, dp)

				if r.info.StepNorm <= eps2sq*pNorm {
					stop = StopSmallStep
					break
				}
				if r.info.StepNorm >= (pNorm+s.Eps2)/(epsilon*epsilon) {
					stop = StopSingular
					break
				}

				floats.AddTo(w.pNew, w.p, dp)
				if err := r.problem.Residuals(w.pNew, w.hxNew); err != nil {
					r.err = err
					stop = StopInvalidValues
					break
				}
				r.info.Evaluations++
				newCost := floats.Dot(w.hxNew, w.hxNew)
				if math.IsNaN(newCost) || math.IsInf(newCost, 0) {
					stop = StopInvalidValues
					break
				}

				// dL = dp . (mu*dp + J^T e)
				dL := 0.0
				for i, v := range dp {
					dL += v * (r.mu*v + w.jte.AtVec(i))
				}
				dF := r.cost - newCost

				if dL > 0 && dF > 0 {
					t := 2*dF/dL - 1
					t = 1 - t*t*t
					r.mu *= math.Max(t, 1.0/3.0)
					nu = 2
					w.p, w.pNew = w.pNew, w.p
					w.hx, w.hxNew = w.hxNew, w.hx
					r.cost = newCost
					r.jacAtP = false
					break
				}
			}

			r.mu *= float64(nu)
			nu2 := nu << 1
			if nu2 <= nu {
				stop = StopNoReduction
				break
			}
			nu = nu2
			if r.ctx.Err() != nil {
				stop = StopCancelled
				break
			}
		}

		r.lm.record(k, w.p, r.cost, r.mu)
		r.lm.logger.Debug("Iteration",
			zap.Int("iteration", k),
			zap.Float64("cost", r.cost),
			zap.Float64("mu", r.mu),
			zap.Float64("gradient", r.info.Gradient),
		)
	}

	r.info.Iterations = k
	if stop == StopNone && k >= s.MaxIterations {
		stop = StopMaxIterations
	}
	return stop
}

// estimateCovariance fills Covariance and StdErrors. The Jacobian is
// re-evaluated when the last accepted step moved away from it.
func (r *run) estimateCovariance(result *optimization.OptimizationResult) {
	w := r.w
	if !r.jacAtP {
		if err := r.problem.Jacobian(w.p, w.jac); err != nil || !allFinite(w.jac) {
			r.lm.logger.Debug("Skipping covariance", zap.Error(err))
			return
		}
		r.info.Jacobians++
		w.normalEquations()
		r.info.Gradient = w.gradientNorm()
	}

	cov, rank := w.covariance(r.cost)
	if cov == nil {
		r.lm.logger.Debug("Covariance not available",
			zap.Int("rank", rank),
			zap.Int("measurements", w.n),
		)
		return
	}
	result.Covariance = cov
	result.StdErrors = make([]float64, w.m)
	for i := range result.StdErrors {
		result.StdErrors[i] = math.Sqrt(math.Max(cov[i*w.m+i], 0))
	}
}
