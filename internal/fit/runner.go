// Package fit runs a complete fit of a Lua model: it loads the script into
// a fresh interpreter, drives it through an evaluation session and the
// Levenberg-Marquardt minimizer, and summarizes the outcome as a Report.
package fit

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/dualfit/internal/bridge"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/luahost"
	"github.com/copyleftdev/dualfit/internal/optimization"
	"github.com/copyleftdev/dualfit/internal/optimization/levmar"
	"github.com/copyleftdev/dualfit/internal/vector"
)

// Options configures a Runner.
type Options struct {
	// Settings for the minimizer. The zero value selects the defaults.
	Settings optimization.Settings

	// Seed for RealVector.rand and RealVector.randn. Zero seeds from the
	// clock.
	Seed int64

	// Timeout bounds a single fit. Zero means no limit.
	Timeout time.Duration

	Logger   *zap.Logger
	Observer Observer
}

// Runner fits models. It is safe for concurrent use; every fit gets its
// own interpreter.
type Runner struct {
	settings optimization.Settings
	seed     int64
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.Settings == (optimization.Settings{}) {
		opts.Settings = optimization.DefaultSettings()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}
	return &Runner{
		settings: opts.Settings,
		seed:     opts.Seed,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		observer: opts.Observer,
	}
}

// Settings returns the minimizer settings used by the runner.
func (r *Runner) Settings() optimization.Settings {
	return r.settings
}

// Fit loads source and fits it. name labels the script in error messages.
//
// If the model fails part way or ctx is cancelled, Fit returns the report
// reached so far along with the error. A nil report means the model never
// produced a residual vector.
func (r *Runner) Fit(ctx context.Context, name, source string) (*Report, error) {
	const op = "Runner.Fit"

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger := r.logger.Named("fit").With(zap.String("model", name))
	start := time.Now()
	r.observer.FitStarted()

	var (
		report *Report
		usage  Usage
		err    error
	)
	defer func() {
		outcome := outcomeOf(ctx, report, err)
		if report != nil {
			report.Outcome = outcome
			report.DurationSeconds = time.Since(start).Seconds()
		}
		r.observer.FitFinished(outcome, time.Since(start), usage)
		logger.Info("Fit finished",
			zap.String("outcome", string(outcome)),
			zap.Duration("duration", time.Since(start)),
			zap.Int("evaluations", usage.Evaluations),
			zap.Error(err),
		)
	}()

	host, err := luahost.New(luahost.Options{
		Source:    vector.NewSource(r.seed),
		ChunkName: name,
		Logger:    logger,
	})
	if err != nil {
		err = errors.Wrap(errors.KindLoad, err, "cannot start interpreter").WithOperation(op)
		return nil, err
	}
	host.SetContext(ctx)

	session := bridge.NewSession(host, logger)
	defer session.Close()

	if err = session.Init(source); err != nil {
		return nil, err
	}

	initial := session.Initial()
	if err = session.Eval(initial); err != nil {
		return nil, err
	}
	n, err := session.ValueLength()
	if err != nil {
		return nil, err
	}
	logger.Debug("Model ready", zap.Int("params", len(initial)), zap.Int("residuals", n))

	adapter := bridge.NewAdapter(session)
	minimizer := levmar.New(logger)
	result, err := minimizer.Optimize(ctx, optimization.Problem{
		Residuals: adapter.Residuals,
		Jacobian:  adapter.Jacobian,
		Initial:   initial,
		N:         n,
	}, r.settings)

	stats := adapter.Stats()
	usage = Usage{
		Evaluations:    stats.Evaluations,
		JacobianReuses: stats.JacobianReuses,
	}
	if result == nil {
		err = errors.Wrap(errors.KindUsage, err, "model cannot be fitted").WithOperation(op)
		return nil, err
	}

	usage.Iterations = result.Iterations
	report = newReport(initial, n, result)
	report.Evaluations = stats.Evaluations
	report.JacobianReuses = stats.JacobianReuses
	if err != nil {
		return report, err
	}
	return report, nil
}

func outcomeOf(ctx context.Context, report *Report, err error) Outcome {
	switch {
	case ctx.Err() != nil || stderrors.Is(err, optimization.ErrStopped):
		return OutcomeCancelled
	case err != nil:
		return OutcomeFailed
	case report != nil && report.Converged:
		return OutcomeConverged
	default:
		return OutcomeStopped
	}
}
