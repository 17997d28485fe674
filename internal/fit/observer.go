package fit

import (
	"time"
)

// Outcome classifies how a fit ended.
type Outcome string

const (
	// OutcomeConverged means one of the convergence tests was met.
	OutcomeConverged Outcome = "converged"
	// OutcomeStopped means the minimizer gave up without converging, for
	// example at the iteration limit.
	OutcomeStopped Outcome = "stopped"
	// OutcomeFailed means the model could not be loaded or evaluated.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the fit was cancelled or timed out.
	OutcomeCancelled Outcome = "cancelled"
)

// Observer receives fit lifecycle events. Implement it to export metrics.
type Observer interface {
	// FitStarted is called before the model is loaded.
	FitStarted()

	// FitFinished is called once per FitStarted.
	FitFinished(outcome Outcome, duration time.Duration, usage Usage)
}

// Usage counts the model work done by one fit.
type Usage struct {
	Iterations     int
	Evaluations    int
	JacobianReuses int
}

// NoopObserver is an Observer that does nothing.
type NoopObserver struct{}

func (NoopObserver) FitStarted() {}
func (NoopObserver) FitFinished(Outcome, time.Duration, Usage) {}
