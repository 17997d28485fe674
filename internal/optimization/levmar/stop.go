package levmar

import "fmt"

// StopReason tells why a run ended. The numbering follows the classic
// levmar termination codes, with StopCancelled added.
type StopReason int

const (
	StopNone StopReason = iota
	// StopSmallGradient: ||J^T e||_inf fell below Eps1.
	StopSmallGradient
	// StopSmallStep: ||dp||_2 fell below Eps2 * ||p||_2.
	StopSmallStep
	// StopMaxIterations: the iteration limit was reached.
	StopMaxIterations
	// StopSingular: the augmented normal equations are singular.
	StopSingular
	// StopNoReduction: mu grew without bound and no step reduced the error.
	StopNoReduction
	// StopSmallError: ||e||_2^2 fell below Eps3.
	StopSmallError
	// StopInvalidValues: the model produced NaN/Inf or failed to evaluate.
	StopInvalidValues
	// StopCancelled: the context was cancelled or Stop was called.
	StopCancelled
)

var stopReasonText = map[StopReason]string{
	StopNone:          "not stopped",
	StopSmallGradient: "stopped by small gradient J^T e",
	StopSmallStep:     "stopped by small Dp",
	StopMaxIterations: "stopped by itmax",
	StopSingular:      "singular matrix. Restart from current p with increased mu",
	StopNoReduction:   "no further error reduction is possible. Restart with increased mu",
	StopSmallError:    "stopped by small ||e||_2",
	StopInvalidValues: "stopped by invalid (i.e. NaN or Inf) func values",
	StopCancelled:     "stopped by cancellation",
}

func (r StopReason) String() string {
	if s, ok := stopReasonText[r]; ok {
		return s
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

// Converged reports whether the run ended at a point satisfying one of
// the convergence tests.
func (r StopReason) Converged() bool {
	switch r {
	case StopSmallGradient, StopSmallStep, StopSmallError:
		return true
	}
	return false
}
