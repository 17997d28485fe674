package optimization

import (
	"context"
)

// Optimizer defines the interface for least-squares minimizers
type Optimizer interface {
	// Optimize minimizes the sum of squared residuals of problem
	Optimize(ctx context.Context, problem Problem, settings Settings) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns one entry per completed iteration
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// ResidualFunc writes the n residuals at p into hx.
type ResidualFunc func(p, hx []float64) error

// JacobianFunc writes the n x m Jacobian at p into jac, row-major:
// jac[i*m+j] is the derivative of residual i with respect to p[j].
type JacobianFunc func(p, jac []float64) error

// Problem is a nonlinear least-squares problem: minimize ||r(p)||^2.
type Problem struct {
	// Residuals computes r(p)
	Residuals ResidualFunc

	// Jacobian computes dr/dp. It is always called at the point of the most
	// recent Residuals call or at a point Residuals has not seen.
	Jacobian JacobianFunc

	// Initial is the starting point; its length is the number of parameters
	Initial []float64

	// N is the number of residuals
	N int
}

// Settings holds the solver options.
type Settings struct {
	// Maximum number of iterations
	MaxIterations int

	// Scale factor for the initial damping term mu
	InitMu float64

	// Stopping threshold for ||J^T e||_inf
	Eps1 float64

	// Stopping threshold for ||dp||_2
	Eps2 float64

	// Stopping threshold for ||e||_2^2
	Eps3 float64
}

// DefaultSettings returns the defaults used when no settings are given.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 500,
		InitMu:        1e-3,
		Eps1:          1e-15,
		Eps2:          1e-15,
		Eps3:          1e-20,
	}
}

// Solution represents a point and its sum of squared residuals
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents one completed iteration
type Evaluation struct {
	Iteration int
	Solution  *Solution
	Mu        float64
	Error     error
}

// Info reports how a run went.
type Info struct {
	// InitialCost is ||e||^2 at the initial point
	InitialCost float64 `json:"initial_cost"`
	// FinalCost is ||e||^2 at the solution
	FinalCost float64 `json:"final_cost"`
	// Gradient is ||J^T e||_inf at the solution
	Gradient float64 `json:"gradient"`
	// StepNorm is ||dp||^2 of the last step
	StepNorm float64 `json:"step_norm"`
	// MuRatio is mu divided by max(diag(J^T J))
	MuRatio float64 `json:"mu_ratio"`
	// Iterations is the number of outer iterations
	Iterations int `json:"iterations"`
	// StopCode identifies why the run stopped
	StopCode int `json:"stop_code"`
	// StopReason describes StopCode
	StopReason string `json:"stop_reason"`
	// Evaluations counts residual evaluations
	Evaluations int `json:"evaluations"`
	// Jacobians counts Jacobian evaluations
	Jacobians int `json:"jacobians"`
	// LinearSolves counts solved linear systems
	LinearSolves int `json:"linear_solves"`
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Converged    bool

	// Covariance is the m x m row-major covariance of the parameters, or nil
	// if it could not be estimated.
	Covariance []float64

	// StdErrors holds sqrt(Covariance[i][i])
	StdErrors []float64

	Info Info
}
