package fit

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/dualfit/internal/optimization"
)

// ConfidenceLevel is the coverage of Parameter.Interval.
const ConfidenceLevel = 0.95

// Parameter is one fitted coefficient.
type Parameter struct {
	Name    string  `json:"name"`
	Initial float64 `json:"initial"`
	Value   float64 `json:"value"`

	// StdError is sqrt of the covariance diagonal; nil when the covariance
	// could not be estimated.
	StdError *float64 `json:"std_error,omitempty"`

	// Interval is the two-sided Student t confidence interval at
	// ConfidenceLevel.
	Interval *[2]float64 `json:"interval,omitempty"`
}

// Report is the result of a fit.
type Report struct {
	Outcome    Outcome           `json:"outcome"`
	Converged  bool              `json:"converged"`
	Parameters []Parameter       `json:"parameters"`
	Covariance [][]float64       `json:"covariance,omitempty"`
	Residuals  int               `json:"residuals"`
	Degrees    int               `json:"degrees_of_freedom"`
	Info       optimization.Info `json:"info"`

	// Usage of the model.
	Evaluations    int `json:"evaluations"`
	JacobianReuses int `json:"jacobian_reuses"`

	DurationSeconds float64 `json:"duration_seconds"`
}

// Beta returns the fitted parameter values.
func (r *Report) Beta() []float64 {
	out := make([]float64, len(r.Parameters))
	for i, p := range r.Parameters {
		out[i] = p.Value
	}
	return out
}

func newReport(initial []float64, n int, result *optimization.OptimizationResult) *Report {
	m := len(initial)
	report := &Report{
		Converged:  result.Converged,
		Parameters: make([]Parameter, m),
		Residuals:  n,
		Degrees:    n - m,
		Info:       result.Info,
	}

	var t float64
	if report.Degrees > 0 {
		t = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(report.Degrees)}.Quantile(0.5 + ConfidenceLevel/2)
	}

	for i := range report.Parameters {
		p := Parameter{
			Name:    fmt.Sprintf("b%d", i+1),
			Initial: initial[i],
			Value:   result.BestSolution.Parameters[i],
		}
		if result.StdErrors != nil && isFinite(result.StdErrors[i]) {
			s := result.StdErrors[i]
			p.StdError = &s
			if t > 0 {
				p.Interval = &[2]float64{p.Value - t*s, p.Value + t*s}
			}
		}
		report.Parameters[i] = p
	}

	if result.Covariance != nil {
		report.Covariance = make([][]float64, m)
		for i := range report.Covariance {
			report.Covariance[i] = append([]float64(nil), result.Covariance[i*m:(i+1)*m]...)
		}
	}
	return report
}

// WriteTable prints the parameters and their standard errors followed by
// the run summary.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 10, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "beta\ts(beta)\t\n")
	for _, p := range r.Parameters {
		se := "-"
		if p.StdError != nil {
			se = fmt.Sprintf("%g", *p.StdError)
		}
		fmt.Fprintf(tw, "%g\t%s\t\n", p.Value, se)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w,
		"\n||e||^2: %g -> %g\n||J^T e||_inf: %g  ||dp||^2: %g  mu/max[J^T J]_ii: %g\n"+
			"iterations: %d  reason %d: %s\nevaluations: %d  jacobians: %d  linear systems: %d\n",
		r.Info.InitialCost, r.Info.FinalCost,
		r.Info.Gradient, r.Info.StepNorm, r.Info.MuRatio,
		r.Info.Iterations, r.Info.StopCode, r.Info.StopReason,
		r.Info.Evaluations, r.Info.Jacobians, r.Info.LinearSolves,
	)
	return err
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
