package bridge

// Adapter exposes a Session as the residual and Jacobian callbacks of a
// least-squares solver. Solvers ask for the Jacobian at the point they last
// evaluated the residuals at; the adapter serves that request from the same
// evaluation instead of running the model again.
type Adapter struct {
	session *Session
	reused  int
}

// Stats counts the work done through an Adapter.
type Stats struct {
	// Evaluations is the number of successful model evaluations.
	Evaluations int
	// JacobianReuses is the number of Jacobian requests served without a new
	// evaluation.
	JacobianReuses int
}

// NewAdapter returns an adapter on a loaded session.
func NewAdapter(s *Session) *Adapter {
	return &Adapter{session: s}
}

// Residuals evaluates the model at p and writes the residuals into hx.
func (a *Adapter) Residuals(p, hx []float64) error {
	s := a.session
	s.current = false
	if err := s.Eval(p); err != nil {
		return err
	}
	if err := s.GetValue(hx, nil); err != nil {
		return err
	}
	s.current = true
	return nil
}

// Jacobian writes the row-major Jacobian at p into jac. If the last call was
// Residuals at the same p, its evaluation is reused.
func (a *Adapter) Jacobian(p, jac []float64) error {
	s := a.session
	if s.current && s.atPoint(p) {
		a.reused++
	} else if err := s.Eval(p); err != nil {
		s.current = false
		return err
	}
	s.current = false
	return s.GetValue(nil, jac)
}

// Stats returns the counters so far.
func (a *Adapter) Stats() Stats {
	return Stats{
		Evaluations:    a.session.Evaluations(),
		JacobianReuses: a.reused,
	}
}
