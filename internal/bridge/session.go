package bridge

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/dualfit/internal/dual"
	"github.com/copyleftdev/dualfit/internal/errors"
)

const component = "bridge"

// Field names of the model unit. The second name of each pair is accepted as
// an alias.
var (
	initializeNames = [...]string{"initialize", "initfunc"}
	residualsNames  = [...]string{"residuals", "resfunc"}
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateEvaluated
	StateFailed
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateEvaluated:
		return "evaluated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session evaluates one model on one host. It is not safe for concurrent use.
type Session struct {
	host   Host
	logger *zap.Logger
	state  State

	residuals Value
	newDual   DualConstructor
	initial   []float64

	// result is the last committed evaluation; point holds the parameters
	// it was computed at.
	result Value
	point  []float64

	// n is the residual count of the first measured result; every later
	// result must match it. known is false until then.
	n     int
	known bool

	// current is set by Adapter.Residuals and cleared by Adapter.Jacobian. It
	// means result still belongs to the point the solver is working on.
	current bool

	message     string
	evaluations int
}

// NewSession returns an uninitialized session on host. A nil logger
// disables logging.
func NewSession(host Host, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		host:   host,
		logger: logger.Named(component),
	}
}

// Init loads source, checks the model contract and runs initialize to obtain
// the initial parameters. Any failure leaves the session Failed; only Close
// and Err remain useful.
func (s *Session) Init(source string) error {
	const op = "Session.Init"

	if s.state != StateUninitialized {
		return s.usage(op, "init requires an uninitialized session, state is %s", s.state)
	}

	unit, err := s.host.Load(source)
	if err != nil {
		return s.failWrap(errors.KindLoad, op, err)
	}
	if unit.Kind != KindRecord {
		return s.failf(errors.KindLoad, op, "model must return a table, got %s", unit.Kind)
	}

	initialize, err := lookupFunction(unit.Record, initializeNames[:])
	if err != nil {
		return s.failWrap(errors.KindContract, op, err)
	}
	residuals, err := lookupFunction(unit.Record, residualsNames[:])
	if err != nil {
		return s.failWrap(errors.KindContract, op, err)
	}

	guess, err := s.host.Call(initialize, s.host.Library())
	if err != nil {
		return s.failWrap(errors.KindEvaluation, op, err)
	}
	if guess.Kind != KindVector {
		return s.failf(errors.KindContract, op, "initialize must return a RealVector, got %s", guess.Kind)
	}
	if guess.Vector.Len() == 0 {
		return s.failf(errors.KindShape, op, "initialize returned an empty parameter vector")
	}

	newDual, err := s.host.DualConstructor()
	if err != nil {
		return s.failWrap(errors.KindContract, op, err)
	}

	s.residuals = residuals
	s.newDual = newDual
	s.initial = guess.Vector.Values()
	s.state = StateLoaded

	s.logger.Debug("Model loaded",
		zap.Int("params", len(s.initial)),
		zap.Float64s("initial", s.initial),
	)
	return nil
}

// lookupFunction returns the first of names that is present on r. A present
// field that is not a function is a contract violation.
func lookupFunction(r Record, names []string) (Value, error) {
	for _, name := range names {
		v, err := r.Field(name)
		if err != nil {
			return Nil, err
		}
		switch v.Kind {
		case KindNil:
			continue
		case KindFunction:
			return v, nil
		default:
			return Nil, errors.Errorf(errors.KindContract, "model field %q must be a function, got %s", name, v.Kind)
		}
	}
	return Nil, errors.Errorf(errors.KindContract, "model has no %s function", names[0])
}

// Eval runs the model at beta. On success the result becomes the committed
// result; on failure the previous result is kept.
func (s *Session) Eval(beta []float64) error {
	const op = "Session.Eval"

	if s.state != StateLoaded && s.state != StateEvaluated {
		return s.usage(op, "eval requires a loaded session, state is %s", s.state)
	}
	if len(beta) != len(s.initial) {
		return s.usage(op, "parameter vector has length %d, model has %d parameters", len(beta), len(s.initial))
	}

	arg, err := s.newDual(dual.NewSeed(beta))
	if err != nil {
		return s.wrap(errors.KindEvaluation, op, err)
	}
	res, err := s.host.Call(s.residuals, arg)
	if err != nil {
		return s.wrap(errors.KindEvaluation, op, err)
	}
	if res.Kind != KindRecord || !res.Record.HasLen() {
		return s.errorf(errors.KindContract, op, "residuals must return a value with a length, got %s", res.Kind)
	}

	s.result = res
	if s.point == nil {
		s.point = make([]float64, len(beta))
	}
	copy(s.point, beta)
	s.state = StateEvaluated
	s.evaluations++
	return nil
}

// ValueLength returns the number of residuals of the committed result.
func (s *Session) ValueLength() (int, error) {
	const op = "Session.ValueLength"

	if s.state != StateEvaluated {
		return 0, s.usage(op, "no evaluation result, state is %s", s.state)
	}
	n, err := s.result.Record.Len()
	if err != nil {
		return 0, s.wrap(errors.KindEvaluation, op, err)
	}
	if n < 0 {
		return 0, s.errorf(errors.KindShape, op, "result length %d is negative", n)
	}
	if !s.known {
		s.n, s.known = n, true
	} else if n != s.n {
		return 0, s.errorf(errors.KindShape, op, "result has %d residuals, earlier results had %d", n, s.n)
	}
	return n, nil
}

// GetValue copies the committed result into res (n residuals) and jac (the
// n x m Jacobian, row-major: jac[i*m+j] is the derivative of residual i with
// respect to parameter j). A nil buffer skips that part.
func (s *Session) GetValue(res, jac []float64) error {
	const op = "Session.GetValue"

	n, err := s.ValueLength()
	if err != nil {
		return err
	}
	m := len(s.initial)

	if res != nil {
		if len(res) < n {
			return s.usage(op, "residual buffer has length %d, need %d", len(res), n)
		}
		values, err := s.result.Record.Field("real")
		if err != nil {
			return s.wrap(errors.KindEvaluation, op, err)
		}
		if values.Kind != KindVector || values.Vector.Len() != n {
			return s.errorf(errors.KindShape, op, "result field real must be a RealVector of length %d", n)
		}
		values.Vector.CopyTo(res)
	}

	if jac != nil {
		if len(jac) < n*m {
			return s.usage(op, "jacobian buffer has length %d, need %d", len(jac), n*m)
		}
		dirs, err := s.result.Record.Field("imag")
		if err != nil {
			return s.wrap(errors.KindEvaluation, op, err)
		}
		if dirs.Kind != KindList || len(dirs.Items) != m {
			return s.errorf(errors.KindShape, op, "result field imag must hold %d RealVectors", m)
		}
		for j, item := range dirs.Items {
			if item.Kind != KindVector || item.Vector.Len() != n {
				return s.errorf(errors.KindShape, op, "direction %d must be a RealVector of length %d", j+1, n)
			}
		}
		for j, item := range dirs.Items {
			for i, x := range item.Vector.Values() {
				jac[i*m+j] = x
			}
		}
	}
	return nil
}

// Close releases the host. It is safe to call in any state and more than
// once; only the first call reaches the host.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.result = Nil
	s.residuals = Nil
	s.newDual = nil
	s.current = false
	if s.host == nil {
		return nil
	}
	err := s.host.Close()
	s.host = nil
	if err != nil {
		return errors.Wrap(errors.KindUsage, err, "closing host").
			WithOperation("Session.Close").
			WithComponent(component)
	}
	return nil
}

// Err returns the message of the last failure, or "" if nothing failed.
// Messages raised by the model are returned exactly as the host reported
// them.
func (s *Session) Err() string {
	return s.message
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Initial returns a copy of the initial parameters.
func (s *Session) Initial() []float64 {
	out := make([]float64, len(s.initial))
	copy(out, s.initial)
	return out
}

// Params returns the number of model parameters.
func (s *Session) Params() int {
	return len(s.initial)
}

// Evaluations returns the number of successful evaluations.
func (s *Session) Evaluations() int {
	return s.evaluations
}

// atPoint reports whether the committed result was computed at p.
func (s *Session) atPoint(p []float64) bool {
	if s.state != StateEvaluated || len(p) != len(s.point) {
		return false
	}
	for i := range p {
		if p[i] != s.point[i] {
			return false
		}
	}
	return true
}

func (s *Session) usage(op, format string, args ...interface{}) error {
	return s.errorf(errors.KindUsage, op, format, args...)
}

// errorf records a failure that leaves the state unchanged.
func (s *Session) errorf(kind errors.Kind, op, format string, args ...interface{}) error {
	e := errors.Errorf(kind, format, args...).WithOperation(op).WithComponent(component)
	s.message = e.Message
	return e
}

// wrap records a host failure that leaves the state unchanged. The host's
// message is kept verbatim.
func (s *Session) wrap(kind errors.Kind, op string, err error) error {
	s.message = err.Error()
	fields := []zap.Field{
		zap.String("op", op),
		zap.Stringer("kind", kind),
		zap.Error(err),
	}
	var tracer Tracer
	if errors.As(err, &tracer) && tracer.Trace() != "" {
		fields = append(fields, zap.String("traceback", tracer.Trace()))
	}
	s.logger.Debug("Evaluation failed", fields...)
	return &errors.Error{
		Kind:      kind,
		Err:       err,
		Operation: op,
		Component: component,
	}
}

func (s *Session) failf(kind errors.Kind, op, format string, args ...interface{}) error {
	err := s.errorf(kind, op, format, args...)
	s.state = StateFailed
	return err
}

func (s *Session) failWrap(kind errors.Kind, op string, err error) error {
	if k := errors.KindOf(err); k != errors.KindUnknown {
		kind = k
	}
	wrapped := s.wrap(kind, op, err)
	s.state = StateFailed
	return wrapped
}
