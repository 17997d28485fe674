// Package bridge drives a user model through a scripting host and turns each
// evaluation into flat residual and Jacobian buffers for a least-squares
// solver.
//
// A model is a unit returned by the host with two functions:
//
//	initialize(lib)  -> vector of initial parameters
//	residuals(beta)  -> record with a length, "real" and "imag"
//
// Session calls residuals with beta seeded as a dual vector, so one call
// yields the n residuals and all m partial derivatives.
package bridge

import (
	"github.com/copyleftdev/dualfit/internal/dual"
)

// DualConstructor builds the host's dual value for a seed.
type DualConstructor func(seed dual.Seed) (Value, error)

// Host is a scripting runtime that can load and run a model. Errors returned
// by Call carry the host's message unchanged.
type Host interface {
	// Load compiles and runs source and returns the unit it produces.
	Load(source string) (Value, error)
	// Library returns the value passed to the model's initialize function.
	Library() Value
	// DualConstructor resolves the host's dual vector constructor.
	DualConstructor() (DualConstructor, error)
	// Call invokes a KindFunction value with args and returns its first result.
	Call(fn Value, args ...Value) (Value, error)
	// Close releases the runtime.
	Close() error
}

// Tracer is implemented by host errors that carry the script's stack
// traceback. Session logs it next to the message.
type Tracer interface {
	Trace() string
}
