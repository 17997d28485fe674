// Package luahost runs user models in an embedded Lua interpreter.
//
// The interpreter is sandboxed: only the base, table, string and math
// libraries are opened and the file loaders are removed. Models see the
// numeric library through the value passed to their initialize function
// (also available as the global mlsmat):
//
//	RealVector   new, rand, randn, linspace, abs, exp, log, sqrt, totable,
//	             copy, max, min
//	IndexRange   new
//	DualNVector  new, abs, exp, log, sqrt
//	Vec, Rng     aliases of RealVector.new and IndexRange.new
//	abs, exp, log, sqrt  accept numbers, RealVectors and DualNVectors
//
// Vectors support + - * / ^, unary minus, # and .. with numbers and each
// other, 1-based indexing by integer or IndexRange, and tostring.
package luahost

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/copyleftdev/dualfit/internal/bridge"
	"github.com/copyleftdev/dualfit/internal/dual"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/vector"
)

const (
	// LibraryName is the global holding the numeric library.
	LibraryName = "mlsmat"

	defaultChunkName = "model"
)

// Options configures a Host.
type Options struct {
	// Source feeds RealVector.rand and RealVector.randn. Nil seeds a new
	// source from the clock.
	Source *vector.Source
	// ChunkName names the model in Lua error messages.
	ChunkName string
	// Logger receives host diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Host is a Lua interpreter with the numeric library installed. It
// implements bridge.Host and is not safe for concurrent use.
type Host struct {
	L      *lua.LState
	source *vector.Source
	logger *zap.Logger
	chunk  string

	lib     *lua.LTable
	classes map[string]*lua.LTable
	closed  bool
}

var _ bridge.Host = (*Host)(nil)

// New creates a sandboxed interpreter and installs the library.
func New(opts Options) (*Host, error) {
	if opts.Source == nil {
		opts.Source = vector.NewSource(0)
	}
	if opts.ChunkName == "" {
		opts.ChunkName = defaultChunkName
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h := &Host{
		L:       lua.NewState(lua.Options{SkipOpenLibs: true}),
		source:  opts.Source,
		logger:  opts.Logger.Named("luahost"),
		chunk:   opts.ChunkName,
		classes: make(map[string]*lua.LTable),
	}
	if err := h.openLibs(); err != nil {
		h.L.Close()
		return nil, errors.Wrap(errors.KindLoad, err, "cannot load libraries").
			WithOperation("New").
			WithComponent("luahost")
	}
	h.lib = h.newLibrary()
	h.L.SetGlobal(LibraryName, h.lib)
	return h, nil
}

func (h *Host) openLibs() error {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		err := h.L.CallByParam(lua.P{
			Fn:      h.L.NewFunction(pair.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.name))
		if err != nil {
			return err
		}
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		h.L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// SetContext makes running scripts fail once ctx is done.
func (h *Host) SetContext(ctx context.Context) {
	h.L.SetContext(ctx)
}

// Load compiles and runs source and returns the value it produces.
func (h *Host) Load(source string) (bridge.Value, error) {
	fn, err := h.L.Load(strings.NewReader(source), h.chunk)
	if err != nil {
		return bridge.Nil, scriptErr(err)
	}
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return bridge.Nil, scriptErr(err)
	}
	unit := h.L.Get(-1)
	h.L.Pop(1)
	return h.decode(unit, 0), nil
}

// Library returns the numeric library table.
func (h *Host) Library() bridge.Value {
	return bridge.RecordOf(&objectRecord{h: h, obj: h.lib}, h.lib)
}

// DualConstructor resolves DualNVector.new from the library.
func (h *Host) DualConstructor() (bridge.DualConstructor, error) {
	class, ok := h.lib.RawGetString(dualVectorType).(*lua.LTable)
	if !ok {
		return nil, errors.New(errors.KindContract, "DualNVector class is absent")
	}
	ctor, ok := class.RawGetString("new").(*lua.LFunction)
	if !ok {
		return nil, errors.New(errors.KindContract, "DualNVector.new method is absent")
	}

	return func(seed dual.Seed) (bridge.Value, error) {
		args := make([]lua.LValue, 0, seed.Dims()+1)
		args = append(args, h.newRealVector(seed.Value))
		for _, d := range seed.Directions {
			args = append(args, h.newRealVector(d))
		}
		out, err := h.call(ctor, args...)
		if err != nil {
			return bridge.Nil, err
		}
		return h.decode(out, 0), nil
	}, nil
}

// Call invokes fn with args and returns its first result.
func (h *Host) Call(fn bridge.Value, args ...bridge.Value) (bridge.Value, error) {
	f, ok := fn.Ref.(lua.LValue)
	if fn.Kind != bridge.KindFunction || !ok {
		return bridge.Nil, errors.Errorf(errors.KindUsage, "cannot call a %s", fn.Kind)
	}
	in := make([]lua.LValue, len(args))
	for i, a := range args {
		in[i] = h.encode(a)
	}
	out, err := h.call(f, in...)
	if err != nil {
		return bridge.Nil, err
	}
	return h.decode(out, 0), nil
}

// Close shuts the interpreter down. Further calls are no-ops.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.L.Close()
	return nil
}

func (h *Host) call(fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, scriptErr(err)
	}
	out := h.L.Get(-1)
	h.L.Pop(1)
	return out, nil
}

// protected runs f so that Lua errors raised inside it are returned.
func (h *Host) protected(f func(L *lua.LState) lua.LValue) (lua.LValue, error) {
	fn := h.L.NewFunction(func(L *lua.LState) int {
		L.Push(f(L))
		return 1
	})
	return h.call(fn)
}

// ScriptError is an error raised by Lua code. Error returns the Lua message
// without the traceback.
type ScriptError struct {
	Message   string
	Traceback string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Trace implements bridge.Tracer.
func (e *ScriptError) Trace() string {
	return e.Traceback
}

func scriptErr(err error) error {
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg := ""
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		return &ScriptError{Message: msg, Traceback: apiErr.StackTrace}
	}
	return &ScriptError{Message: err.Error()}
}

// raise reports err as a Lua error from inside a library function.
func raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}

func typeName(lv lua.LValue) string {
	if ud, ok := lv.(*lua.LUserData); ok {
		switch ud.Value.(type) {
		case *vector.Vector:
			return realVectorType
		case *dual.Vector:
			return dualVectorType
		case vector.IndexRange:
			return indexRangeType
		}
	}
	return lv.Type().String()
}

func argTypeError(L *lua.LState, n int, want string) {
	L.ArgError(n, fmt.Sprintf("%s expected, got %s", want, typeName(L.Get(n))))
}
