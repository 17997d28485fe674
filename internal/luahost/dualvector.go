package luahost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/copyleftdev/dualfit/internal/dual"
	"github.com/copyleftdev/dualfit/internal/vector"
)

func (h *Host) newDualVector(d *dual.Vector) *lua.LUserData {
	ud := h.L.NewUserData()
	ud.Value = d
	h.L.SetMetatable(ud, h.L.GetTypeMetatable(dualVectorType))
	return ud
}

func checkDualVector(L *lua.LState, n int) *dual.Vector {
	if ud, ok := L.Get(n).(*lua.LUserData); ok {
		if d, ok := ud.Value.(*dual.Vector); ok {
			return d
		}
	}
	argTypeError(L, n, dualVectorType)
	return nil
}

func (h *Host) registerDualVector() *lua.LTable {
	L := h.L
	class := L.NewTable()
	L.SetField(class, "new", L.NewFunction(h.dualVectorNew))
	for name, op := range unaryFunctions {
		op := op
		L.SetField(class, name, L.NewFunction(func(L *lua.LState) int {
			d, err := dual.Map(op, checkDualVector(L, 1))
			if err != nil {
				raise(L, err)
			}
			L.Push(h.newDualVector(d))
			return 1
		}))
	}

	mt := L.NewTypeMetatable(dualVectorType)
	h.installArith(mt)
	L.SetFuncs(mt, map[string]lua.LGFunction{
		"__index":    h.dualVectorIndex,
		"__len":      dualVectorLen,
		"__tostring": dualVectorString,
	})
	h.classes[dualVectorType] = class
	return class
}

// dualVectorNew builds a dual from a real part and its directions:
// DualNVector.new(real, d1, ..., dm).
func (h *Host) dualVectorNew(L *lua.LState) int {
	top := L.GetTop()
	if top < 1 {
		L.RaiseError("Invalid number of arguments")
	}
	value := checkRealVector(L, 1)
	dirs := make([]*vector.Vector, 0, top-1)
	for i := 2; i <= top; i++ {
		dirs = append(dirs, checkRealVector(L, i))
	}
	d, err := dual.New(value, dirs...)
	if err != nil {
		raise(L, err)
	}
	L.Push(h.newDualVector(d))
	return 1
}

// dualVectorIndex serves d[i], d[range], d.real, d.imag and method lookup.
// real and imag are copies.
func (h *Host) dualVectorIndex(L *lua.LState) int {
	d := checkDualVector(L, 1)
	switch key := L.Get(2).(type) {
	case lua.LNumber:
		i, ok := toInteger(key)
		if !ok {
			L.ArgError(2, "Index is out of boundaries")
		}
		e, err := dual.Index(d, i)
		if err != nil {
			L.ArgError(2, "Index is out of boundaries")
		}
		L.Push(h.newDualVector(e))
	case lua.LString:
		switch key {
		case "real":
			L.Push(h.newRealVector(d.Real().Copy()))
		case "imag":
			t := L.CreateTable(d.Dims(), 0)
			for j, dir := range d.Directions() {
				t.RawSetInt(j+1, h.newRealVector(dir.Copy()))
			}
			L.Push(t)
		default:
			L.Push(h.classes[dualVectorType].RawGetString(string(key)))
		}
	case *lua.LUserData:
		r, ok := key.Value.(vector.IndexRange)
		if !ok {
			argTypeError(L, 2, "number, string or IndexRange")
		}
		s, err := dual.Slice(d, r)
		if err != nil {
			raise(L, err)
		}
		L.Push(h.newDualVector(s))
	default:
		argTypeError(L, 2, "number, string or IndexRange")
	}
	return 1
}

func dualVectorLen(L *lua.LState) int {
	L.Push(lua.LNumber(checkDualVector(L, 1).Len()))
	return 1
}

func dualVectorString(L *lua.LState) int {
	d := checkDualVector(L, 1)
	L.Push(lua.LString(fmt.Sprintf("DualNVector: %d directions\n%s", d.Dims(), d.Real().String())))
	return 1
}

// newLibrary assembles the table passed to initialize.
func (h *Host) newLibrary() *lua.LTable {
	L := h.L
	lib := L.NewTable()

	realVector := h.registerRealVector()
	indexRange := h.registerIndexRange()
	dualVector := h.registerDualVector()

	L.SetField(lib, realVectorType, realVector)
	L.SetField(lib, indexRangeType, indexRange)
	L.SetField(lib, dualVectorType, dualVector)
	L.SetField(lib, "Vec", realVector.RawGetString("new"))
	L.SetField(lib, "Rng", indexRange.RawGetString("new"))
	for name, op := range unaryFunctions {
		L.SetField(lib, name, L.NewFunction(h.unary(op)))
	}
	return lib
}
