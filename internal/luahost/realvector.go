package luahost

import (
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/copyleftdev/dualfit/internal/vector"
)

const (
	realVectorType = "RealVector"
	indexRangeType = "IndexRange"
	dualVectorType = "DualNVector"
)

func (h *Host) newRealVector(v *vector.Vector) *lua.LUserData {
	ud := h.L.NewUserData()
	ud.Value = v
	h.L.SetMetatable(ud, h.L.GetTypeMetatable(realVectorType))
	return ud
}

func checkRealVector(L *lua.LState, n int) *vector.Vector {
	if ud, ok := L.Get(n).(*lua.LUserData); ok {
		if v, ok := ud.Value.(*vector.Vector); ok {
			return v
		}
	}
	argTypeError(L, n, realVectorType)
	return nil
}

// toInteger converts an integral Lua number.
func toInteger(lv lua.LValue) (int, bool) {
	n, ok := lv.(lua.LNumber)
	if !ok {
		return 0, false
	}
	x := float64(n)
	if x != math.Trunc(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return int(x), true
}

func checkInteger(L *lua.LState, n int) int {
	i, ok := toInteger(L.Get(n))
	if !ok {
		argTypeError(L, n, "integer")
	}
	return i
}

func (h *Host) registerRealVector() *lua.LTable {
	L := h.L
	class := L.NewTable()
	L.SetFuncs(class, map[string]lua.LGFunction{
		"new":      h.realVectorNew,
		"rand":     h.realVectorRand,
		"randn":    h.realVectorRandn,
		"linspace": h.realVectorLinspace,
		"totable":  realVectorTotable,
		"copy":     h.realVectorCopy,
		"max":      realVectorMax,
		"min":      realVectorMin,
	})
	for name, op := range unaryFunctions {
		op := op
		L.SetField(class, name, L.NewFunction(func(L *lua.LState) int {
			v, err := vector.Map(op, checkRealVector(L, 1))
			if err != nil {
				raise(L, err)
			}
			L.Push(h.newRealVector(v))
			return 1
		}))
	}

	mt := L.NewTypeMetatable(realVectorType)
	h.installArith(mt)
	L.SetFuncs(mt, map[string]lua.LGFunction{
		"__index":    h.realVectorIndex,
		"__newindex": realVectorSetIndex,
		"__len":      realVectorLen,
		"__tostring": realVectorString,
	})
	h.classes[realVectorType] = class
	return class
}

// realVectorNew builds a zero vector from a length or a vector from a table
// with positive integer keys.
func (h *Host) realVectorNew(L *lua.LState) int {
	if L.GetTop() != 1 {
		L.RaiseError("Invalid number of input arguments")
	}
	switch arg := L.Get(1).(type) {
	case lua.LNumber:
		n, ok := toInteger(arg)
		if !ok {
			L.ArgError(1, "Invalid size")
		}
		v, err := vector.Zeros(n)
		if err != nil {
			raise(L, err)
		}
		L.Push(h.newRealVector(v))
	case *lua.LTable:
		entries := make(map[int]float64)
		arg.ForEach(func(k, val lua.LValue) {
			i, ok := toInteger(k)
			if !ok {
				L.RaiseError("Input table contains not integer key")
			}
			x, ok := val.(lua.LNumber)
			if !ok {
				L.RaiseError("Input table contains not numeric value")
			}
			entries[i] = float64(x)
		})
		v, err := vector.FromMap(entries)
		if err != nil {
			raise(L, err)
		}
		L.Push(h.newRealVector(v))
	default:
		L.RaiseError("Input argument must be either integer or table")
	}
	return 1
}

func (h *Host) realVectorRand(L *lua.LState) int {
	v, err := h.source.Uniform(checkInteger(L, 1))
	if err != nil {
		raise(L, err)
	}
	L.Push(h.newRealVector(v))
	return 1
}

func (h *Host) realVectorRandn(L *lua.LState) int {
	v, err := h.source.Normal(checkInteger(L, 1))
	if err != nil {
		raise(L, err)
	}
	L.Push(h.newRealVector(v))
	return 1
}

func (h *Host) realVectorLinspace(L *lua.LState) int {
	if L.GetTop() != 3 {
		L.RaiseError("Invalid number of arguments")
	}
	a := float64(L.CheckNumber(1))
	b := float64(L.CheckNumber(2))
	v, err := vector.Linspace(a, b, checkInteger(L, 3))
	if err != nil {
		raise(L, err)
	}
	L.Push(h.newRealVector(v))
	return 1
}

func realVectorTotable(L *lua.LState) int {
	v := checkRealVector(L, 1)
	t := L.CreateTable(v.Len(), 0)
	for i, x := range v.Values() {
		t.RawSetInt(i+1, lua.LNumber(x))
	}
	L.Push(t)
	return 1
}

func (h *Host) realVectorCopy(L *lua.LState) int {
	L.Push(h.newRealVector(checkRealVector(L, 1).Copy()))
	return 1
}

func realVectorMax(L *lua.LState) int {
	if x, ok := checkRealVector(L, 1).Max(); ok {
		L.Push(lua.LNumber(x))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

func realVectorMin(L *lua.LState) int {
	if x, ok := checkRealVector(L, 1).Min(); ok {
		L.Push(lua.LNumber(x))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// realVectorIndex serves v[i], v[range] and method lookup.
func (h *Host) realVectorIndex(L *lua.LState) int {
	v := checkRealVector(L, 1)
	switch key := L.Get(2).(type) {
	case lua.LNumber:
		i, ok := toInteger(key)
		if !ok {
			L.ArgError(2, "Index is out of boundaries")
		}
		x, err := v.At(i)
		if err != nil {
			L.ArgError(2, "Index is out of boundaries")
		}
		L.Push(lua.LNumber(x))
	case lua.LString:
		L.Push(h.classes[realVectorType].RawGetString(string(key)))
	case *lua.LUserData:
		r, ok := key.Value.(vector.IndexRange)
		if !ok {
			argTypeError(L, 2, "number, string or IndexRange")
		}
		s, err := vector.Slice(v, r)
		if err != nil {
			raise(L, err)
		}
		L.Push(h.newRealVector(s))
	default:
		argTypeError(L, 2, "number, string or IndexRange")
	}
	return 1
}

func realVectorSetIndex(L *lua.LState) int {
	v := checkRealVector(L, 1)
	i := checkInteger(L, 2)
	x := float64(L.CheckNumber(3))
	if err := v.Set(i, x); err != nil {
		L.ArgError(2, "Index is out of boundaries")
	}
	return 0
}

func realVectorLen(L *lua.LState) int {
	L.Push(lua.LNumber(checkRealVector(L, 1).Len()))
	return 1
}

func realVectorString(L *lua.LState) int {
	L.Push(lua.LString(checkRealVector(L, 1).String()))
	return 1
}
