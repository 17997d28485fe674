package luahost

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/copyleftdev/dualfit/internal/bridge"
	"github.com/copyleftdev/dualfit/internal/dual"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/vector"
)

// maxListDepth bounds eager decoding of nested lists; deeper tables are
// decoded as records.
const maxListDepth = 4

// decode converts a Lua value into a bridge.Value. Tables whose keys are
// exactly 1..n become lists; other tables and unknown userdata become
// records whose fields are read on demand.
func (h *Host) decode(lv lua.LValue, depth int) bridge.Value {
	switch v := lv.(type) {
	case lua.LNumber:
		return bridge.Number(float64(v))
	case *lua.LFunction:
		return bridge.Function(v)
	case *lua.LUserData:
		switch x := v.Value.(type) {
		case *vector.Vector:
			out := bridge.VectorOf(x)
			out.Ref = v
			return out
		case *dual.Vector:
			return bridge.DualOf(x, v)
		}
		return bridge.RecordOf(&objectRecord{h: h, obj: v}, v)
	case *lua.LTable:
		if depth < maxListDepth && isList(v) {
			n := v.Len()
			items := make([]bridge.Value, n)
			for i := 1; i <= n; i++ {
				items[i-1] = h.decode(v.RawGetInt(i), depth+1)
			}
			out := bridge.List(items...)
			out.Ref = v
			return out
		}
		return bridge.RecordOf(&objectRecord{h: h, obj: v}, v)
	default:
		return bridge.Value{Kind: bridge.KindNil, Ref: lv}
	}
}

// isList reports whether t has no metatable and its keys are exactly 1..n
// for some n > 0.
func isList(t *lua.LTable) bool {
	if t.Metatable != lua.LNil {
		return false
	}
	n := t.Len()
	if n == 0 {
		return false
	}
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
	})
	return count == n
}

// encode converts a bridge.Value into a Lua value. Values that came from
// this host are passed back unchanged.
func (h *Host) encode(v bridge.Value) lua.LValue {
	if lv, ok := v.Ref.(lua.LValue); ok {
		return lv
	}
	switch v.Kind {
	case bridge.KindNumber:
		return lua.LNumber(v.Number)
	case bridge.KindVector:
		return h.newRealVector(v.Vector)
	case bridge.KindList:
		t := h.L.CreateTable(len(v.Items), 0)
		for i, item := range v.Items {
			t.RawSetInt(i+1, h.encode(item))
		}
		return t
	default:
		return lua.LNil
	}
}

// objectRecord reads fields of a Lua table or userdata through its
// metatable, so class-style objects work.
type objectRecord struct {
	h   *Host
	obj lua.LValue
}

func (r *objectRecord) Field(name string) (bridge.Value, error) {
	lv, err := r.h.protected(func(L *lua.LState) lua.LValue {
		return L.GetField(r.obj, name)
	})
	if err != nil {
		return bridge.Nil, err
	}
	return r.h.decode(lv, 0), nil
}

// lenFunc returns the __len metamethod, or for tables a __len field found
// through __index.
func (r *objectRecord) lenFunc() lua.LValue {
	if fn := r.h.L.GetMetaField(r.obj, "__len"); fn.Type() == lua.LTFunction {
		return fn
	}
	if _, ok := r.obj.(*lua.LTable); !ok {
		return lua.LNil
	}
	fn, err := r.h.protected(func(L *lua.LState) lua.LValue {
		return L.GetField(r.obj, "__len")
	})
	if err != nil || fn.Type() != lua.LTFunction {
		return lua.LNil
	}
	return fn
}

func (r *objectRecord) HasLen() bool {
	return r.lenFunc() != lua.LNil
}

func (r *objectRecord) Len() (int, error) {
	fn := r.lenFunc()
	if fn == lua.LNil {
		return 0, errors.New(errors.KindContract, "__len method not found")
	}
	out, err := r.h.call(fn, r.obj)
	if err != nil {
		return 0, err
	}
	n, ok := out.(lua.LNumber)
	if !ok {
		return 0, errors.Errorf(errors.KindContract, "__len returned %s, not a number", out.Type())
	}
	return int(n), nil
}
