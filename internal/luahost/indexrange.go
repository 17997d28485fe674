package luahost

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/copyleftdev/dualfit/internal/vector"
)

func (h *Host) registerIndexRange() *lua.LTable {
	L := h.L
	class := L.NewTable()
	L.SetField(class, "new", L.NewFunction(h.indexRangeNew))

	mt := L.NewTypeMetatable(indexRangeType)
	L.SetField(mt, "__index", class)
	L.SetField(mt, "__tostring", L.NewFunction(indexRangeString))
	h.classes[indexRangeType] = class
	return class
}

// indexRangeNew accepts (), (start, stop) or (start, step, stop).
func (h *Host) indexRangeNew(L *lua.LState) int {
	var (
		r   vector.IndexRange
		err error
	)
	switch L.GetTop() {
	case 0:
		r = vector.All()
	case 2:
		r, err = vector.NewRange(checkInteger(L, 1), checkInteger(L, 2))
	case 3:
		r, err = vector.NewRangeStep(checkInteger(L, 1), checkInteger(L, 2), checkInteger(L, 3))
	default:
		L.RaiseError("Invalid number of arguments")
	}
	if err != nil {
		raise(L, err)
	}

	ud := L.NewUserData()
	ud.Value = r
	L.SetMetatable(ud, L.GetTypeMetatable(indexRangeType))
	L.Push(ud)
	return 1
}

func indexRangeString(L *lua.LState) int {
	ud := L.CheckUserData(1)
	r, ok := ud.Value.(vector.IndexRange)
	if !ok {
		argTypeError(L, 1, indexRangeType)
	}
	L.Push(lua.LString(r.String()))
	return 1
}
