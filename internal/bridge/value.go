package bridge

import (
	"github.com/copyleftdev/dualfit/internal/dual"
	"github.com/copyleftdev/dualfit/internal/vector"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindNumber
	KindVector
	KindList
	KindRecord
	KindFunction
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNumber:
		return "number"
	case KindVector:
		return "vector"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Value is a host value decoded at the bridge boundary. Only the field that
// matches Kind is meaningful. Ref carries the host's own handle so the value
// can be passed back to the host unchanged.
type Value struct {
	Kind   Kind
	Number float64
	Vector *vector.Vector
	Items  []Value
	Record Record
	Ref    any
}

// Record is a host object with named fields and, optionally, a length.
type Record interface {
	// Field returns the named field, or a KindNil Value if it is absent.
	Field(name string) (Value, error)
	// HasLen reports whether the record exposes a length accessor.
	HasLen() bool
	// Len calls the length accessor.
	Len() (int, error)
}

// Nil is the zero Value.
var Nil = Value{}

// Number wraps x.
func Number(x float64) Value {
	return Value{Kind: KindNumber, Number: x}
}

// VectorOf wraps v.
func VectorOf(v *vector.Vector) Value {
	return Value{Kind: KindVector, Vector: v}
}

// List wraps items.
func List(items ...Value) Value {
	return Value{Kind: KindList, Items: items}
}

// Function wraps a host function handle.
func Function(ref any) Value {
	return Value{Kind: KindFunction, Ref: ref}
}

// RecordOf wraps a host record and its handle.
func RecordOf(r Record, ref any) Value {
	return Value{Kind: KindRecord, Record: r, Ref: ref}
}

// DualOf exposes a dual vector as a result record: its length is the number
// of residuals, "real" holds the residuals and "imag" the directions.
func DualOf(d *dual.Vector, ref any) Value {
	return RecordOf(dualRecord{d}, ref)
}

type dualRecord struct {
	d *dual.Vector
}

func (r dualRecord) Field(name string) (Value, error) {
	switch name {
	case "real":
		return VectorOf(r.d.Real()), nil
	case "imag":
		dirs := r.d.Directions()
		items := make([]Value, len(dirs))
		for j, dir := range dirs {
			items[j] = VectorOf(dir)
		}
		return List(items...), nil
	default:
		return Nil, nil
	}
}

func (r dualRecord) HasLen() bool { return true }

func (r dualRecord) Len() (int, error) { return r.d.Len(), nil }
