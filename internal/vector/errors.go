package vector

import (
	"github.com/copyleftdev/dualfit/internal/errors"
)

// Sentinel errors returned (wrapped) by the engine. All of them are usage
// errors; match them with errors.Is.
var (
	// ErrInvalidSize is returned for a negative length.
	ErrInvalidSize = errors.New(errors.KindUsage, "vector: invalid size")

	// ErrEmpty is returned when a vector would be built from no entries.
	ErrEmpty = errors.New(errors.KindUsage, "vector: cannot be empty")

	// ErrInvalidKey is returned when a sparse entry has a key below 1.
	ErrInvalidKey = errors.New(errors.KindUsage, "vector: invalid integer key")

	// ErrSizeMismatch is returned when two vectors of different lengths, neither
	// of length 1, are combined elementwise.
	ErrSizeMismatch = errors.New(errors.KindUsage, "vector: sizes are mismatching")

	// ErrIndexOutOfRange is returned for an index outside 1..Len().
	ErrIndexOutOfRange = errors.New(errors.KindUsage, "vector: index is out of boundaries")

	// ErrInvalidRange is returned for a malformed IndexRange or one that does
	// not resolve to positive indices.
	ErrInvalidRange = errors.New(errors.KindUsage, "vector: invalid index range")

	// ErrUnknownOp is returned when an operation code is not in the table.
	ErrUnknownOp = errors.New(errors.KindUsage, "vector: unknown operation")
)

func fail(op string, sentinel *errors.Error, format string, args ...interface{}) error {
	return errors.Wrapf(errors.KindUsage, sentinel, format, args...).
		WithOperation(op).
		WithComponent("vector")
}
