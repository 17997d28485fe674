package vector

import "fmt"

// IndexRange selects elements start, start+step, ... up to stop. Indices are
// 1-based; negative values count from the end (-1 is the last element) and 0
// is never valid.
type IndexRange struct {
	start, step, stop int
}

// All returns the range covering the whole vector.
func All() IndexRange {
	return IndexRange{start: 1, step: 1, stop: -1}
}

// NewRange returns start:stop with step 1.
func NewRange(start, stop int) (IndexRange, error) {
	return NewRangeStep(start, 1, stop)
}

// NewRangeStep returns start:step:stop.
func NewRangeStep(start, step, stop int) (IndexRange, error) {
	switch {
	case step == 0:
		return IndexRange{}, fail("NewRange", ErrInvalidRange, "step cannot be equal to zero")
	case start == 0:
		return IndexRange{}, fail("NewRange", ErrInvalidRange, "invalid value of start")
	case stop == 0:
		return IndexRange{}, fail("NewRange", ErrInvalidRange, "invalid value of stop")
	}
	return IndexRange{start: start, step: step, stop: stop}, nil
}

// Start returns the first index as given.
func (r IndexRange) Start() int { return r.start }

// Step returns the stride.
func (r IndexRange) Step() int { return r.step }

// Stop returns the last index as given.
func (r IndexRange) Stop() int { return r.stop }

// String renders the range as <IndexRange: start:step:stop>.
func (r IndexRange) String() string {
	return fmt.Sprintf("<IndexRange: %d:%d:%d>", r.start, r.step, r.stop)
}

// Resolve maps the range onto a vector of length n and returns the visited
// 1-based indices. When the direction of travel disagrees with the sign of
// the step no index is visited; that is an empty selection, not an error.
func (r IndexRange) Resolve(n int) ([]int, error) {
	if r.step == 0 || r.start == 0 || r.stop == 0 {
		return nil, fail("Resolve", ErrInvalidRange, "range %s", r)
	}

	start, stop := r.start, r.stop
	if start < 0 {
		start = n + start + 1
	}
	if stop < 0 {
		stop = n + stop + 1
	}
	if start < 1 || stop < 1 {
		return nil, fail("Resolve", ErrInvalidRange, "range %s on length %d", r, n)
	}

	if (stop > start && r.step < 0) || (stop < start && r.step > 0) {
		return []int{}, nil
	}

	lo, hi := start, stop
	if lo > hi {
		lo, hi = hi, lo
	}
	idx := make([]int, 0, (hi-lo)/abs(r.step)+1)
	for i := start; lo <= i && i <= hi; i += r.step {
		if i > n {
			return nil, fail("Resolve", ErrIndexOutOfRange, "index %d, length %d", i, n)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// Slice returns the elements of v selected by r.
func Slice(v *Vector, r IndexRange) (*Vector, error) {
	idx, err := r.Resolve(v.Len())
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = v.data[i-1]
	}
	return &Vector{data: out}, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
