package limbs

import (
	"fmt"
	"strings"
)

// DefaultNumDims is the number of coordinates per label tuple: x, y, z.
const DefaultNumDims = 3

// Axis is a bit set of label coordinate axes.
type Axis uint8

const (
	AxisX Axis = 1 << iota
	AxisY
	AxisZ

	AxesXY  = AxisX | AxisY
	AxesXYZ = AxisX | AxisY | AxisZ
)

// Has returns true if the axis with the given tuple index is in the set.
func (a Axis) Has(dim int) bool {
	if dim < 0 || dim > 7 {
		return false
	}
	return a&(1<<uint(dim)) != 0
}

func (a Axis) String() string {
	var names []string
	for dim, name := range []string{"x", "y", "z"} {
		if a.Has(dim) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "")
}

// Labels is a flat, tuple-major vector of coordinates with NumDims coordinates
// per tuple.
type Labels struct {
	Values  []float32
	NumDims int
}

// NewLabels wraps values as label tuples, checking that the length is a multiple
// of numDims.
func NewLabels(values []float32, numDims int) (Labels, error) {
	if numDims <= 0 {
		return Labels{}, NewShapeError("labels", "num_dims must be positive, got %d", numDims)
	}
	if len(values)%numDims != 0 {
		return Labels{}, NewShapeError("labels", "label length %d is not a multiple of num_dims %d", len(values), numDims)
	}
	return Labels{Values: values, NumDims: numDims}, nil
}

// Len returns the number of coordinate values.
func (l Labels) Len() int {
	return len(l.Values)
}

// NumTuples returns the number of coordinate tuples.
func (l Labels) NumTuples() int {
	if l.NumDims == 0 {
		return 0
	}
	return len(l.Values) / l.NumDims
}

// Tuple returns the coordinates of tuple i.  The returned slice aliases the labels.
func (l Labels) Tuple(i int) []float32 {
	return l.Values[i*l.NumDims : (i+1)*l.NumDims]
}

// Clone returns a deep copy.
func (l Labels) Clone() Labels {
	values := make([]float32, len(l.Values))
	copy(values, l.Values)
	return Labels{Values: values, NumDims: l.NumDims}
}

func (l Labels) String() string {
	return fmt.Sprintf("%d label tuples of %d dims", l.NumTuples(), l.NumDims)
}

// Tile replicates pattern n times, tuple-major: [a,b,c] x 2 = [a,b,c,a,b,c].
func Tile(pattern []float32, n int) []float32 {
	out := make([]float32, 0, len(pattern)*n)
	for i := 0; i < n; i++ {
		out = append(out, pattern...)
	}
	return out
}

// tileMul returns l * Tile(pattern) as new labels.
func (l Labels) tileMul(pattern []float32) Labels {
	out := l.Clone()
	tiled := Tile(pattern, l.NumTuples())
	for i := range out.Values {
		out.Values[i] *= tiled[i]
	}
	return out
}

// tileAdd returns l + Tile(pattern) as new labels.
func (l Labels) tileAdd(pattern []float32) Labels {
	out := l.Clone()
	tiled := Tile(pattern, l.NumTuples())
	for i := range out.Values {
		out.Values[i] += tiled[i]
	}
	return out
}

// DropAxis removes one coordinate from every tuple, e.g., DropAxis(l, 2) turns
// (x, y, z) tuples into (x, y) tuples.
func DropAxis(l Labels, dim int) (Labels, error) {
	if dim < 0 || dim >= l.NumDims {
		return Labels{}, NewShapeError("drop axis", "axis %d out of range for %d dims", dim, l.NumDims)
	}
	if l.NumDims == 1 {
		return Labels{}, NewShapeError("drop axis", "cannot drop the only axis")
	}
	n := l.NumTuples()
	values := make([]float32, 0, n*(l.NumDims-1))
	for i := 0; i < n; i++ {
		t := l.Tuple(i)
		values = append(values, t[:dim]...)
		values = append(values, t[dim+1:]...)
	}
	return Labels{Values: values, NumDims: l.NumDims - 1}, nil
}
