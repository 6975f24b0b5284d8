package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/sbinet/npyio/npy"
	"github.com/sbinet/npyio/npz"

	"github.com/banshee-data/domeseeing/internal/pssn"
)

// archive adapts an npz reader to typed lookups. keys maps array names
// without the .npy suffix to the stored member name.
type archive struct {
	r    *npz.Reader
	keys map[string]string
}

func newArchive(r *npz.Reader) *archive {
	a := &archive{r: r, keys: make(map[string]string)}
	for _, k := range r.Keys() {
		a.keys[strings.TrimSuffix(k, ".npy")] = k
	}
	return a
}

func (a *archive) has(name string) bool {
	_, ok := a.keys[name]
	return ok
}

func (a *archive) header(name string) (*npy.Header, string, error) {
	key, ok := a.keys[name]
	if !ok {
		return nil, "", fmt.Errorf("%q: %w", name, ErrMissingArray)
	}
	h := a.r.Header(key)
	if h == nil {
		return nil, "", fmt.Errorf("%q has no header: %w", name, ErrMissingArray)
	}
	return h, key, nil
}

// dtype strips the byte order mark from a NumPy type descriptor.
func dtype(h *npy.Header) string {
	return strings.TrimLeft(h.Descr.Type, "<>|=")
}

// floats reads any real or boolean array as float64 in C order and
// returns its shape.
func (a *archive) floats(name string) ([]float64, []int, error) {
	h, key, err := a.header(name)
	if err != nil {
		return nil, nil, err
	}
	var out []float64
	switch dt := dtype(h); dt {
	case "f8":
		err = a.r.Read(key, &out)
	case "f4":
		var v []float32
		if err = a.r.Read(key, &v); err == nil {
			out = widen(v)
		}
	case "i8":
		var v []int64
		if err = a.r.Read(key, &v); err == nil {
			out = widen(v)
		}
	case "i4":
		var v []int32
		if err = a.r.Read(key, &v); err == nil {
			out = widen(v)
		}
	case "u1":
		var v []uint8
		if err = a.r.Read(key, &v); err == nil {
			out = widen(v)
		}
	case "b1":
		var v []bool
		if err = a.r.Read(key, &v); err == nil {
			out = make([]float64, len(v))
			for i, b := range v {
				if b {
					out[i] = 1
				}
			}
		}
	default:
		return nil, nil, fmt.Errorf("%q: unsupported dtype %q", name, h.Descr.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	shape := append([]int(nil), h.Descr.Shape...)
	if h.Descr.Fortran {
		if out, err = fortranToC(out, shape); err != nil {
			return nil, nil, fmt.Errorf("%q: %w", name, err)
		}
	}
	return out, shape, nil
}

func widen[T float32 | int64 | int32 | uint8](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// fortranToC reorders column-major data of any rank into row-major order.
func fortranToC[T any](v []T, shape []int) ([]T, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(v) {
		return nil, fmt.Errorf("%d entries for shape %v: %w", len(v), shape, ErrShapeMismatch)
	}
	if len(shape) < 2 {
		return v, nil
	}

	out := make([]T, len(v))
	idx := make([]int, len(shape)) // multi-index of out[i]
	for i := range out {
		off, stride := 0, 1
		for d, n := range shape {
			off += idx[d] * stride
			stride *= n
		}
		out[i] = v[off]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// complexes reads a complex or real array as complex128 in C order.
func (a *archive) complexes(name string) ([]complex128, error) {
	h, key, err := a.header(name)
	if err != nil {
		return nil, err
	}
	var out []complex128
	switch dtype(h) {
	case "c16":
		if err := a.r.Read(key, &out); err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", name, err)
		}
	case "c8":
		var v []complex64
		if err := a.r.Read(key, &v); err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", name, err)
		}
		out = make([]complex128, len(v))
		for i, x := range v {
			out[i] = complex128(x)
		}
	default:
		re, _, err := a.floats(name)
		if err != nil {
			return nil, err
		}
		out = make([]complex128, len(re))
		for i, x := range re {
			out[i] = complex(x, 0)
		}
		return out, nil
	}
	if h.Descr.Fortran {
		if out, err = fortranToC(out, h.Descr.Shape); err != nil {
			return nil, fmt.Errorf("%q: %w", name, err)
		}
	}
	return out, nil
}

func (a *archive) bools(name string) ([]bool, error) {
	v, _, err := a.floats(name)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(v))
	for i, x := range v {
		out[i] = x != 0
	}
	return out, nil
}

func (a *archive) boolsN(name string, n int) ([]bool, error) {
	v, err := a.bools(name)
	if err != nil {
		return nil, err
	}
	if len(v) != n {
		return nil, fmt.Errorf("%q has %d entries, want %d: %w", name, len(v), n, ErrShapeMismatch)
	}
	return v, nil
}

func (a *archive) scalar(name string) (float64, error) {
	v, _, err := a.floats(name)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("%q has %d entries, want a scalar: %w", name, len(v), ErrShapeMismatch)
	}
	return v[0], nil
}

func toVectors(v []float64) [][3]float64 {
	out := make([][3]float64, len(v)/3)
	for i := range out {
		out[i] = [3]float64{v[3*i], v[3*i+1], v[3*i+2]}
	}
	return out
}

// vectors reads an (n, 3) array.
func (a *archive) vectors(name string, n int) ([][3]float64, error) {
	v, _, err := a.floats(name)
	if err != nil {
		return nil, err
	}
	if len(v) != 3*n {
		return nil, fmt.Errorf("%q has %d entries, want %dx3: %w", name, len(v), n, ErrShapeMismatch)
	}
	return toVectors(v), nil
}

// stacked reads a (k, n, 3) array as k vector lists.
func (a *archive) stacked(name string, n int) ([][][3]float64, error) {
	v, shape, err := a.floats(name)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 || shape[1] != n || shape[2] != 3 {
		return nil, fmt.Errorf("%q has shape %v, want (k, %d, 3): %w", name, shape, n, ErrShapeMismatch)
	}
	out := make([][][3]float64, shape[0])
	for k := range out {
		out[k] = toVectors(v[k*3*n : (k+1)*3*n])
	}
	return out, nil
}

// reference reads a C/AW0 pair.
func (a *archive) reference(cName, awName string) (*pssn.Reference, error) {
	c, shape, err := a.floats(cName)
	if err != nil {
		return nil, err
	}
	aw0, err := a.complexes(awName)
	if err != nil {
		return nil, err
	}
	size := 0
	switch {
	case len(shape) == 2 && shape[0] == shape[1]:
		size = shape[0]
	case len(shape) == 1:
		size = int(math.Round(math.Sqrt(float64(len(c)))))
	}
	ref := &pssn.Reference{C: c, AW0: aw0, Size: size}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", cName, awName, err)
	}
	return ref, nil
}
