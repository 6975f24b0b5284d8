package pssn

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/domeseeing/internal/units"
)

// Method selects how the pupil autocorrelation is computed.
type Method int

const (
	// MethodFFT convolves through zero-padded 2-D FFTs.
	MethodFFT Method = iota
	// MethodDirect sums the spatial convolution explicitly. It is O(n⁴)
	// and only suitable for small maps.
	MethodDirect
)

func (m Method) String() string {
	switch m {
	case MethodFFT:
		return "fft"
	case MethodDirect:
		return "direct"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps a config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "fft", "":
		return MethodFFT, nil
	case "direct":
		return MethodDirect, nil
	default:
		return 0, fmt.Errorf("unknown autocorrelation method %q", s)
	}
}

// Pupil builds the complex pupil function W = A·exp(i·k·F) of an n×n OPD
// raster: A is 1 where the OPD is finite and F is the OPD with invalid
// entries zeroed.
func Pupil(opd []float64, wavelengthMicrons float64) []complex128 {
	k := units.WaveNumber(wavelengthMicrons)
	w := make([]complex128, len(opd))
	for i, v := range opd {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		w[i] = cmplx.Exp(complex(0, k*v))
	}
	return w
}

// Autocorrelation returns the (2n−1)×(2n−1) full linear convolution of the
// flipped pupil with its conjugate, row-major.
func Autocorrelation(opd []float64, nPx int, wavelengthMicrons float64, method Method) ([]complex128, error) {
	if nPx <= 0 || len(opd) != nPx*nPx {
		return nil, fmt.Errorf("opd has %d entries for %dx%d: %w", len(opd), nPx, nPx, ErrShapeMismatch)
	}
	if !(wavelengthMicrons > 0) {
		return nil, fmt.Errorf("wavelength %g: %w", wavelengthMicrons, ErrInvalidWavelength)
	}
	w := Pupil(opd, wavelengthMicrons)
	flipped := make([]complex128, len(w))
	conj := make([]complex128, len(w))
	last := len(w) - 1
	for i, v := range w {
		// Reversing the flat index flips both axes.
		flipped[last-i] = v
		conj[i] = cmplx.Conj(v)
	}
	switch method {
	case MethodDirect:
		return convolveDirect(flipped, conj, nPx), nil
	case MethodFFT:
		return convolveFFT(flipped, conj, nPx), nil
	default:
		return nil, fmt.Errorf("unknown autocorrelation %s", method)
	}
}

// convolveDirect computes the full 2-D linear convolution of two n×n arrays.
func convolveDirect(a, b []complex128, n int) []complex128 {
	size := 2*n - 1
	out := make([]complex128, size*size)
	for ai := 0; ai < n; ai++ {
		for aj := 0; aj < n; aj++ {
			av := a[ai*n+aj]
			if av == 0 {
				continue
			}
			for bi := 0; bi < n; bi++ {
				row := (ai + bi) * size
				for bj := 0; bj < n; bj++ {
					out[row+aj+bj] += av * b[bi*n+bj]
				}
			}
		}
	}
	return out
}

// nextPow2 returns the smallest power of two ≥ v.
func nextPow2(v int) int {
	p := 1
	for p < v {
		p <<= 1
	}
	return p
}

// convolveFFT computes the full 2-D linear convolution of two n×n arrays
// by zero padding both to a power-of-two square and multiplying spectra.
func convolveFFT(a, b []complex128, n int) []complex128 {
	size := 2*n - 1
	N := nextPow2(size)
	fft := fourier.NewCmplxFFT(N)

	pa := pad(a, n, N)
	pb := pad(b, n, N)
	fft2(fft, pa, N, false)
	fft2(fft, pb, N, false)
	for i := range pa {
		pa[i] *= pb[i]
	}
	fft2(fft, pa, N, true)

	// gonum's inverse transform is unnormalized along each axis.
	scale := complex(1/float64(N*N), 0)
	out := make([]complex128, size*size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			out[i*size+j] = pa[i*N+j] * scale
		}
	}
	return out
}

func pad(src []complex128, n, N int) []complex128 {
	dst := make([]complex128, N*N)
	for i := 0; i < n; i++ {
		copy(dst[i*N:i*N+n], src[i*n:(i+1)*n])
	}
	return dst
}

// fft2 transforms an N×N row-major array in place, rows then columns.
func fft2(fft *fourier.CmplxFFT, data []complex128, N int, inverse bool) {
	in := make([]complex128, N)
	out := make([]complex128, N)
	apply := func() {
		if inverse {
			fft.Sequence(out, in)
		} else {
			fft.Coefficients(out, in)
		}
	}
	for r := 0; r < N; r++ {
		copy(in, data[r*N:(r+1)*N])
		apply()
		copy(data[r*N:(r+1)*N], out)
	}
	for c := 0; c < N; c++ {
		for r := 0; r < N; r++ {
			in[r] = data[r*N+c]
		}
		apply()
		for r := 0; r < N; r++ {
			data[r*N+c] = out[r]
		}
	}
}
