// Package pssn scores an OPD map by the normalized point source
// sensitivity: the C-weighted energy of its pupil autocorrelation relative
// to a diffraction-limited reference.
package pssn

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/banshee-data/domeseeing/internal/raytrace"
)

var (
	// ErrShapeMismatch is returned when the map and reference sizes disagree.
	ErrShapeMismatch = errors.New("pssn: shape mismatch")
	// ErrInvalidWavelength is returned for a non-positive wavelength.
	ErrInvalidWavelength = errors.New("pssn: invalid wavelength")
	// ErrZeroReference is returned when the reference has no weighted energy.
	ErrZeroReference = errors.New("pssn: reference has zero energy")
)

// Reference holds the weighting mask C and the diffraction-limited
// autocorrelation AW0 for one wavelength, both Size×Size row-major.
type Reference struct {
	C    []float64
	AW0  []complex128
	Size int
}

// Validate checks that C and AW0 cover Size×Size.
func (r *Reference) Validate() error {
	if r == nil {
		return fmt.Errorf("nil reference: %w", ErrShapeMismatch)
	}
	n := r.Size * r.Size
	if r.Size <= 0 || len(r.C) != n || len(r.AW0) != n {
		return fmt.Errorf("reference size %d with %d C and %d AW0 entries: %w", r.Size, len(r.C), len(r.AW0), ErrShapeMismatch)
	}
	return nil
}

// Energy returns Σ|AW·C|².
func (r *Reference) Energy(aw []complex128) float64 {
	var sum float64
	for i, v := range aw {
		a := cmplx.Abs(v) * r.C[i]
		sum += a * a
	}
	return sum
}

// ReferenceFromMask builds the diffraction-limited reference for an
// aperture: the autocorrelation of a flat wavefront over mask. A nil c
// weights every lag by one.
func ReferenceFromMask(mask []bool, nPx int, c []float64, method Method) (*Reference, error) {
	if len(mask) != nPx*nPx {
		return nil, fmt.Errorf("mask has %d entries for %dx%d: %w", len(mask), nPx, nPx, ErrShapeMismatch)
	}
	flat := make([]float64, len(mask))
	for i, in := range mask {
		if !in {
			flat[i] = math.NaN()
		}
	}
	// A flat wavefront is wavelength independent.
	aw0, err := Autocorrelation(flat, nPx, 1, method)
	if err != nil {
		return nil, err
	}
	size := 2*nPx - 1
	if c == nil {
		c = make([]float64, size*size)
		for i := range c {
			c[i] = 1
		}
	}
	ref := &Reference{C: c, AW0: aw0, Size: size}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Score returns the PSSn of an OPD raster using the FFT autocorrelation.
func Score(opd *raytrace.OPDMap, wavelengthMicrons float64, ref *Reference) (float64, error) {
	return ScoreWith(opd, wavelengthMicrons, ref, MethodFFT)
}

// ScoreWith returns the PSSn of an OPD raster using the given method.
func ScoreWith(opd *raytrace.OPDMap, wavelengthMicrons float64, ref *Reference, method Method) (float64, error) {
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	if opd == nil || opd.NPx <= 0 {
		return 0, fmt.Errorf("opd map is not a raster: %w", ErrShapeMismatch)
	}
	if 2*opd.NPx-1 != ref.Size {
		return 0, fmt.Errorf("opd %dx%d needs reference size %d, got %d: %w", opd.NPx, opd.NPx, 2*opd.NPx-1, ref.Size, ErrShapeMismatch)
	}
	aw, err := Autocorrelation(opd.Values, opd.NPx, wavelengthMicrons, method)
	if err != nil {
		return 0, err
	}
	denom := ref.Energy(ref.AW0)
	if denom == 0 {
		return 0, ErrZeroReference
	}
	return ref.Energy(aw) / denom, nil
}
