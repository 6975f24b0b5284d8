// Package cfd holds scattered CFD temperature samples and their loaders.
package cfd

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/domeseeing/internal/units"
)

var (
	// ErrEmptySamples is returned when a sample set has no samples.
	ErrEmptySamples = errors.New("cfd: empty sample set")
	// ErrZeroTemperature is returned when a sample has T == 0.
	ErrZeroTemperature = errors.New("cfd: zero temperature")
)

// Sample is one scattered CFD point: temperature in Kelvin and position in
// metres relative to the primary mirror vertex.
type Sample struct {
	T float64
	X float64
	Y float64
	Z float64
}

// Extent is an axis-aligned bounding box of sample positions.
type Extent struct {
	Min [3]float64
	Max [3]float64
}

// SampleSet is an ordered collection of samples. It is not modified after
// loading.
type SampleSet struct {
	Samples []Sample
}

// NewSampleSet wraps samples in a SampleSet.
func NewSampleSet(samples []Sample) *SampleSet {
	return &SampleSet{Samples: samples}
}

// Len returns the number of samples.
func (s *SampleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// RefractiveIndex derives the refractivity of every sample at the given
// wavelength (micrometres). The result is index aligned with Samples.
func (s *SampleSet) RefractiveIndex(wavelengthMicrons float64) ([]float64, error) {
	if s.Len() == 0 {
		return nil, ErrEmptySamples
	}
	ri := make([]float64, len(s.Samples))
	for i, p := range s.Samples {
		if p.T == 0 {
			return nil, fmt.Errorf("sample %d: %w", i, ErrZeroTemperature)
		}
		ri[i] = units.Refractivity(p.T, wavelengthMicrons)
	}
	return ri, nil
}

// Extent returns the bounding box of all sample positions.
func (s *SampleSet) Extent() (Extent, error) {
	if s.Len() == 0 {
		return Extent{}, ErrEmptySamples
	}
	e := Extent{
		Min: [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)},
		Max: [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for _, p := range s.Samples {
		for axis, v := range [3]float64{p.X, p.Y, p.Z} {
			e.Min[axis] = math.Min(e.Min[axis], v)
			e.Max[axis] = math.Max(e.Max[axis], v)
		}
	}
	return e, nil
}
