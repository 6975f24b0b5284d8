// Package testutil provides shared test utilities and fixtures.
//
// This package centralises synthetic sample clouds and helper assertions so
// field, ray and pipeline tests build their inputs the same way.
package testutil

import (
	"testing"

	"github.com/banshee-data/domeseeing/internal/cfd"
	"github.com/banshee-data/domeseeing/internal/units"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// TemperatureFor returns the temperature that yields refractive index ri
// at the given wavelength.
func TemperatureFor(ri, wavelengthMicrons float64) float64 {
	return units.TemperatureForRefractivity(ri, wavelengthMicrons)
}

// UniformCube returns an n×n×n regular cloud of samples at temperature t
// spanning [-half, half] horizontally and [zMin, zMax] vertically.
func UniformCube(t float64, n int, half, zMin, zMax float64) *cfd.SampleSet {
	samples := make([]cfd.Sample, 0, n*n*n)
	step := func(lo, hi float64, i int) float64 {
		if n == 1 {
			return lo
		}
		return lo + (hi-lo)*float64(i)/float64(n-1)
	}
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				samples = append(samples, cfd.Sample{
					T: t,
					X: step(-half, half, i),
					Y: step(-half, half, j),
					Z: step(zMin, zMax, k),
				})
			}
		}
	}
	return cfd.NewSampleSet(samples)
}

// CornerSamples returns four samples at temperature t on alternating
// corners of the box [-half, half]² × [0, height], enough to give the
// lattice a non-degenerate vertical extent.
func CornerSamples(t, half, height float64) *cfd.SampleSet {
	return cfd.NewSampleSet([]cfd.Sample{
		{T: t, X: -half, Y: -half, Z: 0},
		{T: t, X: half, Y: half, Z: 0},
		{T: t, X: -half, Y: half, Z: height},
		{T: t, X: half, Y: -half, Z: height},
	})
}

// LayeredSamples returns a cube whose temperature varies linearly with
// height from tBottom to tTop.
func LayeredSamples(tBottom, tTop float64, n int, half, height float64) *cfd.SampleSet {
	set := UniformCube(0, n, half, 0, height)
	for i := range set.Samples {
		f := set.Samples[i].Z / height
		set.Samples[i].T = tBottom + (tTop-tBottom)*f
	}
	return set
}
