// Package units provides shared constants and conversions for the dome
// seeing pipeline. Positions and OPD are in metres, wavelengths in
// micrometres.
package units

import (
	"fmt"
	"math"
)

// Photometric bands with precomputed reference autocorrelations
const (
	VBand = "V"
	HBand = "H"
)

// Band centre wavelengths in micrometres
const (
	VBandMicrons = 0.5
	HBandMicrons = 1.65
)

// ReferencePressure is the fixed air pressure (Pa) used when deriving
// refractivity from CFD temperature samples.
const ReferencePressure = 75000.0

const (
	refractivityScale     = 7.76e-7
	dispersionCoefficient = 0.00752

	// bandTolerance is how close a wavelength must be to a band centre to
	// be treated as that band.
	bandTolerance = 1e-6
)

// MetresPerMicron converts micrometres to metres.
const MetresPerMicron = 1e-6

// ValidBands contains all bands with a known centre wavelength
var ValidBands = []string{VBand, HBand}

// IsValidBand checks if the given band name is known
func IsValidBand(band string) bool {
	for _, b := range ValidBands {
		if band == b {
			return true
		}
	}
	return false
}

// BandMicrons returns the centre wavelength of a band.
func BandMicrons(band string) (float64, error) {
	switch band {
	case VBand:
		return VBandMicrons, nil
	case HBand:
		return HBandMicrons, nil
	default:
		return 0, fmt.Errorf("unknown band %q (valid: V, H)", band)
	}
}

// BandForWavelength returns the band whose centre matches wavelengthMicrons.
func BandForWavelength(wavelengthMicrons float64) (string, bool) {
	switch {
	case math.Abs(wavelengthMicrons-VBandMicrons) < bandTolerance:
		return VBand, true
	case math.Abs(wavelengthMicrons-HBandMicrons) < bandTolerance:
		return HBand, true
	default:
		return "", false
	}
}

// Refractivity returns the air refractivity for a temperature in kelvin at
// ReferencePressure and the given wavelength. The caller must reject zero
// temperatures.
func Refractivity(temperatureK, wavelengthMicrons float64) float64 {
	return refractivityScale * ReferencePressure *
		(1 + dispersionCoefficient/(wavelengthMicrons*wavelengthMicrons)) / temperatureK
}

// TemperatureForRefractivity inverts Refractivity.
func TemperatureForRefractivity(ri, wavelengthMicrons float64) float64 {
	return refractivityScale * ReferencePressure *
		(1 + dispersionCoefficient/(wavelengthMicrons*wavelengthMicrons)) / ri
}

// WaveNumber returns 2π/λ in radians per metre for a wavelength given in
// micrometres, i.e. 2·10⁶·π/λ.
func WaveNumber(wavelengthMicrons float64) float64 {
	return 2e6 * math.Pi / wavelengthMicrons
}
