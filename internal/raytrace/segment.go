// Package raytrace integrates optical path length along straight ray
// segments through a gridded refractive index field.
package raytrace

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when per-ray arrays disagree in length.
	ErrShapeMismatch = errors.New("raytrace: shape mismatch")
	// ErrZeroDirection is returned when a valid ray has no z direction
	// component, so it can never cross a z plane.
	ErrZeroDirection = errors.New("raytrace: zero z direction cosine")
	// ErrInvalidSteps is returned when fewer than two planes are requested.
	ErrInvalidSteps = errors.New("raytrace: step count must be at least 2")
)

// Segment is one straight leg of every ray in a bundle. Each ray i starts
// at Origins[i] with direction cosines Directions[i] and is sampled on z
// planes from StartZ[i] to EndZ[i] inclusive. Valid marks rays that reach
// this leg; a nil Valid means every ray does.
type Segment struct {
	Origins    [][3]float64
	Directions [][3]float64
	StartZ     []float64
	EndZ       []float64
	Valid      []bool
}

// Len returns the number of rays.
func (s *Segment) Len() int {
	return len(s.Origins)
}

// IsValid reports whether ray i reaches this segment.
func (s *Segment) IsValid(i int) bool {
	return s.Valid == nil || s.Valid[i]
}

// Validate checks array lengths and that every valid ray moves in z.
func (s *Segment) Validate() error {
	n := len(s.Origins)
	if len(s.Directions) != n || len(s.StartZ) != n || len(s.EndZ) != n {
		return fmt.Errorf("origins %d, directions %d, start %d, end %d: %w",
			n, len(s.Directions), len(s.StartZ), len(s.EndZ), ErrShapeMismatch)
	}
	if s.Valid != nil && len(s.Valid) != n {
		return fmt.Errorf("valid mask %d for %d rays: %w", len(s.Valid), n, ErrShapeMismatch)
	}
	for i := range s.Directions {
		if s.IsValid(i) && s.Directions[i][2] == 0 {
			return fmt.Errorf("ray %d: %w", i, ErrZeroDirection)
		}
	}
	return nil
}
