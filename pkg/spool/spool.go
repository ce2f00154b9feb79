// Package spool models a paper spool whose effective diameter grows as
// material is wound onto it.
//
// All lengths are millimetres.
package spool

import (
	"fmt"
	"math"
)

// ConfigurationError is returned when a spool is built from physically
// impossible parameters.
type ConfigurationError struct {
	Field string
	Value float64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid spool configuration: %s must be positive, got %g", e.Field, e.Value)
}

// Model holds the fixed physical properties of a spool.
type Model struct {
	baseDiameter float64
	thickness    float64
}

// New returns a Model for a core of baseDiameter wound with material of the
// given thickness.
func New(baseDiameter, thickness float64) (Model, error) {
	if !(baseDiameter > 0) {
		return Model{}, &ConfigurationError{Field: "base diameter", Value: baseDiameter}
	}
	if !(thickness > 0) {
		return Model{}, &ConfigurationError{Field: "material thickness", Value: thickness}
	}
	return Model{baseDiameter: baseDiameter, thickness: thickness}, nil
}

// BaseDiameter is the diameter of the empty core.
func (m Model) BaseDiameter() float64 { return m.baseDiameter }

// Thickness is the thickness of the wound material.
func (m Model) Thickness() float64 { return m.thickness }

// Diameter returns the effective diameter with woundLength of material on
// the core. It grows linearly with the wound length and never drops below
// the base diameter.
func (m Model) Diameter(woundLength float64) float64 {
	d := m.baseDiameter + woundLength*(2*m.thickness)/(math.Pi*m.baseDiameter)
	if d < m.baseDiameter {
		return m.baseDiameter
	}
	return d
}

// Perimeter returns the circumference of a spool with the given diameter.
func Perimeter(diameter float64) float64 {
	return math.Pi * diameter
}

// Perimeter returns the circumference with woundLength on the core.
func (m Model) Perimeter(woundLength float64) float64 {
	return Perimeter(m.Diameter(woundLength))
}
