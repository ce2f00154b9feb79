// Package kinematics converts linear paper moves into motor steps for the two
// spools of the transport and keeps track of how the paper is split between
// them.
//
// Lengths are millimetres. Centimetres only appear at the firmware boundary,
// see CmToMm and MmToCm.
package kinematics

import (
	"fmt"
	"math"

	"github.com/tvalice/tvroll/pkg/spool"
)

const (
	// DefaultStepsPerRevolution is a 1.8° stepper in full step mode.
	DefaultStepsPerRevolution = 200

	// conservationTolerance bounds source+sink drift from the total.
	conservationTolerance = 1e-9
)

// Direction of a move, seen from the source spool.
type Direction int

const (
	// Forward winds paper onto the source spool.
	Forward Direction = iota
	// Backward unwinds paper from the source spool back onto the sink.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Sign returns +1 for Forward and -1 for Backward.
func (d Direction) Sign() float64 {
	if d == Backward {
		return -1
	}
	return 1
}

// DirectionOf returns the direction for a signed length.
func DirectionOf(signedLength float64) Direction {
	if signedLength < 0 {
		return Backward
	}
	return Forward
}

// DomainError is returned when an operation receives input outside of the
// physically meaningful range. No state is changed when it is returned.
type DomainError struct {
	Op     string
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Pair is the split of the paper between the two spools. It is a value:
// moves return a new Pair.
type Pair struct {
	Source float64 `json:"sourceMm"`
	Sink   float64 `json:"sinkMm"`
	Total  float64 `json:"totalMm"`
}

// Conserved reports whether Source+Sink equals Total and both lie in
// [0, Total].
func (p Pair) Conserved() bool {
	if p.Source < 0 || p.Sink < 0 || p.Source > p.Total || p.Sink > p.Total {
		return false
	}
	return math.Abs(p.Source+p.Sink-p.Total) <= conservationTolerance
}

// Transport describes the fixed geometry of the transport. Both spools share
// the same core and material.
type Transport struct {
	spool       spool.Model
	total       float64
	initial     float64
	stepsPerRev float64
}

// New returns a Transport holding totalLength of paper, initialSource of
// which starts wound on the source spool.
func New(m spool.Model, totalLength, initialSource float64, stepsPerRevolution int) (*Transport, error) {
	if !(totalLength > 0) {
		return nil, &spool.ConfigurationError{Field: "total length", Value: totalLength}
	}
	if stepsPerRevolution <= 0 {
		return nil, &spool.ConfigurationError{Field: "steps per revolution", Value: float64(stepsPerRevolution)}
	}
	if initialSource < 0 || initialSource > totalLength {
		return nil, fmt.Errorf("invalid transport configuration: initial source length %g outside [0, %g]", initialSource, totalLength)
	}
	return &Transport{
		spool:       m,
		total:       totalLength,
		initial:     initialSource,
		stepsPerRev: float64(stepsPerRevolution),
	}, nil
}

// Spool returns the spool model shared by both spools.
func (t *Transport) Spool() spool.Model { return t.spool }

// TotalLength of paper in the transport.
func (t *Transport) TotalLength() float64 { return t.total }

// StepsPerRevolution of both motors.
func (t *Transport) StepsPerRevolution() int { return int(t.stepsPerRev) }

// Reset returns the configured initial split.
func (t *Transport) Reset() Pair {
	return Pair{Source: t.initial, Sink: t.total - t.initial, Total: t.total}
}

// Diameters returns the effective diameters of the source and sink spools.
func (t *Transport) Diameters(p Pair) (source, sink float64) {
	return t.spool.Diameter(p.Source), t.spool.Diameter(p.Sink)
}

// StepsForMove returns the motor steps needed to move length of paper on a
// spool of the given diameter.
func StepsForMove(length, diameter float64, stepsPerRevolution int) (float64, error) {
	if !(diameter > 0) {
		return 0, &DomainError{Op: "steps for move", Reason: fmt.Sprintf("diameter must be positive, got %g", diameter)}
	}
	return length / spool.Perimeter(diameter) * float64(stepsPerRevolution), nil
}

// StepsForMove is StepsForMove with the transport's steps per revolution.
func (t *Transport) StepsForMove(length, diameter float64) (float64, error) {
	return StepsForMove(length, diameter, int(t.stepsPerRev))
}

// SyncPlan is the per-spool step budget for one move, computed at the
// diameters before the move starts.
type SyncPlan struct {
	Length         float64 `json:"lengthMm"`
	Direction      string  `json:"direction"`
	SourceDiameter float64 `json:"sourceDiameterMm"`
	SinkDiameter   float64 `json:"sinkDiameterMm"`
	StepsSource    float64 `json:"stepsSource"`
	StepsSink      float64 `json:"stepsSink"`
	// Ratio is StepsSink/StepsSource, 0 when the source does not move.
	Ratio float64 `json:"ratio"`
}

// Synchronize computes the step budget of both spools for moving length of
// paper starting from p. length is a magnitude, the direction does not
// change the step counts.
func (t *Transport) Synchronize(p Pair, length float64, dir Direction) (SyncPlan, error) {
	if length < 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return SyncPlan{}, &DomainError{Op: "synchronize", Reason: fmt.Sprintf("length must be a finite non-negative number, got %g", length)}
	}

	dSrc, dSink := t.Diameters(p)
	stepsSrc, err := t.StepsForMove(length, dSrc)
	if err != nil {
		return SyncPlan{}, err
	}
	stepsSink, err := t.StepsForMove(length, dSink)
	if err != nil {
		return SyncPlan{}, err
	}

	plan := SyncPlan{
		Length:         length,
		Direction:      dir.String(),
		SourceDiameter: dSrc,
		SinkDiameter:   dSink,
		StepsSource:    stepsSrc,
		StepsSink:      stepsSink,
	}
	if stepsSrc != 0 {
		plan.Ratio = stepsSink / stepsSrc
	}
	return plan, nil
}

// SourceSteps scales the source step budget to the length that was actually
// moved and rounds it to whole signed steps.
func (p SyncPlan) SourceSteps(achieved float64) int64 {
	if p.Length == 0 || achieved == 0 {
		return 0
	}
	steps := int64(math.Round(p.StepsSource * achieved / p.Length))
	if p.Direction == Backward.String() {
		return -steps
	}
	return steps
}

// LengthForSteps is the paper length moved by turning a spool of the given
// diameter by steps.
func (t *Transport) LengthForSteps(steps, diameter float64) float64 {
	return math.Abs(steps) / t.stepsPerRev * spool.Perimeter(diameter)
}

// Move is the outcome of ApplyMove.
type Move struct {
	Requested float64 `json:"requestedMm"`
	Achieved  float64 `json:"achievedMm"`
	Direction string  `json:"direction"`
	Clamped   bool    `json:"clamped"`
}

// ApplyMove moves length of paper in dir and returns the new split. The
// source is clamped to [0, Total] and the sink is always derived from it, so
// the returned pair is conserved even when the request could not be honoured
// in full. Achieved reports the length that was actually moved.
func (t *Transport) ApplyMove(p Pair, length float64, dir Direction) (Pair, Move, error) {
	if length < 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return p, Move{}, &DomainError{Op: "apply move", Reason: fmt.Sprintf("length must be a finite non-negative number, got %g", length)}
	}

	src := p.Source + dir.Sign()*length
	clamped := false
	if src < 0 {
		src, clamped = 0, true
	}
	if src > t.total {
		src, clamped = t.total, true
	}

	next := Pair{Source: src, Sink: t.total - src, Total: t.total}
	return next, Move{
		Requested: length,
		Achieved:  math.Abs(src - p.Source),
		Direction: dir.String(),
		Clamped:   clamped,
	}, nil
}

// CmToMm converts centimetres to millimetres.
func CmToMm(cm float64) float64 { return cm * 10 }

// MmToCm converts millimetres to centimetres.
func MmToCm(mm float64) float64 { return mm / 10 }
