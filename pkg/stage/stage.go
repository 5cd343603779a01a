// Package stage provides the translation-stage capability interface used by
// the focus and scan algorithms, plus a simulated stage for development and a
// Sangaboard serial driver for real hardware.
package stage

import (
	"context"
	"math"

	"github.com/openstage/go-microscope/pkg/lock"
)

// Position is an exact hardware-reported stage coordinate, in motor steps.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Add returns p moved by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z}
}

// Sub returns the displacement from q to p.
func (p Position) Sub(q Position) Position {
	return Position{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Lateral returns the XY Euclidean distance from q to p.
func (p Position) Lateral(q Position) float64 {
	dx := float64(p.X - q.X)
	dy := float64(p.Y - q.Y)
	return math.Hypot(dx, dy)
}

// Stage is the capability contract the core needs from a translation stage.
//
// Stage methods do not take the stage's own Lock: the locking discipline is
// owned by the operation (usually via the microscope's composite lock), which
// lets one logical operation span many moves without re-entrancy.
// Implementations must still be safe for concurrent calls, because read-only
// state polls bypass the Lock.
type Stage interface {
	// Position reports the current hardware position.
	Position() (Position, error)

	// MoveRel makes a relative move. The move runs to completion; ctx is
	// consulted only at natural boundaries a driver may have.
	MoveRel(ctx context.Context, delta Position) error

	// MoveAbs moves to an absolute position.
	MoveAbs(ctx context.Context, pos Position) error

	// Lock is the stage's exclusive-access handle.
	Lock() *lock.Lock

	// Simulated reports whether this is a software stand-in rather than
	// real hardware.
	Simulated() bool

	Close() error
}
