package scan

import (
	"context"
	"fmt"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/stage"
)

// DefaultJumpThreshold is the stock axial-jump ratio. Values between 0.1 and
// 0.5 are sensible; larger lateral strides tolerate larger focus changes.
const DefaultJumpThreshold = 0.4

// FocusManager tracks the focal plane across a sequence of XY moves. It
// keeps an append-only list of positions where focus was confirmed, seeds
// each new field's z from the nearest confirmed point, and refuses to trust
// focus results that jumped much further axially than the stage moved
// laterally, which usually means the routine locked onto the wrong surface.
//
// The confirmed-point list lives for one scan session only.
type FocusManager struct {
	// Stage reads the position after each focus run.
	Stage stage.Stage

	// Initial is the scan's starting position; its z seeds the first field.
	Initial stage.Position

	// Autofocus runs the focus routine at the current field. Nil disables
	// focusing entirely.
	Autofocus func(ctx context.Context) error

	// IsBackground reports whether the current field is empty. When set,
	// empty fields skip the focus routine. Nil disables the check.
	IsBackground func(ctx context.Context) (bool, error)

	// JumpThreshold is the maximum allowed ratio of axial to lateral
	// displacement from the nearest confirmed point. Zero disables the
	// check.
	JumpThreshold float64

	points []stage.Position
}

// Record appends a confirmed focus position.
func (f *FocusManager) Record(p stage.Position) {
	f.points = append(f.points, p)
}

// Points returns the confirmed positions recorded so far.
func (f *FocusManager) Points() []stage.Position {
	out := make([]stage.Position, len(f.points))
	copy(out, f.points)
	return out
}

// Closest returns the confirmed point nearest to xy by lateral distance.
// Ties go to the most recently recorded point: for snake and spiral paths
// that is normally the previous field, which is the best seed available.
// Reports false if nothing has been confirmed yet.
func (f *FocusManager) Closest(xy XY) (stage.Position, bool) {
	if len(f.points) == 0 {
		return stage.Position{}, false
	}
	best := 0
	bestD := lateralSq(f.points[0], xy)
	for i := 1; i < len(f.points); i++ {
		if d := lateralSq(f.points[i], xy); d <= bestD {
			best, bestD = i, d
		}
	}
	return f.points[best], true
}

// EstimateZ returns the z most likely to be in focus at xy: the z of the
// nearest confirmed point, or the scan's initial z before anything has been
// confirmed.
func (f *FocusManager) EstimateZ(xy XY) int {
	if p, ok := f.Closest(xy); ok {
		return p.Z
	}
	return f.Initial.Z
}

// AxialJumpExceeded reports whether pos sits implausibly far, axially, from
// the nearest confirmed point: an axial displacement greater than
// JumpThreshold times the lateral displacement. With no confirmed points or
// a zero threshold there is nothing to compare against and the answer is
// false.
func (f *FocusManager) AxialJumpExceeded(pos stage.Position) bool {
	if f.JumpThreshold <= 0 {
		return false
	}
	near, ok := f.Closest(XY{X: pos.X, Y: pos.Y})
	if !ok {
		return false
	}
	axial := pos.Z - near.Z
	if axial < 0 {
		axial = -axial
	}
	return float64(axial) > pos.Lateral(near)*f.JumpThreshold
}

// Focus runs the focus routine at the current field and, when the result
// looks trustworthy, records the new position as confirmed. A flagged axial
// jump is logged and left unrecorded but does not halt the scan.
func (f *FocusManager) Focus(ctx context.Context) error {
	if f.Autofocus == nil {
		log.Debug("autofocus disabled, skipping")
		return nil
	}

	if f.IsBackground != nil {
		bg, err := f.IsBackground(ctx)
		if err != nil {
			return fmt.Errorf("scan: classify field: %w", err)
		}
		if bg {
			if pos, err := f.Stage.Position(); err == nil {
				log.Info("empty field, skipping autofocus", "x", pos.X, "y", pos.Y)
			}
			return nil
		}
	}

	if err := f.Autofocus(ctx); err != nil {
		return fmt.Errorf("scan: autofocus: %w", err)
	}

	here, err := f.Stage.Position()
	if err != nil {
		return fmt.Errorf("scan: read position after autofocus: %w", err)
	}
	if f.AxialJumpExceeded(here) {
		near, _ := f.Closest(XY{X: here.X, Y: here.Y})
		log.Warn("large axial jump after autofocus, not recording point",
			"from", near, "to", here)
		return nil
	}
	f.Record(here)
	return nil
}

func lateralSq(p stage.Position, xy XY) int {
	dx := p.X - xy.X
	dy := p.Y - xy.Y
	return dx*dx + dy*dy
}
