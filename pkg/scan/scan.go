package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/microscope"
	"github.com/openstage/go-microscope/pkg/stage"
)

// ErrNoCapture means a tile scan was started without a capture callback.
var ErrNoCapture = errors.New("scan: no capture function configured")

// CaptureFunc stores one image for the field at pos. The callback owns file
// naming and persistence; the scanner only drives the stage.
type CaptureFunc func(ctx context.Context, pos stage.Position) error

// ProgressFunc receives completion in percent after every captured image.
type ProgressFunc func(percent float64)

// DefaultLockTimeout bounds the composite-lock wait for each locked phase of
// a scan.
const DefaultLockTimeout = time.Second

// Tile scans a grid of fields: for each field it seeds z from the focus
// manager, moves, optionally autofocuses, and captures either a single image
// or a z-stack. Cancellation is checked between images and between fields; a
// cancelled scan stops where it is rather than returning to the start.
type Tile struct {
	// Stride is the distance between fields in x and y, and the step
	// between z-stack planes.
	Stride stage.Position

	// GridX and GridY are the field counts per axis. Spiral paths use
	// GridX as the shell count and ignore GridY.
	GridX, GridY int

	// Stack is the number of images per field. Values above one capture a
	// z-stack centred on the focused position.
	Stack int

	Style Style

	// Settle is the pause before each stack capture. Default 100ms.
	Settle time.Duration

	Capture  CaptureFunc
	Progress ProgressFunc

	// Focus tracks the focal plane across fields. Nil scans at constant z.
	Focus *FocusManager

	// LockTimeout bounds the composite-lock wait for the move and capture
	// phases.
	LockTimeout time.Duration
}

// Run walks the whole grid. An observed cancellation is a clean early
// return, not an error; the stage stays wherever the last completed phase
// left it. On full completion the stage returns to the scan's start.
//
// The composite lock is held per phase (move, capture), not for the whole
// scan: the focus routine acquires it itself, so a scan cannot hold it
// across a field. A concurrent manual move issued between phases will be
// honored and then overridden by the next field's move.
func (t Tile) Run(ctx context.Context, m *microscope.Microscope) error {
	if t.Capture == nil {
		return ErrNoCapture
	}
	style := t.Style
	if !style.Valid() {
		style = StyleRaster
	}
	settle := t.Settle
	if settle <= 0 {
		settle = 100 * time.Millisecond
	}

	initial, err := m.Stage.Position()
	if err != nil {
		return fmt.Errorf("scan: read start position: %w", err)
	}

	path := Path(
		XY{X: initial.X, Y: initial.Y},
		XY{X: t.Stride.X, Y: t.Stride.Y},
		XY{X: t.GridX, Y: t.GridY},
		style,
	)
	images := len(path)
	if t.Stack > 1 {
		images *= t.Stack
	}
	captured := 0
	start := time.Now()
	log.Info("starting tile scan", "fields", len(path), "style", string(style),
		"stack", t.Stack)

	for _, xy := range path {
		if ctx.Err() != nil {
			log.Info("tile scan cancelled", "captured", captured)
			return nil
		}

		target := stage.Position{X: xy.X, Y: xy.Y, Z: initial.Z}
		if t.Focus != nil {
			target.Z = t.Focus.EstimateZ(xy)
		}

		err := t.locked(m, func() error {
			return m.Stage.MoveAbs(ctx, target)
		})
		if err != nil {
			return fmt.Errorf("scan: move to field %v: %w", xy, err)
		}

		// The focus routine takes the composite lock itself, so it runs
		// outside ours.
		if t.Focus != nil {
			if err := t.Focus.Focus(ctx); err != nil {
				return err
			}
		}

		if t.Stack <= 1 {
			err = t.locked(m, func() error {
				pos, err := m.Stage.Position()
				if err != nil {
					return err
				}
				if err := t.Capture(ctx, pos); err != nil {
					return err
				}
				captured++
				t.report(captured, images)
				return nil
			})
		} else {
			err = t.locked(m, func() error {
				return t.stack(ctx, m, settle, images, &captured)
			})
		}
		if err != nil {
			return fmt.Errorf("scan: capture field %v: %w", xy, err)
		}
	}

	if err := t.locked(m, func() error {
		return m.Stage.MoveAbs(ctx, initial)
	}); err != nil {
		return fmt.Errorf("scan: return to start: %w", err)
	}
	log.Info("tile scan finished", "captured", captured,
		"elapsed", time.Since(start))
	return nil
}

// stack captures t.Stack images around the current z, stepping by Stride.Z,
// and returns to the starting position. Caller holds the composite lock.
func (t Tile) stack(ctx context.Context, m *microscope.Microscope, settle time.Duration, images int, captured *int) error {
	origin, err := m.Stage.Position()
	if err != nil {
		return err
	}

	// Centre the stack on the focused plane.
	if err := m.Stage.MoveRel(ctx, stage.Position{Z: -t.Stride.Z * t.Stack / 2}); err != nil {
		return err
	}
	for i := 0; i < t.Stack; i++ {
		if ctx.Err() != nil {
			return nil
		}
		time.Sleep(settle)
		pos, err := m.Stage.Position()
		if err != nil {
			return err
		}
		if err := t.Capture(ctx, pos); err != nil {
			return err
		}
		*captured++
		t.report(*captured, images)

		if i != t.Stack-1 {
			if err := m.Stage.MoveRel(ctx, stage.Position{Z: t.Stride.Z}); err != nil {
				return err
			}
		}
	}
	return m.Stage.MoveAbs(ctx, origin)
}

func (t Tile) locked(m *microscope.Microscope, fn func() error) error {
	timeout := t.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return m.Lock.With(timeout, fn)
}

func (t Tile) report(captured, images int) {
	if t.Progress == nil || images == 0 {
		return
	}
	t.Progress(float64(captured) / float64(images) * 100)
}
