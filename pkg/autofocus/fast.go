package autofocus

import (
	"context"
	"fmt"
	"time"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/microscope"
)

// ContinuousSweep is the fast autofocus: one continuous motion across the
// whole z range with frame tracking enabled, correlated to find the sharpest
// position, then a return and a final approach.
//
// The move sequence is deliberate: the measurement pass and the final
// approach both travel upward, so mechanical backlash offsets both passes
// identically and cancels out. The sharpness signal is frame size, which is
// only a valid proxy when the stream encoder runs at constant quality with
// no bitrate limiting.
type ContinuousSweep struct {
	// Range is the total z distance searched, centred on the start
	// position. Default 2000 steps.
	Range int

	// LockTimeout bounds the composite-lock wait.
	LockTimeout time.Duration
}

var _ Strategy = ContinuousSweep{}

func (s ContinuousSweep) Run(ctx context.Context, m *microscope.Microscope) (*Result, error) {
	dz := s.Range
	if dz <= 0 {
		dz = 2000
	}

	var res *Result
	err := m.Lock.With(lockTimeout(s.LockTimeout), func() error {
		if err := m.Camera.StartStream(); err != nil {
			return fmt.Errorf("autofocus: start stream: %w", err)
		}

		mon := NewMonitor(m.Camera, m.Stage)
		defer mon.Close()

		// Down to the bottom of the range.
		if _, _, err := mon.FocusRel(ctx, -dz/2); err != nil {
			return err
		}
		if ctx.Err() != nil {
			res = &Result{Cancelled: true, Data: mon.Data()}
			return nil
		}

		// Up across the whole range, tracking sharpness on the way.
		i, _, err := mon.FocusRel(ctx, dz)
		if err != nil {
			return err
		}
		best, err := mon.SharpestZOnMove(i)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			res = &Result{Cancelled: true, Data: mon.Data()}
			return nil
		}

		// All the way back down so the final approach repeats the
		// measurement pass's direction.
		_, z, err := mon.FocusRel(ctx, -dz)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			res = &Result{Cancelled: true, Data: mon.Data()}
			return nil
		}

		// The board only takes relative moves.
		if _, _, err := mon.FocusRel(ctx, best-z); err != nil {
			return err
		}

		log.Debug("fast autofocus converged", "best_z", best)
		res = &Result{BestZ: best, Data: mon.Data()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
