package autofocus

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/microscope"
)

// FeedbackSweep is the up-down-up autofocus with correction: it measures on
// a single downward pass and closes the remaining gap on the way back up
// using the recorded sharpness curve as a rough z encoder.
//
// Sequence: optionally pre-move to the top of the range; sweep down across
// the range while tracking; move back up to an undershoot target (best z
// plus a small backlash margin short of the true target); measure the live
// frame size; find where that size sits on the below-peak portion of the
// down-sweep curve; make the final corrective move. Only one full range
// traversal is spent, and measurement and correction share a direction so
// backlash cancels.
//
// The main residual error is that up and down curves are not identical,
// mostly due to small lateral shifts of the z axis.
type FeedbackSweep struct {
	// Range is the total z distance swept. Default 2000 steps.
	Range int

	// TargetZ is the finishing position relative to the focus; useful for
	// starting a z-stack. Zero finishes at the focus.
	TargetZ int

	// SkipInitialMove starts the downward sweep from the current position
	// instead of pre-moving to the top of the range. Useful when the climb
	// was combined with a previous move, e.g. travelling to the next scan
	// point.
	SkipInitialMove bool

	// Backlash is the undershoot margin in steps, consumed by the final
	// corrective move. It must be smaller than the stage's real backlash;
	// too large overshoots, which the correction cannot recover. Default 25.
	Backlash int

	// LockTimeout bounds the composite-lock wait.
	LockTimeout time.Duration
}

var _ Strategy = FeedbackSweep{}

func (s FeedbackSweep) Run(ctx context.Context, m *microscope.Microscope) (*Result, error) {
	dz := s.Range
	if dz <= 0 {
		dz = 2000
	}
	backlash := s.Backlash
	if backlash <= 0 {
		backlash = 25
	}

	var res *Result
	err := m.Lock.With(lockTimeout(s.LockTimeout), func() error {
		if err := m.Camera.StartStream(); err != nil {
			return fmt.Errorf("autofocus: start stream: %w", err)
		}

		mon := NewMonitor(m.Camera, m.Stage)
		defer mon.Close()

		if !s.SkipInitialMove {
			if _, _, err := mon.FocusRel(ctx, dz/2); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			res = &Result{Cancelled: true, Data: mon.Data()}
			return nil
		}

		// Measurement pass: down across the range.
		i, z, err := mon.FocusRel(ctx, -dz)
		if err != nil {
			return err
		}
		zs, sizes, err := mon.MoveData(i)
		if err != nil {
			return err
		}
		peak := floats.MaxIdx(sizes)
		best := int(math.Round(zs[peak]))
		if ctx.Err() != nil {
			res = &Result{Cancelled: true, Data: mon.Data()}
			return nil
		}

		// Deliberate undershoot: stop short of the target by the backlash
		// margin so the corrective move still travels upward.
		if _, _, err := mon.FocusRel(ctx, best+s.TargetZ-z+backlash); err != nil {
			return err
		}

		live, ok := m.Camera.Stream().Last()
		if !ok {
			return ErrNoFrames
		}

		// The down sweep passed the peak once; below the peak z decreases
		// monotonically, so that region of the curve maps size back to z.
		belowZ := zs[peak:]
		belowSize := sizes[peak:]
		now := 0
		for idx, v := range belowSize {
			if v < float64(live.Size) {
				now = idx
				break
			}
		}

		correction := best + s.TargetZ - int(math.Round(belowZ[now]))
		log.Debug("feedback sweep correction", "best_z", best, "live_size", live.Size,
			"correction", correction)
		if ctx.Err() != nil {
			res = &Result{Cancelled: true, Data: mon.Data()}
			return nil
		}
		_, finalZ, err := mon.FocusRel(ctx, correction)
		if err != nil {
			return err
		}

		res = &Result{BestZ: finalZ, Data: mon.Data()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
