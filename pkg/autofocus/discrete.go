package autofocus

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/microscope"
	"github.com/openstage/go-microscope/pkg/stage"
)

// DiscreteSweep steps the stage through an ascending list of relative z
// offsets, lets it settle, scores a decoded still image at each stop, and
// finishes by moving back to the best-scoring offset. No interpolation is
// performed.
type DiscreteSweep struct {
	// Offsets are relative z positions in ascending order. Defaults to
	// seven points spanning -300..300.
	Offsets []int

	// Settle is the pause between arriving at an offset and capturing,
	// to let vibration and exposure settle. Default 500ms.
	Settle time.Duration

	// Metric scores each still. Defaults to SharpnessSumLap2.
	Metric Metric

	// LockTimeout bounds the composite-lock wait.
	LockTimeout time.Duration
}

var _ Strategy = DiscreteSweep{}

// DefaultOffsets is the stock discrete sweep range.
func DefaultOffsets() []int {
	return []int{-300, -200, -100, 0, 100, 200, 300}
}

func (s DiscreteSweep) Run(ctx context.Context, m *microscope.Microscope) (*Result, error) {
	offsets := s.Offsets
	if len(offsets) == 0 {
		offsets = DefaultOffsets()
	}
	metric := s.Metric
	if metric == nil {
		metric = SharpnessSumLap2
	}
	settle := s.Settle
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}

	var res *Result
	err := m.Lock.With(lockTimeout(s.LockTimeout), func() error {
		positions := make([]int, 0, len(offsets))
		sharpness := make([]float64, 0, len(offsets))

		prev := 0
		for _, off := range offsets {
			// Cancellation between steps returns an empty result rather
			// than partially applying the final corrective move.
			if ctx.Err() != nil {
				res = &Result{Cancelled: true}
				return nil
			}
			if err := m.Stage.MoveRel(ctx, stage.Position{Z: off - prev}); err != nil {
				return fmt.Errorf("autofocus: step to offset %d: %w", off, err)
			}
			prev = off

			pos, err := m.Stage.Position()
			if err != nil {
				return fmt.Errorf("autofocus: read position at offset %d: %w", off, err)
			}
			if !sleepCtx(ctx, settle) {
				res = &Result{Cancelled: true}
				return nil
			}

			frame, err := m.Camera.CaptureStill(ctx)
			if err != nil {
				return fmt.Errorf("autofocus: capture at offset %d: %w", off, err)
			}
			v, err := metric(frame)
			if err != nil {
				return fmt.Errorf("autofocus: score frame at offset %d: %w", off, err)
			}

			positions = append(positions, pos.Z)
			sharpness = append(sharpness, v)
			log.Debug("discrete sweep step", "offset", off, "z", pos.Z, "sharpness", v)
		}

		if len(sharpness) == 0 {
			return ErrNoMetricData
		}
		best := positions[floats.MaxIdx(sharpness)]

		cur, err := m.Stage.Position()
		if err != nil {
			return fmt.Errorf("autofocus: read position before return move: %w", err)
		}
		if err := m.Stage.MoveRel(ctx, stage.Position{Z: best - cur.Z}); err != nil {
			return fmt.Errorf("autofocus: return to best z %d: %w", best, err)
		}

		res = &Result{Positions: positions, Sharpness: sharpness, BestZ: best}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
