// Package autofocus locates the sharpest focal plane of a motorized
// microscope. It provides the correlation engine that estimates sharpness as
// a function of stage position while the stage is in continuous motion, and
// a set of focus strategies built on top of it.
package autofocus

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/openstage/go-microscope/pkg/camera"
	"github.com/openstage/go-microscope/pkg/stage"
)

// Monitor correlates two independently clocked time series: stage position
// samples recorded by the controlling goroutine, and frame-size samples
// recorded by the camera's producer goroutine. Frame size acts as a sharpness
// proxy, valid only for constant-quality streams with no bitrate limiting.
//
// Each bracketed move appends a (start, end) pair of position samples; frames
// that arrived between the two timestamps are assigned an interpolated z.
// The interpolation assumes z moves monotonically within one bracketed move;
// that is a precondition of the sweep strategies, not something the monitor
// can verify.
type Monitor struct {
	cam camera.Camera
	st  stage.Stage

	stageTimes     []time.Time
	stagePositions []stage.Position
	frameTimes     []time.Time
	frameSizes     []float64
}

// NewMonitor starts a sharpness monitor over the given hardware. Close it to
// stop tracking and release the frame log.
func NewMonitor(cam camera.Camera, st stage.Stage) *Monitor {
	return &Monitor{cam: cam, st: st}
}

// Close stops frame tracking and clears the buffer's sample log.
func (m *Monitor) Close() {
	buf := m.cam.Stream()
	buf.StopTracking()
	buf.ResetTracking()
}

// FocusRel makes a relative z move bracketed by position samples, tracking
// frames for its whole duration. It returns the index identifying this move
// for MoveData/SharpestZOnMove, and the absolute z reached.
func (m *Monitor) FocusRel(ctx context.Context, dz int) (moveIndex, finalZ int, err error) {
	buf := m.cam.Stream()

	buf.StartTracking()
	start, err := m.st.Position()
	if err != nil {
		buf.StopTracking()
		return 0, 0, fmt.Errorf("autofocus: read position before move: %w", err)
	}
	m.stageTimes = append(m.stageTimes, time.Now())
	m.stagePositions = append(m.stagePositions, start)

	moveErr := m.st.MoveRel(ctx, stage.Position{Z: dz})

	buf.StopTracking()
	end, posErr := m.st.Position()
	m.stageTimes = append(m.stageTimes, time.Now())
	m.stagePositions = append(m.stagePositions, end)

	m.drainFrames()

	if moveErr != nil {
		return 0, 0, fmt.Errorf("autofocus: move by %d: %w", dz, moveErr)
	}
	if posErr != nil {
		return 0, 0, fmt.Errorf("autofocus: read position after move: %w", posErr)
	}
	return len(m.stagePositions) - 2, end.Z, nil
}

// Hold keeps the stage still for delay while tracking frames, bracketing the
// interval like a move. Useful for measuring how long sharpness takes to
// settle after motion. Returns early, without error, if ctx is cancelled.
func (m *Monitor) Hold(ctx context.Context, delay time.Duration) (moveIndex, finalZ int, err error) {
	buf := m.cam.Stream()

	buf.StartTracking()
	start, err := m.st.Position()
	if err != nil {
		buf.StopTracking()
		return 0, 0, fmt.Errorf("autofocus: read position: %w", err)
	}
	m.stageTimes = append(m.stageTimes, time.Now())
	m.stagePositions = append(m.stagePositions, start)

	sleepCtx(ctx, delay)

	buf.StopTracking()
	m.stageTimes = append(m.stageTimes, time.Now())
	m.stagePositions = append(m.stagePositions, start)

	m.drainFrames()
	return len(m.stagePositions) - 2, start.Z, nil
}

// drainFrames moves the buffer's tracked samples into the monitor's log and
// clears them, so each bracketed move only ever sees its own frames once.
func (m *Monitor) drainFrames() {
	buf := m.cam.Stream()
	for _, s := range buf.Samples() {
		m.frameTimes = append(m.frameTimes, s.Time)
		m.frameSizes = append(m.frameSizes, float64(s.Size))
	}
	buf.ResetTracking()
}

// MoveData extracts sharpness as a function of interpolated z for the move
// identified by moveIndex. It returns, for every frame that arrived strictly
// inside the move's bracketing timestamps, the estimated z and the frame
// size. A window with no frames fails with ErrNoFrames; a window with a
// single frame is accepted and interpolation degenerates to that frame.
func (m *Monitor) MoveData(moveIndex int) (zs, sizes []float64, err error) {
	if moveIndex < 0 || moveIndex+1 >= len(m.stageTimes) {
		return nil, nil, fmt.Errorf("autofocus: no move recorded at index %d", moveIndex)
	}
	t0 := m.stageTimes[moveIndex]
	t1 := m.stageTimes[moveIndex+1]

	start := -1
	for i, ft := range m.frameTimes {
		if ft.After(t0) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, nil, ErrNoFrames
	}

	stop := len(m.frameTimes)
	for i := start; i < len(m.frameTimes); i++ {
		if m.frameTimes[i].After(t1) {
			stop = i
			break
		}
	}
	// A window whose first frame already postdates the end timestamp would
	// select nothing; treat the rest of the log as belonging to this move.
	if stop < 1 {
		stop = len(m.frameTimes)
	}
	if stop <= start {
		return nil, nil, ErrNoFrames
	}

	// Interpolate frame arrival times against the bracketing (time, z)
	// samples. Frames fractionally outside the bracket get the endpoint z,
	// matching the constant end-extension of piecewise linear prediction.
	x0 := 0.0
	x1 := t1.Sub(t0).Seconds()
	if x1 <= x0 {
		// Degenerate zero-duration bracket on a coarse clock.
		x1 = x0 + 1e-9
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(
		[]float64{x0, x1},
		[]float64{float64(m.stagePositions[moveIndex].Z), float64(m.stagePositions[moveIndex+1].Z)},
	); err != nil {
		return nil, nil, fmt.Errorf("autofocus: fit move interpolant: %w", err)
	}

	zs = make([]float64, 0, stop-start)
	sizes = make([]float64, 0, stop-start)
	for i := start; i < stop; i++ {
		zs = append(zs, pl.Predict(m.frameTimes[i].Sub(t0).Seconds()))
		sizes = append(sizes, m.frameSizes[i])
	}
	return zs, sizes, nil
}

// SharpestZOnMove returns the estimated z of the sharpest (largest) frame
// captured during the given move. Ties resolve to the earliest frame.
func (m *Monitor) SharpestZOnMove(moveIndex int) (int, error) {
	zs, sizes, err := m.MoveData(moveIndex)
	if err != nil {
		return 0, err
	}
	return int(math.Round(zs[floats.MaxIdx(sizes)])), nil
}

// Data is the raw correlation record of a monitoring session: two time
// series ready for serialization upstream.
type Data struct {
	FrameTimes     []time.Time      `json:"frame_times"`
	FrameSizes     []float64        `json:"frame_sizes"`
	StageTimes     []time.Time      `json:"stage_times"`
	StagePositions []stage.Position `json:"stage_positions"`
}

// Data returns a copy of everything gathered so far.
func (m *Monitor) Data() *Data {
	d := &Data{
		FrameTimes:     make([]time.Time, len(m.frameTimes)),
		FrameSizes:     make([]float64, len(m.frameSizes)),
		StageTimes:     make([]time.Time, len(m.stageTimes)),
		StagePositions: make([]stage.Position, len(m.stagePositions)),
	}
	copy(d.FrameTimes, m.frameTimes)
	copy(d.FrameSizes, m.frameSizes)
	copy(d.StageTimes, m.stageTimes)
	copy(d.StagePositions, m.stagePositions)
	return d
}

// sleepCtx sleeps for d, returning false early if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
