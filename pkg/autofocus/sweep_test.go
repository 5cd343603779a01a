package autofocus

import (
	"context"
	"testing"
	"time"

	"github.com/openstage/go-microscope/pkg/camera"
	"github.com/openstage/go-microscope/pkg/microscope"
	"github.com/openstage/go-microscope/pkg/stage"
)

// peakFrame builds a well-formed frame of exactly the given size, so the
// frame-size sharpness proxy sees whatever value the test dictates.
func peakFrame(size int) []byte {
	if size < 4 {
		size = 4
	}
	f := make([]byte, size)
	f[0], f[1] = 0xff, 0xd8
	f[size-2], f[size-1] = 0xff, 0xd9
	return f
}

// sharpnessAt is a triangular focus curve: frames get larger the closer the
// optics are to peakZ.
func sharpnessAt(z, peakZ int) int {
	d := z - peakZ
	if d < 0 {
		d = -d
	}
	s := 5000 - 2*d
	if s < 200 {
		s = 200
	}
	return s
}

// simScope wires a simulated stage to a simulated camera whose frame size
// tracks the optics' true position, backlash included.
func simScope(t *testing.T, speed float64, backlash, peakZ int) (*microscope.Microscope, *stage.Sim) {
	t.Helper()
	st := stage.NewSim(stage.SimConfig{StepsPerSecond: speed, Backlash: backlash})
	cam := camera.NewSim(camera.Config{Width: 64, Height: 48, Framerate: 400, Quality: 75})
	cam.SetFrameFunc(func() []byte {
		return peakFrame(sharpnessAt(st.TruePosition().Z, peakZ))
	})
	m := microscope.New(cam, st)
	t.Cleanup(m.Close)
	return m, st
}

func TestContinuousSweepCancelsBacklash(t *testing.T) {
	// Peak at true z 500, well inside the +-1000 sweep. Backlash of 300
	// steps would leave the naive approach that far off; the matched-
	// direction measurement and approach passes should cancel it.
	const peak, backlash, tol = 500, 300, 150
	m, st := simScope(t, 20000, backlash, peak)

	res, err := ContinuousSweep{Range: 2000}.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Cancelled {
		t.Fatal("run reported cancelled without a cancel request")
	}

	truth := st.TruePosition().Z
	if d := truth - peak; d < -tol || d > tol {
		t.Errorf("true z = %d, want within %d of %d", truth, tol, peak)
	}
	if d := res.BestZ - peak; d < -tol || d > tol {
		t.Errorf("BestZ = %d, want within %d of %d", res.BestZ, tol, peak)
	}
	if res.Data == nil || len(res.Data.FrameSizes) == 0 {
		t.Error("result carries no correlation data")
	}
	if len(res.Data.StagePositions) != len(res.Data.StageTimes) {
		t.Errorf("stage series lengths differ: %d positions, %d times",
			len(res.Data.StagePositions), len(res.Data.StageTimes))
	}
}

func TestContinuousSweepReleasesLock(t *testing.T) {
	m, _ := simScope(t, 20000, 0, 0)

	if _, err := (ContinuousSweep{Range: 400}).Run(context.Background(), m); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := m.Lock.Acquire(10 * time.Millisecond); err != nil {
		t.Fatalf("composite lock still held after run: %v", err)
	}
	m.Lock.Release()
}

func TestFeedbackSweepConvergesThroughBacklash(t *testing.T) {
	const peak, backlash, tol = 500, 300, 150
	m, st := simScope(t, 20000, backlash, peak)

	s := FeedbackSweep{Range: 2000, Backlash: 25}
	res, err := s.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Cancelled {
		t.Fatal("run reported cancelled without a cancel request")
	}

	truth := st.TruePosition().Z
	if d := truth - peak; d < -tol || d > tol {
		t.Errorf("true z = %d, want within %d of %d", truth, tol, peak)
	}
	if res.Data == nil || len(res.Data.FrameSizes) == 0 {
		t.Error("result carries no correlation data")
	}
}

func TestFeedbackSweepTargetOffset(t *testing.T) {
	// TargetZ shifts the finishing position relative to the focus, e.g.
	// to start a z-stack below it.
	const peak, target, tol = 500, -200, 150
	m, st := simScope(t, 20000, 300, peak)

	s := FeedbackSweep{Range: 2000, TargetZ: target, Backlash: 25}
	if _, err := s.Run(context.Background(), m); err != nil {
		t.Fatalf("Run: %v", err)
	}

	truth := st.TruePosition().Z
	want := peak + target
	if d := truth - want; d < -tol || d > tol {
		t.Errorf("true z = %d, want within %d of %d", truth, tol, want)
	}
}

func TestDiscreteSweepFindsBestOffset(t *testing.T) {
	m, st := simScope(t, 0, 0, 0)

	// Score by reported position, peaking at offset +100.
	metric := func([]byte) (float64, error) {
		pos, err := st.Position()
		if err != nil {
			return 0, err
		}
		d := float64(pos.Z - 100)
		return -d * d, nil
	}

	s := DiscreteSweep{Settle: time.Millisecond, Metric: metric}
	res, err := s.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Positions) != 7 || len(res.Sharpness) != 7 {
		t.Fatalf("got %d positions, %d sharpness values, want 7 each",
			len(res.Positions), len(res.Sharpness))
	}
	if res.BestZ != 100 {
		t.Errorf("BestZ = %d, want 100", res.BestZ)
	}
	pos, err := st.Position()
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos.Z != 100 {
		t.Errorf("final z = %d, want 100", pos.Z)
	}
}

func TestDiscreteSweepCancelledBeforeStart(t *testing.T) {
	m, st := simScope(t, 0, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := DiscreteSweep{Settle: time.Millisecond}.Run(ctx, m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Cancelled {
		t.Error("result not marked cancelled")
	}
	if len(res.Positions) != 0 {
		t.Errorf("cancelled run recorded %d positions, want none", len(res.Positions))
	}
	pos, _ := st.Position()
	if pos.Z != 0 {
		t.Errorf("stage moved to %d despite pre-cancelled context", pos.Z)
	}
}

func TestDiscreteSweepCancelledMidRun(t *testing.T) {
	m, st := simScope(t, 0, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	metric := func([]byte) (float64, error) {
		cancel() // observed at the next step boundary
		return 1, nil
	}

	res, err := DiscreteSweep{Settle: time.Millisecond, Metric: metric}.Run(ctx, m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Cancelled {
		t.Error("result not marked cancelled")
	}
	// The first step completed before the cancel was observed, and no
	// corrective move ran afterwards.
	pos, _ := st.Position()
	if pos.Z != -300 {
		t.Errorf("final z = %d, want -300 (first offset, no return move)", pos.Z)
	}
	if err := m.Lock.Acquire(10 * time.Millisecond); err != nil {
		t.Fatalf("composite lock still held after cancelled run: %v", err)
	}
	m.Lock.Release()
}
