package stage

import (
	"context"
	"sync"
	"time"

	"github.com/openstage/go-microscope/pkg/lock"
)

// SimConfig tunes the simulated stage.
type SimConfig struct {
	// StepsPerSecond is the motion speed. Zero means moves complete
	// instantly.
	StepsPerSecond float64

	// Backlash is the mechanical play per axis, in steps: after a direction
	// reversal, this many steps of commanded motion are lost before the
	// optics move again.
	Backlash int
}

// Sim is a simulated stage. Commanded moves advance the reported position
// over time at a configurable speed, and an optional backlash model offsets
// the "true" optical position from the reported one, so the focus algorithms
// can be exercised end to end without hardware.
type Sim struct {
	cfg SimConfig
	lk  *lock.Lock

	mu    sync.Mutex
	pos   Position // reported (motor) position
	truth Position // position of the optics, behind by any unconsumed play
	gap   [3]int   // backlash gap state per axis, in [0, Backlash]
}

var _ Stage = (*Sim)(nil)

// NewSim returns a simulated stage at the origin.
func NewSim(cfg SimConfig) *Sim {
	s := &Sim{cfg: cfg, lk: lock.New("stage")}
	// Start with the gap fully taken up in the positive direction.
	for i := range s.gap {
		s.gap[i] = cfg.Backlash
	}
	return s
}

func (s *Sim) Position() (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

// TruePosition reports where the optics actually are, including backlash.
// This is the position a simulated camera should image from.
func (s *Sim) TruePosition() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truth
}

func (s *Sim) MoveRel(_ context.Context, delta Position) error {
	if s.cfg.StepsPerSecond <= 0 {
		s.mu.Lock()
		s.stepAxes(delta)
		s.mu.Unlock()
		return nil
	}

	// Slice the move into short ticks so concurrently running frame
	// producers observe intermediate positions, as a real stage in
	// continuous motion would expose.
	const tick = 2 * time.Millisecond
	perTick := int(s.cfg.StepsPerSecond * tick.Seconds())
	if perTick < 1 {
		perTick = 1
	}

	remaining := delta
	for remaining != (Position{}) {
		step := clampMagnitude(remaining, perTick)
		s.mu.Lock()
		s.stepAxes(step)
		s.mu.Unlock()
		remaining = remaining.Sub(step)
		time.Sleep(tick)
	}
	return nil
}

func (s *Sim) MoveAbs(ctx context.Context, pos Position) error {
	cur, _ := s.Position()
	return s.MoveRel(ctx, pos.Sub(cur))
}

func (s *Sim) Lock() *lock.Lock { return s.lk }
func (s *Sim) Simulated() bool  { return true }
func (s *Sim) Close() error     { return nil }

// stepAxes advances the reported position by delta and moves the true
// position only once each axis's backlash gap has been consumed. Caller
// holds s.mu.
func (s *Sim) stepAxes(delta Position) {
	d := [3]int{delta.X, delta.Y, delta.Z}
	p := [3]int{s.pos.X, s.pos.Y, s.pos.Z}
	t := [3]int{s.truth.X, s.truth.Y, s.truth.Z}

	for a := 0; a < 3; a++ {
		step := sign(d[a])
		for n := 0; n < abs(d[a]); n++ {
			p[a] += step
			g := s.gap[a] + step
			if g < 0 || g > s.cfg.Backlash {
				// Gap already taken up in this direction: the screw
				// engages and the optics follow.
				t[a] += step
			} else {
				s.gap[a] = g
			}
		}
	}

	s.pos = Position{X: p[0], Y: p[1], Z: p[2]}
	s.truth = Position{X: t[0], Y: t[1], Z: t[2]}
}

func clampMagnitude(d Position, m int) Position {
	return Position{X: clampInt(d.X, m), Y: clampInt(d.Y, m), Z: clampInt(d.Z, m)}
}

func clampInt(v, m int) int {
	if v > m {
		return m
	}
	if v < -m {
		return -m
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
