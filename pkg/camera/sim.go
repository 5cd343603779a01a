package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/lock"
	"github.com/openstage/go-microscope/pkg/stream"
)

// FrameFunc produces the next simulated frame.
type FrameFunc func() []byte

// Sim is a simulated camera: a producer goroutine writes frames into the
// frame buffer at the configured framerate. The frame source is pluggable so
// tests can correlate frame content or size with simulated stage position.
type Sim struct {
	cfg Config
	buf *stream.FrameBuffer
	lk  *lock.Lock

	mu        sync.Mutex
	frameFn   FrameFunc
	streaming bool
	stop      chan struct{}
	done      chan struct{}
}

var _ Camera = (*Sim)(nil)

// NewSim returns a simulated camera producing placeholder test-card frames.
// Zero or negative config fields fall back to their defaults, so a zero-value
// Config is usable without running Validate first.
func NewSim(cfg Config) *Sim {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.Framerate <= 0 {
		cfg.Framerate = def.Framerate
	}
	if cfg.Quality <= 0 {
		cfg.Quality = def.Quality
	}
	s := &Sim{
		cfg: cfg,
		buf: stream.NewFrameBuffer(),
		lk:  lock.New("camera"),
	}
	s.frameFn = s.testCard
	return s
}

// SetFrameFunc replaces the frame source. Safe to call while streaming.
func (s *Sim) SetFrameFunc(fn FrameFunc) {
	s.mu.Lock()
	s.frameFn = fn
	s.mu.Unlock()
}

func (s *Sim) CaptureStill(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	fn := s.frameFn
	s.mu.Unlock()
	return fn(), nil
}

func (s *Sim) StartStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil
	}
	s.streaming = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.worker(s.stop, s.done)
	log.Debug("simulated camera stream started", "framerate", s.cfg.Framerate)
	return nil
}

func (s *Sim) StopStream() error {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return nil
	}
	s.streaming = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	log.Debug("simulated camera stream stopped")
	return nil
}

func (s *Sim) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *Sim) Stream() *stream.FrameBuffer { return s.buf }
func (s *Sim) Lock() *lock.Lock            { return s.lk }
func (s *Sim) Simulated() bool             { return true }

func (s *Sim) Close() error {
	return s.StopStream()
}

func (s *Sim) worker(stop, done chan struct{}) {
	defer close(done)
	interval := time.Second / time.Duration(s.cfg.Framerate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			fn := s.frameFn
			s.mu.Unlock()
			s.buf.Write(fn())
		}
	}
}

// testCard renders the "camera disconnected" placeholder frame.
func (s *Sim) testCard() []byte {
	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	for y := 0; y < s.cfg.Height; y++ {
		for x := 0; x < s.cfg.Width; x++ {
			// Diagonal gradient so the stream visibly updates nothing but
			// still compresses like a real scene.
			v := uint8((x + y) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
		log.Error("encode placeholder frame", "err", err)
		return nil
	}
	return out.Bytes()
}
