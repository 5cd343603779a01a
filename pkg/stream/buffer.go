// Package stream provides the single-slot frame buffer shared between the
// camera's frame producer and any number of consumers.
//
// The buffer holds only the most recent frame: a slow consumer always sees the
// latest frame, never a backlog. While tracking is enabled, the size and
// arrival time of every written frame are appended to a log, which is the raw
// material for correlating image sharpness against stage position during a
// move.
package stream

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/openstage/go-microscope/internal/log"
)

// jpegEOI is the end-of-image marker that terminates every well-formed JPEG.
var jpegEOI = []byte{0xff, 0xd9}

// FrameSample records the size and arrival time of one tracked frame.
// Samples are never mutated after creation.
type FrameSample struct {
	Size int       `json:"size"`
	Time time.Time `json:"time"`
}

// FrameBuffer is a single-slot, overwrite-on-write frame store with a
// per-consumer "new frame" signal and an optional frame size/time log.
type FrameBuffer struct {
	mu       sync.Mutex
	frame    []byte
	tracking bool
	samples  []FrameSample
	last     FrameSample
	haveLast bool
	badFrame bool
	readers  map[*Reader]struct{}
}

// NewFrameBuffer returns an empty buffer with tracking disabled.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{readers: make(map[*Reader]struct{})}
}

// Write stores frame as the current frame, replacing the previous one, and
// wakes every blocked reader. It never fails: malformed frames (missing the
// JPEG end-of-image marker) are logged once per good-to-bad transition and
// stored anyway.
func (b *FrameBuffer) Write(frame []byte) {
	stored := append([]byte(nil), frame...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !bytes.HasSuffix(stored, jpegEOI) {
		if !b.badFrame {
			log.Warn("incomplete frame data received; camera bandwidth may be exceeded. " +
				"Consider lowering resolution, framerate, or target bitrate")
			b.badFrame = true
		}
	} else if b.badFrame {
		b.badFrame = false
	}

	if b.tracking {
		s := FrameSample{Size: len(stored), Time: time.Now()}
		b.samples = append(b.samples, s)
		b.last = s
		b.haveLast = true
	}

	b.frame = stored
	for r := range b.readers {
		select {
		case r.ready <- struct{}{}:
		default: // reader already has an unconsumed signal
		}
	}
}

// Frame returns the current frame without waiting, or nil if nothing has been
// written yet. The returned slice is never mutated by the buffer.
func (b *FrameBuffer) Frame() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

// StartTracking enables the size/time log. Idempotent.
func (b *FrameBuffer) StartTracking() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tracking {
		log.Debug("started tracking frame data")
		b.tracking = true
	}
}

// StopTracking disables the size/time log. Idempotent.
func (b *FrameBuffer) StopTracking() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tracking {
		log.Debug("stopped tracking frame data")
		b.tracking = false
	}
}

// ResetTracking empties the sample log. It does not change whether tracking
// is enabled, the stored frame, or the most recent sample.
func (b *FrameBuffer) ResetTracking() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

// Tracking reports whether the size/time log is being appended to.
func (b *FrameBuffer) Tracking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracking
}

// Samples returns a copy of the current sample log, in arrival order.
func (b *FrameBuffer) Samples() []FrameSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FrameSample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Last returns the most recent tracked sample. It survives ResetTracking, so
// a caller can compare a live measurement against samples from an earlier
// move window.
func (b *FrameBuffer) Last() (FrameSample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.haveLast
}

// Reader is one consumer's handle onto the buffer. Each reader observes its
// own level-triggered "new frame since my last read" condition.
type Reader struct {
	buf   *FrameBuffer
	ready chan struct{}
}

// NewReader registers a consumer. The first Read unblocks on the first Write
// after registration. Close the reader when done.
func (b *FrameBuffer) NewReader() *Reader {
	r := &Reader{buf: b, ready: make(chan struct{}, 1)}
	b.mu.Lock()
	b.readers[r] = struct{}{}
	b.mu.Unlock()
	return r
}

// Read blocks until a frame has been written since this reader's last read,
// then returns the current frame. Read has no timeout of its own; cancel ctx
// to abandon the wait.
func (r *Reader) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-r.ready:
		return r.buf.Frame(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters the reader from the buffer.
func (r *Reader) Close() {
	r.buf.mu.Lock()
	delete(r.buf.readers, r)
	r.buf.mu.Unlock()
}
