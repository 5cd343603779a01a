// Package camera provides the camera capability interface consumed by the
// focus and scan algorithms, together with a simulated implementation.
//
// A camera owns exactly one stream.FrameBuffer: the hardware (or simulator)
// feeds frames into it from a producer goroutine, and consumers such as the
// MJPEG websocket and the sharpness monitor read from it at their own cadence.
package camera

import (
	"context"

	"github.com/openstage/go-microscope/pkg/lock"
	"github.com/openstage/go-microscope/pkg/stream"
)

// Camera is the capability contract the core needs from a camera.
type Camera interface {
	// CaptureStill returns one full-resolution still image.
	CaptureStill(ctx context.Context) ([]byte, error)

	// StartStream ensures the frame producer is running. Idempotent.
	StartStream() error

	// StopStream stops the frame producer. Idempotent.
	StopStream() error

	// Streaming reports whether the producer is running.
	Streaming() bool

	// Stream is the camera's frame buffer. The buffer identity is stable
	// for the camera's lifetime.
	Stream() *stream.FrameBuffer

	// Lock is the camera's exclusive-access handle.
	Lock() *lock.Lock

	// Simulated reports whether this is a software stand-in rather than
	// real hardware.
	Simulated() bool

	Close() error
}
