package autofocus

import "errors"

// Sentinel errors for the autofocus package.
var (
	// ErrNoFrames means a measurement window captured zero frames, which
	// almost always means the camera stream was not running.
	ErrNoFrames = errors.New(
		"autofocus: no images were captured during the move; check that the camera stream is active")

	// ErrNoMetricData means a sweep produced no sharpness values to choose
	// a focus position from.
	ErrNoMetricData = errors.New("autofocus: sweep produced no sharpness data")
)
