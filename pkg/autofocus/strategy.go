package autofocus

import (
	"context"
	"time"

	"github.com/openstage/go-microscope/pkg/microscope"
)

// DefaultLockTimeout bounds the wait for the instrument's composite lock at
// the start of a focus run. Contention past this aborts the whole operation
// without moving anything.
const DefaultLockTimeout = time.Second

// Result is the outcome of one focus run, as plain structured data for the
// transport layer to serialize.
//
// Cancelled is not an error: an observed stop request produces a clean early
// return carrying whatever was safely gathered (possibly nothing).
type Result struct {
	// Positions and Sharpness are parallel per-step records, populated by
	// the discrete sweep.
	Positions []int     `json:"positions,omitempty"`
	Sharpness []float64 `json:"sharpness,omitempty"`

	// BestZ is the chosen focus position (absolute stage z).
	BestZ int `json:"best_z"`

	// Data is the raw correlation record, populated by the continuous
	// variants.
	Data *Data `json:"data,omitempty"`

	Cancelled bool `json:"cancelled"`
}

// Strategy is one autofocus algorithm. Each variant holds only its own
// configuration; hardware arrives through the microscope argument so the
// strategies stay testable against synthetic doubles.
//
// Every strategy acquires the microscope's composite lock for its whole run,
// releases it on all paths, and polls ctx at phase boundaries: a cancelled
// run returns a Result with Cancelled set and a nil error, never a stage left
// mid-move.
type Strategy interface {
	Run(ctx context.Context, m *microscope.Microscope) (*Result, error)
}

func lockTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultLockTimeout
}
