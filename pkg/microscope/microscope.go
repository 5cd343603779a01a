// Package microscope binds a camera and a stage into one instrument, with a
// composite lock that lets operations treat both as a single atomically
// acquired resource.
package microscope

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/camera"
	"github.com/openstage/go-microscope/pkg/lock"
	"github.com/openstage/go-microscope/pkg/stage"
)

// Hardware-availability sentinels. Algorithms that need real hardware check
// these preconditions before starting, so a missing device fails fast rather
// than mid-sequence.
var (
	ErrNoStage  = errors.New("microscope: no stage connected")
	ErrNoCamera = errors.New("microscope: no camera connected")
)

// Microscope is one camera plus one stage.
type Microscope struct {
	ID     string
	Name   string
	Camera camera.Camera
	Stage  stage.Stage

	// Lock covers camera then stage, in that fixed order. Every operation
	// spanning both resources acquires it for the operation's whole
	// duration.
	Lock *lock.Composite
}

// New assembles an instrument from the given hardware.
func New(cam camera.Camera, st stage.Stage) *Microscope {
	id := fmt.Sprintf("openstage:microscope:%s", uuid.New())
	m := &Microscope{
		ID:     id,
		Name:   id,
		Camera: cam,
		Stage:  st,
		Lock:   lock.NewComposite(cam.Lock(), st.Lock()),
	}
	return m
}

// HasRealStage reports whether a physical (non-simulated) stage is attached.
func (m *Microscope) HasRealStage() bool {
	return m.Stage != nil && !m.Stage.Simulated()
}

// HasRealCamera reports whether a physical (non-simulated) camera is attached.
func (m *Microscope) HasRealCamera() bool {
	return m.Camera != nil && !m.Camera.Simulated()
}

// RequireRealStage fails with ErrNoStage unless real stage hardware is
// attached.
func (m *Microscope) RequireRealStage() error {
	if !m.HasRealStage() {
		return fmt.Errorf("%w: unable to focus without stage hardware", ErrNoStage)
	}
	return nil
}

// RequireRealCamera fails with ErrNoCamera unless real camera hardware is
// attached.
func (m *Microscope) RequireRealCamera() error {
	if !m.HasRealCamera() {
		return fmt.Errorf("%w: unable to focus without camera hardware", ErrNoCamera)
	}
	return nil
}

// Close shuts down the attached hardware.
func (m *Microscope) Close() {
	if m.Camera != nil {
		if err := m.Camera.Close(); err != nil {
			log.Error("closing camera", "err", err)
		}
	}
	if m.Stage != nil {
		if err := m.Stage.Close(); err != nil {
			log.Error("closing stage", "err", err)
		}
	}
	log.Info("closed microscope", "id", m.ID)
}

// State summarizes the instrument for the API layer.
type State struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Streaming bool            `json:"streaming"`
	Position  *stage.Position `json:"position,omitempty"`
	RealStage bool            `json:"real_stage"`
	RealCam   bool            `json:"real_camera"`
}

// State reads the current instrument state. A stage read failure leaves
// Position nil rather than failing the whole state read.
func (m *Microscope) State() State {
	s := State{
		ID:        m.ID,
		Name:      m.Name,
		Streaming: m.Camera.Streaming(),
		RealStage: m.HasRealStage(),
		RealCam:   m.HasRealCamera(),
	}
	if pos, err := m.Stage.Position(); err == nil {
		s.Position = &pos
	} else {
		log.Warn("reading stage position for state", "err", err)
	}
	return s
}
