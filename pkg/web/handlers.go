package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/openstage/go-microscope/internal/config"
	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/autofocus"
	"github.com/openstage/go-microscope/pkg/lock"
	"github.com/openstage/go-microscope/pkg/scan"
	"github.com/openstage/go-microscope/pkg/stage"
)

// hardwareTimeout bounds hardware lock waits for synchronous endpoints.
const hardwareTimeout = time.Second

func apiError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// hardwareError maps hardware failures to HTTP statuses: contention is 423,
// anything else a 500.
func hardwareError(c *fiber.Ctx, err error) error {
	if errors.Is(err, lock.ErrTimeout) {
		return apiError(c, fiber.StatusLocked, err)
	}
	return apiError(c, fiber.StatusInternalServerError, err)
}

func (s *Server) handleInstrument(c *fiber.Ctx) error {
	return c.JSON(s.scope.State())
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return c.JSON(s.settings)
}

// handlePutSettings validates and persists new settings. Hardware-affecting
// changes (stage driver, stream geometry) take effect on the next start.
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	var settings config.Settings
	if err := c.BodyParser(&settings); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if problems := settings.Validate(); problems != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":    "invalid settings",
			"problems": problems,
		})
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if s.settingsPath != "" {
		if err := settings.Save(s.settingsPath); err != nil {
			return apiError(c, fiber.StatusInternalServerError, err)
		}
	}
	s.settings = settings
	return c.JSON(settings)
}

func (s *Server) handlePosition(c *fiber.Ctx) error {
	pos, err := s.scope.Stage.Position()
	if err != nil {
		return hardwareError(c, err)
	}
	return c.JSON(pos)
}

type moveRequest struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Z        int  `json:"z"`
	Absolute bool `json:"absolute"`
}

func (s *Server) handleMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}

	target := stage.Position{X: req.X, Y: req.Y, Z: req.Z}
	err := s.scope.Stage.Lock().With(hardwareTimeout, func() error {
		if req.Absolute {
			return s.scope.Stage.MoveAbs(c.Context(), target)
		}
		return s.scope.Stage.MoveRel(c.Context(), target)
	})
	if err != nil {
		return hardwareError(c, err)
	}

	pos, err := s.scope.Stage.Position()
	if err != nil {
		return hardwareError(c, err)
	}
	return c.JSON(pos)
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	var frame []byte
	err := s.scope.Camera.Lock().With(hardwareTimeout, func() error {
		var err error
		frame, err = s.scope.Camera.CaptureStill(c.Context())
		return err
	})
	if err != nil {
		return hardwareError(c, err)
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(frame)
}

func (s *Server) handleStreamStart(c *fiber.Ctx) error {
	if err := s.scope.Camera.StartStream(); err != nil {
		return hardwareError(c, err)
	}
	s.broadcastStreamState(true)
	return c.JSON(fiber.Map{"streaming": true})
}

func (s *Server) handleStreamStop(c *fiber.Ctx) error {
	if err := s.scope.Camera.StopStream(); err != nil {
		return hardwareError(c, err)
	}
	s.broadcastStreamState(false)
	return c.JSON(fiber.Map{"streaming": false})
}

// broadcastStreamState tells connected stream clients whether frames will be
// arriving, so a viewer can show "stream stopped" instead of a stale frame.
func (s *Server) broadcastStreamState(active bool) {
	if err := s.streamHub.BroadcastJSON(fiber.Map{"event": "stream", "active": active}); err != nil {
		log.Warn("broadcasting stream state", "err", err)
	}
}

// handleSharpness scores the most recent stream frame with the decoded-image
// metric.
func (s *Server) handleSharpness(c *fiber.Ctx) error {
	frame := s.scope.Camera.Stream().Frame()
	if frame == nil {
		return apiError(c, fiber.StatusServiceUnavailable,
			errors.New("no frame available; is the stream running?"))
	}
	v, err := autofocus.SharpnessSumLap2(frame)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"sharpness": v})
}

func (s *Server) handleListActions(c *fiber.Ctx) error {
	return c.JSON(s.actions.List())
}

func (s *Server) handleGetAction(c *fiber.Ctx) error {
	a, ok := s.actions.Get(c.Params("id"))
	if !ok {
		return apiError(c, fiber.StatusNotFound, errors.New("unknown action"))
	}
	return c.JSON(a.View())
}

// handleCancelAction requests cooperative cancellation; the action stops at
// its next phase boundary and remains queryable.
func (s *Server) handleCancelAction(c *fiber.Ctx) error {
	if !s.actions.Cancel(c.Params("id")) {
		return apiError(c, fiber.StatusNotFound, errors.New("unknown action"))
	}
	a, _ := s.actions.Get(c.Params("id"))
	return c.JSON(a.View())
}

func (s *Server) launch(c *fiber.Ctx, name string, fn ActionFunc) error {
	a := s.actions.Launch(name, fn)
	return c.Status(fiber.StatusCreated).JSON(a.View())
}

type fastAutofocusRequest struct {
	Range int `json:"range"`
}

func (s *Server) handleFastAutofocus(c *fiber.Ctx) error {
	var req fastAutofocusRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if req.Range <= 0 {
		req.Range = s.autofocusDefaults().Range
	}

	return s.launch(c, "autofocus/fast", func(ctx context.Context, _ func(float64)) (any, error) {
		return autofocus.ContinuousSweep{Range: req.Range}.Run(ctx, s.scope)
	})
}

type fineAutofocusRequest struct {
	DZ       int    `json:"dz"`
	SettleMS int    `json:"settle_ms"`
	Metric   string `json:"metric"`
}

// metricByName resolves a request's metric selector to a scoring function.
// The empty name selects the default Laplacian metric.
func metricByName(name string) (autofocus.Metric, error) {
	switch name {
	case "", "sum_lap2":
		return autofocus.SharpnessSumLap2, nil
	case "edge":
		return autofocus.SharpnessEdge, nil
	}
	return nil, fmt.Errorf("unknown sharpness metric %q (want sum_lap2 or edge)", name)
}

func (s *Server) handleFineAutofocus(c *fiber.Ctx) error {
	var req fineAutofocusRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if req.DZ <= 0 {
		req.DZ = 100
	}
	settle := time.Duration(req.SettleMS) * time.Millisecond
	if settle <= 0 {
		settle = time.Duration(s.autofocusDefaults().SettleMS) * time.Millisecond
	}
	metric, err := metricByName(req.Metric)
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}

	sweep := autofocus.DiscreteSweep{Offsets: offsetsAround(req.DZ), Settle: settle, Metric: metric}
	return s.launch(c, "autofocus/fine", func(ctx context.Context, _ func(float64)) (any, error) {
		return sweep.Run(ctx, s.scope)
	})
}

type feedbackAutofocusRequest struct {
	Range           int  `json:"range"`
	TargetZ         int  `json:"target_z"`
	Backlash        int  `json:"backlash"`
	SkipInitialMove bool `json:"skip_initial_move"`
}

func (s *Server) handleFeedbackAutofocus(c *fiber.Ctx) error {
	var req feedbackAutofocusRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	defaults := s.autofocusDefaults()
	if req.Range <= 0 {
		req.Range = defaults.Range
	}
	if req.Backlash <= 0 {
		req.Backlash = defaults.Backlash
	}

	sweep := autofocus.FeedbackSweep{
		Range:           req.Range,
		TargetZ:         req.TargetZ,
		Backlash:        req.Backlash,
		SkipInitialMove: req.SkipInitialMove,
	}
	return s.launch(c, "autofocus/feedback", func(ctx context.Context, _ func(float64)) (any, error) {
		return sweep.Run(ctx, s.scope)
	})
}

type moveAndMeasureRequest struct {
	DZ int `json:"dz"`
}

// handleMoveAndMeasure performs one tracked relative move and returns the raw
// correlation series, for calibration and focus-curve inspection.
func (s *Server) handleMoveAndMeasure(c *fiber.Ctx) error {
	var req moveAndMeasureRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if req.DZ == 0 {
		return apiError(c, fiber.StatusBadRequest, errors.New("dz must be non-zero"))
	}

	return s.launch(c, "autofocus/move", func(ctx context.Context, _ func(float64)) (any, error) {
		var data *autofocus.Data
		err := s.scope.Lock.With(hardwareTimeout, func() error {
			if err := s.scope.Camera.StartStream(); err != nil {
				return err
			}
			mon := autofocus.NewMonitor(s.scope.Camera, s.scope.Stage)
			defer mon.Close()
			if _, _, err := mon.FocusRel(ctx, req.DZ); err != nil {
				return err
			}
			data = mon.Data()
			return nil
		})
		return data, err
	})
}

type settlingTimeRequest struct {
	DZ      int `json:"dz"`
	DelayMS int `json:"delay_ms"`
}

// handleSettlingTime moves, then keeps recording sharpness while the stage
// sits still, to show how long vibration takes to die down after a move.
func (s *Server) handleSettlingTime(c *fiber.Ctx) error {
	var req settlingTimeRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if req.DelayMS <= 0 {
		req.DelayMS = 1000
	}

	return s.launch(c, "autofocus/settle", func(ctx context.Context, _ func(float64)) (any, error) {
		var data *autofocus.Data
		err := s.scope.Lock.With(hardwareTimeout, func() error {
			if err := s.scope.Camera.StartStream(); err != nil {
				return err
			}
			mon := autofocus.NewMonitor(s.scope.Camera, s.scope.Stage)
			defer mon.Close()
			if req.DZ != 0 {
				if _, _, err := mon.FocusRel(ctx, req.DZ); err != nil {
					return err
				}
			}
			if _, _, err := mon.Hold(ctx, time.Duration(req.DelayMS)*time.Millisecond); err != nil {
				return err
			}
			data = mon.Data()
			return nil
		})
		return data, err
	})
}

type tileScanRequest struct {
	Basename      string  `json:"basename"`
	Stride        [3]int  `json:"stride_size"`
	Grid          [3]int  `json:"grid"`
	Style         string  `json:"style"`
	AutofocusDZ   int     `json:"autofocus_dz"`
	FastAutofocus bool    `json:"fast_autofocus"`
	JumpThreshold float64 `json:"jump_threshold"`
}

func (s *Server) handleTileScan(c *fiber.Ctx) error {
	req := tileScanRequest{
		Stride:      [3]int{2000, 1500, 100},
		Grid:        [3]int{3, 3, 1},
		Style:       string(scan.StyleRaster),
		AutofocusDZ: 50,
	}
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if !scan.Style(req.Style).Valid() {
		return apiError(c, fiber.StatusBadRequest,
			fmt.Errorf("unknown scan style %q", req.Style))
	}
	if req.AutofocusDZ != 0 && (!s.scope.HasRealStage() || !s.scope.HasRealCamera()) {
		return apiError(c, fiber.StatusServiceUnavailable, errors.New(
			"a real stage and camera are needed to autofocus; set autofocus_dz to 0 to scan without it"))
	}

	basename := req.Basename
	if basename == "" {
		basename = time.Now().Format("2006-01-02_15-04-05")
	}
	dir := filepath.Join(s.captureDir, "SCAN_"+basename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apiError(c, fiber.StatusInternalServerError, err)
	}

	var focus *scan.FocusManager
	if req.AutofocusDZ != 0 {
		initial, err := s.scope.Stage.Position()
		if err != nil {
			return hardwareError(c, err)
		}
		focus = &scan.FocusManager{
			Stage:         s.scope.Stage,
			Initial:       initial,
			Autofocus:     s.scanAutofocus(req.AutofocusDZ, req.FastAutofocus),
			JumpThreshold: req.JumpThreshold,
		}
	}

	tile := scan.Tile{
		Stride: stage.Position{X: req.Stride[0], Y: req.Stride[1], Z: req.Stride[2]},
		GridX:  req.Grid[0],
		GridY:  req.Grid[1],
		Stack:  req.Grid[2],
		Style:  scan.Style(req.Style),
		Focus:  focus,
		Capture: func(ctx context.Context, pos stage.Position) error {
			frame, err := s.scope.Camera.CaptureStill(ctx)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s_%d_%d_%d.jpg", basename, pos.X, pos.Y, pos.Z)
			return os.WriteFile(filepath.Join(dir, name), frame, 0o644)
		},
	}

	return s.launch(c, "scan/tile", func(ctx context.Context, progress func(float64)) (any, error) {
		tile.Progress = progress
		if err := tile.Run(ctx, s.scope); err != nil {
			return nil, err
		}
		return fiber.Map{"directory": dir}, nil
	})
}

// scanAutofocus builds the per-field focus routine for a scan, matching the
// strategy choice to the requested dz scale: fast sweeps expect a range of
// thousands of steps, fine sweeps tens.
func (s *Server) scanAutofocus(dz int, fast bool) func(ctx context.Context) error {
	var strat autofocus.Strategy
	if fast {
		strat = autofocus.ContinuousSweep{Range: dz}
	} else {
		strat = autofocus.DiscreteSweep{Offsets: offsetsAround(dz)}
	}
	return func(ctx context.Context) error {
		if _, err := strat.Run(ctx, s.scope); err != nil {
			return err
		}
		// Let vibration die down before the capture.
		time.Sleep(500 * time.Millisecond)
		return nil
	}
}

func (s *Server) autofocusDefaults() config.Autofocus {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings.Autofocus
}

// offsetsAround spreads seven sweep offsets dz apart, centred on zero.
func offsetsAround(dz int) []int {
	offsets := make([]int, 0, 7)
	for off := -3 * dz; off <= 3*dz; off += dz {
		offsets = append(offsets, off)
	}
	return offsets
}
