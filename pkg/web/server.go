// Package web exposes the microscope over HTTP: instrument state and settings,
// synchronous stage and camera endpoints, an asynchronous action registry for
// autofocus runs and tile scans, and a websocket pushing the live MJPEG
// stream.
package web

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/openstage/go-microscope/internal/config"
	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/hub"
	"github.com/openstage/go-microscope/pkg/microscope"
)

// Options configures the server beyond the instrument itself.
type Options struct {
	// Settings is the daemon's current configuration; PUT /settings
	// updates and persists it to SettingsPath.
	Settings     config.Settings
	SettingsPath string

	// CaptureDir is where scans and captures store images. Default
	// "captures".
	CaptureDir string
}

// Server is the HTTP and websocket front end for one microscope.
type Server struct {
	app   *fiber.App
	scope *microscope.Microscope

	settingsMu   sync.RWMutex
	settings     config.Settings
	settingsPath string
	captureDir   string

	actions   *Registry
	streamHub *hub.Hub

	pumpCancel context.CancelFunc
}

// NewServer wires the routes for one instrument.
func NewServer(scope *microscope.Microscope, opts Options) *Server {
	s := &Server{
		scope:        scope,
		settings:     opts.Settings,
		settingsPath: opts.SettingsPath,
		captureDir:   opts.CaptureDir,
		actions:      NewRegistry(),
		streamHub:    hub.New("stream"),
	}
	if s.captureDir == "" {
		s.captureDir = "captures"
	}

	app := fiber.New(fiber.Config{
		AppName:               "openstage microscope",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api/v2")
	api.Get("/instrument", s.handleInstrument)
	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)

	api.Get("/stage/position", s.handlePosition)
	api.Post("/stage/move", s.handleMove)

	api.Post("/camera/capture", s.handleCapture)
	api.Post("/camera/stream/start", s.handleStreamStart)
	api.Post("/camera/stream/stop", s.handleStreamStop)
	api.Get("/camera/sharpness", s.handleSharpness)

	api.Get("/actions", s.handleListActions)
	api.Get("/actions/:id", s.handleGetAction)
	api.Delete("/actions/:id", s.handleCancelAction)

	api.Post("/actions/autofocus/fast", s.handleFastAutofocus)
	api.Post("/actions/autofocus/fine", s.handleFineAutofocus)
	api.Post("/actions/autofocus/feedback", s.handleFeedbackAutofocus)
	api.Post("/actions/autofocus/move", s.handleMoveAndMeasure)
	api.Post("/actions/autofocus/settle", s.handleSettlingTime)

	api.Post("/actions/scan/tile", s.handleTileScan)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream", websocket.New(s.handleStreamWS))

	s.app = app
	return s
}

// Start runs the frame pump and serves on addr (e.g. ":5000"). Blocks until
// Shutdown.
func (s *Server) Start(addr string) error {
	go s.streamHub.Run()

	if err := s.scope.Camera.StartStream(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	go s.pumpFrames(ctx)

	log.Info("serving microscope API", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the listener and the frame pump.
func (s *Server) Shutdown() error {
	if s.pumpCancel != nil {
		s.pumpCancel()
	}
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// pumpFrames forwards every new frame to the websocket hub. The buffer's
// per-reader signalling means a burst of frames collapses to the latest one;
// clients never receive a backlog.
func (s *Server) pumpFrames(ctx context.Context) {
	r := s.scope.Camera.Stream().NewReader()
	defer r.Close()

	for {
		frame, err := r.Read(ctx)
		if err != nil {
			return
		}
		if s.streamHub.ClientCount() > 0 {
			s.streamHub.BroadcastBinary(frame)
		}
	}
}

// handleStreamWS attaches a websocket client to the live frame hub.
func (s *Server) handleStreamWS(c *websocket.Conn) {
	client := hub.NewClient(s.streamHub, c)
	client.Run()
}
