// Package config provides the microscope daemon's persisted settings file
// and its environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/camera"
)

// Default daemon configuration.
const (
	DefaultPort     = 5000
	DefaultSettings = "settings.json"
)

// StageType selects the stage driver.
const (
	StageSim   = "sim"
	StageSanga = "sanga"
)

// Settings is everything the daemon persists between runs.
type Settings struct {
	Server    Server        `json:"server"`
	Camera    camera.Config `json:"camera"`
	Stage     Stage         `json:"stage"`
	Autofocus Autofocus     `json:"autofocus"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Port int `json:"port"`
}

// Stage selects and tunes the stage driver.
type Stage struct {
	// Type is "sim" or "sanga".
	Type string `json:"type"`

	// Port is the serial device for the sanga driver, e.g. /dev/ttyUSB0.
	Port string `json:"port"`

	// StepsPerSecond and Backlash tune the simulated stage.
	StepsPerSecond float64 `json:"steps_per_second"`
	Backlash       int     `json:"backlash"`
}

// Autofocus holds the stock sweep parameters handed to focus runs that do
// not override them.
type Autofocus struct {
	// Range is the z distance covered by the continuous sweeps, in steps.
	Range int `json:"range"`

	// Backlash is the feedback sweep's undershoot margin, in steps.
	Backlash int `json:"backlash"`

	// SettleMS is the discrete sweep's per-step settle time.
	SettleMS int `json:"settle_ms"`
}

// Default returns the stock settings.
func Default() Settings {
	return Settings{
		Server: Server{Port: DefaultPort},
		Camera: camera.DefaultConfig(),
		Stage: Stage{
			Type:           StageSim,
			StepsPerSecond: 20000,
			Backlash:       100,
		},
		Autofocus: Autofocus{
			Range:    2000,
			Backlash: 25,
			SettleMS: 500,
		},
	}
}

// Validate checks the settings, returning a list of problems or nil.
func (s *Settings) Validate() []string {
	var errs []string
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}
	if s.Stage.Type != StageSim && s.Stage.Type != StageSanga {
		errs = append(errs, fmt.Sprintf("stage type must be %q or %q", StageSim, StageSanga))
	}
	if s.Stage.Type == StageSanga && s.Stage.Port == "" {
		errs = append(errs, "sanga stage needs a serial port")
	}
	if s.Autofocus.Range < 1 {
		errs = append(errs, "autofocus range must be positive")
	}
	errs = append(errs, s.Camera.Validate()...)
	return errs
}

// Load reads settings from path. A missing file is initialised with the
// defaults and is not an error; any other read or decode failure is.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s := Default()
		log.Info("no settings file, writing defaults", "path", path)
		if err := s.Save(path); err != nil {
			return s, err
		}
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Decode over the defaults so fields absent from an older file keep
	// their stock values.
	s := Default()
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes the settings to path, keeping the previous file as a .bk
// backup. Parent directories are created as needed.
func (s Settings) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bk", prev, 0o644); err != nil {
			log.Warn("could not back up settings file", "path", path, "err", err)
		}
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// SettingsPath returns the settings file location: the MICROSCOPE_SETTINGS
// env var if set, otherwise the given fallback.
func SettingsPath(fallback string) string {
	if p := os.Getenv("MICROSCOPE_SETTINGS"); p != "" {
		return p
	}
	return fallback
}

// Port returns the listen port from the MICROSCOPE_PORT env var, falling
// back to the configured value. A malformed value is logged and ignored.
func Port(configured int) int {
	v := os.Getenv("MICROSCOPE_PORT")
	if v == "" {
		return configured
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		log.Warn("ignoring invalid MICROSCOPE_PORT", "value", v)
		return configured
	}
	return p
}
