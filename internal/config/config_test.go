package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s != Default() {
		t.Errorf("settings = %+v, want defaults", s)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not written to disk: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s := Default()
	s.Server.Port = 9090
	s.Stage.Type = StageSanga
	s.Stage.Port = "/dev/ttyUSB0"
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != s {
		t.Errorf("loaded %+v, want %+v", got, s)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"server":{"port":8080}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080 from file", s.Server.Port)
	}
	if s.Autofocus.Range != Default().Autofocus.Range {
		t.Errorf("autofocus range = %d, want default for absent field", s.Autofocus.Range)
	}
}

func TestSaveBacksUpPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s := Default()
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Server.Port = 7000
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(path + ".bk"); err != nil {
		t.Errorf("no backup written: %v", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed settings")
	}
}

func TestValidate(t *testing.T) {
	s := Default()
	if errs := s.Validate(); errs != nil {
		t.Errorf("defaults invalid: %v", errs)
	}

	s.Server.Port = -1
	s.Stage.Type = "warp"
	s.Autofocus.Range = 0
	errs := s.Validate()
	if len(errs) != 3 {
		t.Errorf("got %d problems (%v), want 3", len(errs), errs)
	}
}

func TestPortEnvOverride(t *testing.T) {
	t.Setenv("MICROSCOPE_PORT", "6060")
	if p := Port(5000); p != 6060 {
		t.Errorf("port = %d, want env override 6060", p)
	}

	t.Setenv("MICROSCOPE_PORT", "nope")
	if p := Port(5000); p != 5000 {
		t.Errorf("port = %d, want configured fallback for junk env", p)
	}
}

func TestSettingsPath(t *testing.T) {
	t.Setenv("MICROSCOPE_SETTINGS", "")
	if p := SettingsPath("fallback.json"); p != "fallback.json" {
		t.Errorf("path = %q, want fallback", p)
	}
	t.Setenv("MICROSCOPE_SETTINGS", "/etc/scope.json")
	if p := SettingsPath("fallback.json"); p != "/etc/scope.json" {
		t.Errorf("path = %q, want env value", p)
	}
}
