package config

import (
	"testing"

	"github.com/5yncr/syncr/pkg/syncerr"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	original := Default(dir)
	original.Port = 4000

	if err := original.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.CentralDir != original.CentralDir {
		t.Errorf("central dir mismatch: got %q want %q", loaded.CentralDir, original.CentralDir)
	}
	if loaded.Backend != original.Backend {
		t.Errorf("backend mismatch: got %q want %q", loaded.Backend, original.Backend)
	}
	if loaded.Port != 4000 {
		t.Errorf("port mismatch: got %d want 4000", loaded.Port)
	}
	if loaded.ChunkSize != original.ChunkSize {
		t.Errorf("chunk size mismatch: got %d want %d", loaded.ChunkSize, original.ChunkSize)
	}
}

func TestLoadMissingFileReturnsMissingConfig(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	if !syncerr.Is(err, syncerr.KindMissingConfig) {
		t.Fatalf("expected KindMissingConfig, got %v", err)
	}
}

func TestValidateRejectsEmptyCentralDir(t *testing.T) {
	cfg := Default("")
	if err := cfg.Validate(); !syncerr.Is(err, syncerr.KindIncompleteConfig) {
		t.Fatalf("expected KindIncompleteConfig, got %v", err)
	}
}

func TestValidateRejectsMissingTrackerAddress(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.TrackerHost = ""

	if err := cfg.Validate(); !syncerr.Is(err, syncerr.KindIncompleteConfig) {
		t.Fatalf("expected KindIncompleteConfig, got %v", err)
	}
}

func TestValidateRejectsUnsupportedBackend(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Backend = Backend("carrier-pigeon")

	if err := cfg.Validate(); !syncerr.Is(err, syncerr.KindUnsupportedOption) {
		t.Fatalf("expected KindUnsupportedOption, got %v", err)
	}
}

func TestValidateAcceptsDHTBackendWithoutTrackerFields(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Backend = BackendDHT
	cfg.TrackerHost = ""
	cfg.TrackerPort = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected dht backend to validate without tracker fields, got %v", err)
	}
}
