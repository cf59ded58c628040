// Package config loads and saves the node-init directory's JSON config
// file (spec §1.3, §6.6): central directory path, discovery backend
// choice, chunk size and concurrency bounds.
//
// Grounded on the teacher's identity.SaveToFile/LoadFromFile JSON
// persistence (pkg/identity/identity.go), generalized from an identity
// record to the node's own runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// Backend identifies which discovery backend a node is configured to
// talk to (spec §4.4 "tracker and DHT backends").
type Backend string

const (
	BackendTracker Backend = "tracker"
	BackendDHT     Backend = "dht"
)

// FileName is the config file's name inside the node-init directory.
const FileName = "config.json"

// DefaultCentralDirName is the node-init directory spec §6.6 defaults to,
// relative to the user's home directory.
const DefaultCentralDirName = ".5yncr"

// Config is a node's persisted runtime configuration.
type Config struct {
	// CentralDir is the node-init directory holding the private key,
	// public-key cache, DPS/PKS config, drop registry and IPC socket.
	CentralDir string `json:"central_dir"`

	// Backend selects the discovery backend this node talks to.
	Backend Backend `json:"backend"`

	// TrackerHost/TrackerPort address the tracker backend (spec §6.4),
	// populated only when Backend == BackendTracker.
	TrackerHost string `json:"tracker_host,omitempty"`
	TrackerPort int    `json:"tracker_port,omitempty"`

	// Port is the node's local port, written as constants.DefaultPort by
	// Default. run_backend does not read it: it listens on the ip and port
	// given on its command line.
	Port int `json:"port"`

	// ChunkSize is persisted and must be positive to pass Validate. New drop
	// versions do not read it: they are chunked with
	// constants.DefaultChunkSize.
	ChunkSize int64 `json:"chunk_size"`

	// MaxConcurrentFileDownloads/MaxConcurrentChunkDownloads are persisted
	// only. The sync orchestrator does not read them and always bounds its
	// pools with the matching values in pkg/constants.
	MaxConcurrentFileDownloads  int `json:"max_concurrent_file_downloads"`
	MaxConcurrentChunkDownloads int `json:"max_concurrent_chunk_downloads"`
}

// Default returns the configuration a fresh node_init writes, rooted at
// dir (spec §6.6's "default: ~/.5yncr").
func Default(dir string) *Config {
	return &Config{
		CentralDir:                  dir,
		Backend:                     BackendTracker,
		TrackerHost:                 "127.0.0.1",
		TrackerPort:                 constants.DefaultPort,
		Port:                        constants.DefaultPort,
		ChunkSize:                   constants.DefaultChunkSize,
		MaxConcurrentFileDownloads:  constants.MaxConcurrentFileDownloads,
		MaxConcurrentChunkDownloads: constants.MaxConcurrentChunkDownloads,
	}
}

// DefaultCentralDir resolves the default node-init directory under the
// user's home directory.
func DefaultCentralDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultCentralDirName), nil
}

// path returns the config file's path inside dir.
func path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Save writes cfg as indented JSON under dir, creating dir if needed
// (spec §6.6, mirroring the teacher's restrictive file permissions).
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create central directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path(dir), data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// Load reads and validates the config file under dir. A missing file
// surfaces as syncerr.KindMissingConfig; a config file present but
// lacking required fields surfaces as syncerr.KindIncompleteConfig.
func Load(dir string) (*Config, error) {
	data, err := os.ReadFile(path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syncerr.New(syncerr.KindMissingConfig, "no config file under "+dir, err)
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg carries everything its backend choice needs
// (spec §1.3), failing with syncerr.KindIncompleteConfig or
// syncerr.KindUnsupportedOption.
func (c *Config) Validate() error {
	if c.CentralDir == "" {
		return syncerr.New(syncerr.KindIncompleteConfig, "central_dir is required", nil)
	}
	if c.ChunkSize <= 0 {
		return syncerr.New(syncerr.KindIncompleteConfig, "chunk_size must be positive", nil)
	}

	switch c.Backend {
	case BackendTracker:
		if c.TrackerHost == "" || c.TrackerPort == 0 {
			return syncerr.New(syncerr.KindIncompleteConfig, "tracker_host and tracker_port are required for the tracker backend", nil)
		}
	case BackendDHT:
		// The DHT backend is handed a live discovery.DHT by the caller;
		// no address fields of its own to validate here.
	default:
		return syncerr.New(syncerr.KindUnsupportedOption, fmt.Sprintf("unsupported discovery backend %q", c.Backend), nil)
	}
	return nil
}
