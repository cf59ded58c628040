package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/5yncr/syncr/pkg/syncerr"
)

// PKS/DPS backend config file names under the node-init directory,
// grounded on original_source's DEFAULT_PKS_CONFIG_FILE/
// DEFAULT_DPS_CONFIG_FILE (syncr_backend/constants.py) and its
// make_tracker_configs/make_dht_configs bin scripts.
const (
	PKSConfigFileName = "pks_config.json"
	DPSConfigFileName = "dps_config.json"
)

// BackendConfig is the JSON shape written under the node-init directory to
// select and parameterize a discovery backend, mirroring
// original_source's `{'type': ..., ...}` config dict.
type BackendConfig struct {
	Type string `json:"type"`

	// Tracker backend fields.
	IP   string `json:"ip,omitempty"`
	Port int    `json:"port,omitempty"`

	// DHT backend fields.
	BootstrapIPs   []string `json:"bootstrap_ips,omitempty"`
	BootstrapPorts []int    `json:"bootstrap_ports,omitempty"`
	ListenPort     int      `json:"listen_port,omitempty"`
}

// TrackerBackendConfig builds the config written by make_tracker_configs.
func TrackerBackendConfig(ip string, port int) BackendConfig {
	return BackendConfig{Type: "tracker", IP: ip, Port: port}
}

// DHTBackendConfig builds the config written by make_dht_configs.
func DHTBackendConfig(bootstrapIPs []string, bootstrapPorts []int, listenPort int) BackendConfig {
	return BackendConfig{
		Type:           "dht",
		BootstrapIPs:   bootstrapIPs,
		BootstrapPorts: bootstrapPorts,
		ListenPort:     listenPort,
	}
}

// WriteDefaultConfigs writes cfg to both the PKS and DPS config file under
// dir, exactly as original_source's make_tracker_configs/make_dht_configs
// write the same config dict to both files.
func WriteDefaultConfigs(dir string, cfg BackendConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("discovery: marshal backend config: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("discovery: create central directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PKSConfigFileName), data, 0600); err != nil {
		return fmt.Errorf("discovery: write pks config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DPSConfigFileName), data, 0600); err != nil {
		return fmt.Errorf("discovery: write dps config: %w", err)
	}
	return nil
}

// LoadDPSConfig reads the DPS backend config under dir.
func LoadDPSConfig(dir string) (*BackendConfig, error) {
	return loadBackendConfig(filepath.Join(dir, DPSConfigFileName))
}

// LoadPKSConfig reads the PKS backend config under dir.
func LoadPKSConfig(dir string) (*BackendConfig, error) {
	return loadBackendConfig(filepath.Join(dir, PKSConfigFileName))
}

func loadBackendConfig(path string) (*BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syncerr.New(syncerr.KindMissingConfig, "no backend config at "+path, err)
		}
		return nil, fmt.Errorf("discovery: read backend config: %w", err)
	}
	var cfg BackendConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("discovery: unmarshal backend config: %w", err)
	}
	if cfg.Type != "tracker" && cfg.Type != "dht" {
		return nil, syncerr.New(syncerr.KindUnsupportedOption, "unsupported backend config type "+cfg.Type, nil)
	}
	return &cfg, nil
}
