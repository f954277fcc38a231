// Package config loads the device configuration from TOML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	EnvStorageRoot = "DEVCTL_STORAGE_ROOT"
	EnvListenAddr  = "DEVCTL_LISTEN_ADDR"
	EnvAdminAddr   = "DEVCTL_ADMIN_ADDR"

	// MaxChunkLimit caps max_chunk_bytes.
	MaxChunkLimit = 16 << 20
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type DeviceConfig struct {
	ID            string
	StorageRoot   string
	ListenAddr    string
	AdminAddr     string
	CorsOrigins   []string
	BootScript    string
	QueueDepth    int
	MaxChunkBytes uint32
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		ID:            "dev.local",
		StorageRoot:   "local/data",
		ListenAddr:    "127.0.0.1:7070",
		QueueDepth:    64,
		MaxChunkBytes: 64 * 1024,
	}
}

type fileConfig struct {
	ID            string   `toml:"id"`
	StorageRoot   string   `toml:"storage_root"`
	ListenAddr    string   `toml:"listen_addr"`
	AdminAddr     string   `toml:"admin_addr"`
	CorsOrigins   []string `toml:"cors_origins"`
	BootScript    string   `toml:"boot_script"`
	QueueDepth    int      `toml:"queue_depth"`
	MaxChunkBytes int64    `toml:"max_chunk_bytes"`
}

// Load reads path over the defaults, applies environment overrides, and
// validates. An empty path skips the file.
func Load(path string) (DeviceConfig, error) {
	cfg := DefaultDeviceConfig()
	if path != "" {
		var err error
		if cfg, err = decodeFile(path, cfg); err != nil {
			return DeviceConfig{}, err
		}
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg DeviceConfig) (DeviceConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("load device config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return DeviceConfig{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("storage_root") {
		cfg.StorageRoot = strings.TrimSpace(raw.StorageRoot)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("boot_script") {
		cfg.BootScript = strings.TrimSpace(raw.BootScript)
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("max_chunk_bytes") {
		if raw.MaxChunkBytes <= 0 || raw.MaxChunkBytes > MaxChunkLimit {
			return DeviceConfig{}, fmt.Errorf("%w: max_chunk_bytes %d out of range", ErrInvalidConfig, raw.MaxChunkBytes)
		}
		cfg.MaxChunkBytes = uint32(raw.MaxChunkBytes)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *DeviceConfig) {
	if v, ok := os.LookupEnv(EnvStorageRoot); ok {
		cfg.StorageRoot = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvListenAddr); ok {
		cfg.ListenAddr = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvAdminAddr); ok {
		cfg.AdminAddr = strings.TrimSpace(v)
	}
}

func Validate(cfg DeviceConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if cfg.StorageRoot == "" {
		return fmt.Errorf("%w: storage_root is required", ErrInvalidConfig)
	}
	if err := validateAddr("listen_addr", cfg.ListenAddr); err != nil {
		return err
	}
	if cfg.AdminAddr != "" {
		if err := validateAddr("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
	}
	if cfg.BootScript != "" && (filepath.IsAbs(cfg.BootScript) || strings.HasPrefix(filepath.Clean(cfg.BootScript), "..")) {
		return fmt.Errorf("%w: boot_script must be relative to storage_root: %s", ErrInvalidConfig, cfg.BootScript)
	}
	if cfg.QueueDepth <= 0 {
		return fmt.Errorf("%w: queue_depth must be positive: %d", ErrInvalidConfig, cfg.QueueDepth)
	}
	if cfg.MaxChunkBytes == 0 || cfg.MaxChunkBytes > MaxChunkLimit {
		return fmt.Errorf("%w: max_chunk_bytes %d out of range", ErrInvalidConfig, cfg.MaxChunkBytes)
	}
	return nil
}

func validateAddr(key, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, key, addr, err)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
