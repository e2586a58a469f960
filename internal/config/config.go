// Package config holds the explicit upload configuration S4PP sessions
// are built from, plus a guarded process-wide default for CLI
// convenience.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

// ErrUploadInProgress is returned by SetDefault while an upload is using
// the default config: it may only be updated while no upload is active.
var ErrUploadInProgress = errors.New("config: cannot update default config while an upload is active")

// Config is the explicit configuration passed to an upload.
type Config struct {
	Server    string `toml:"server"`
	Port      int    `toml:"port"`
	Secure    bool   `toml:"secure"`
	User      string `toml:"user"`
	Key       []byte `toml:"-"`
	KeyHex    string `toml:"key"`
	// BatchSize caps samples per sequence. 0 means use the server's
	// advertised max_samples unchanged; a positive value tightens that
	// cap to min(max_samples, BatchSize).
	BatchSize int `toml:"batchsize"`
}

// Validate rejects a missing user, key, or server synchronously,
// before any connection attempt.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("config: missing server")
	}
	if c.User == "" {
		return fmt.Errorf("config: missing user")
	}
	if len(c.Key) == 0 {
		return fmt.Errorf("config: missing key")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	return nil
}

// LoadTOML reads a Config from a TOML file, grounded on sergev-fdx/floppy's
// on-disk tool configuration loaded the same way. The key is stored on
// disk as hex, matching the hex digests used throughout the wire protocol.
func LoadTOML(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	key, err := hex.DecodeString(c.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: key is not valid hex: %w", err)
	}
	c.Key = key
	return &c, nil
}

var (
	defaultMu       sync.Mutex
	defaultCfg      *Config
	uploadsInFlight int32
)

// Default returns the process-wide default configuration, or nil if none
// has been set.
func Default() *Config {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultCfg
}

// SetDefault installs cfg as the process-wide default, refusing while an
// upload using the previous default is in flight.
func SetDefault(cfg *Config) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if atomic.LoadInt32(&uploadsInFlight) != 0 {
		return ErrUploadInProgress
	}
	defaultCfg = cfg
	return nil
}

// BeginUpload marks the default configuration as in use; callers of
// Default() that start an upload should call this, and EndUpload when it
// finishes.
func BeginUpload() { atomic.AddInt32(&uploadsInFlight, 1) }

// EndUpload releases a BeginUpload mark.
func EndUpload() { atomic.AddInt32(&uploadsInFlight, -1) }
