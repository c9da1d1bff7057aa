// Package config reads and writes JSON connection profiles.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ooni/esptls/internal/model"
	"github.com/pkg/errors"
)

// CurrentVersion is the version of the profile format.
const CurrentVersion = 1

// ReadConfig reads the profile from the path
func ReadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c, err := ParseConfig(b)
	if err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	c.path = path
	c.dir = filepath.Dir(path)
	return c, nil
}

// ParseConfig returns a profile from JSON bytes.
func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}

	if err := json.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "parsing json")
	}

	if err := c.Default(); err != nil {
		return nil, errors.Wrap(err, "defaulting")
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating")
	}

	return c, nil
}

// Config is a connection profile
type Config struct {
	Comment string `json:"_"`
	Version int64  `json:"_version"`

	TLS     TLS     `json:"tls"`
	Network Network `json:"network"`
	Server  Server  `json:"server"`

	dir   string
	mutex sync.Mutex
	path  string
}

// Default returns a new profile with default settings.
func Default() *Config {
	c := &Config{}
	c.Default()
	return c
}

// Write the profile in json to the path
func (c *Config) Write(path string) error {
	c.Lock()
	defer c.Unlock()
	if path == "" {
		path = c.path
	}
	if path == "" {
		return errors.New("config file path is empty")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling config JSON")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "writing config JSON")
	}
	c.path = path
	c.dir = filepath.Dir(path)
	return nil
}

// Lock acquires the write mutex
func (c *Config) Lock() {
	c.mutex.Lock()
}

// Unlock releases the write mutex
func (c *Config) Unlock() {
	c.mutex.Unlock()
}

// Path returns the path the profile was read from or written to.
func (c *Config) Path() string {
	return c.path
}

// Default fills the unset settings
func (c *Config) Default() error {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	if c.Network.AddrFamily == "" {
		c.Network.AddrFamily = "unspec"
	}
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8443"
	}
	if c.Server.Metrics == "" {
		c.Server.Metrics = "127.0.0.1:9091"
	}
	return nil
}

// ErrUnsupportedVersion indicates a profile written by a newer version.
var ErrUnsupportedVersion = errors.New("unsupported profile version")

// Validate the profile
func (c *Config) Validate() error {
	if c.Version > CurrentVersion {
		return errors.Wrapf(ErrUnsupportedVersion, "version %d", c.Version)
	}
	if _, err := c.Network.family(); err != nil {
		return err
	}
	if c.Network.TimeoutMS < -1 {
		return errors.Errorf("invalid timeout_ms: %d", c.Network.TimeoutMS)
	}
	if ka := c.Network.KeepAlive; ka != nil && (ka.IdleSeconds < 0 || ka.IntervalSeconds < 0 || ka.Count < 0) {
		return errors.New("keep_alive values must not be negative")
	}
	if (c.TLS.ClientCert == "") != (c.TLS.ClientKey == "") {
		return errors.New("client_cert and client_key must be set together")
	}
	for _, proto := range c.TLS.ALPN {
		if proto == "" || len(proto) > 255 {
			return errors.Errorf("invalid alpn protocol: %q", proto)
		}
	}
	return nil
}

// resolve returns path relative to the profile directory.
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// readFile reads the optional file at path.
func (c *Config) readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.resolve(path))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}

// GlobalStoreData returns the contents of the files to add to the global CA store.
func (c *Config) GlobalStoreData(logger model.Logger) ([][]byte, error) {
	var out [][]byte
	for _, path := range c.TLS.GlobalStore {
		data, err := c.readFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debugf("config: global store file %s: %d bytes", path, len(data))
		out = append(out, data)
	}
	return out, nil
}
