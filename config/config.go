// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

// Package config holds the defaults for encryption and prompting and reads
// them from an optional YAML file.
//
// An example file:
//
//	mode: chacha20-aes
//	kdf: argon2id
//	strength: medium
//	chunk_size: 1024
//	confirm_timeout: 10s
//	quiet: false
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/w33zl3p00tch/sesame/container"
)

// EnvVar names the environment variable that points to a config file.
const EnvVar = "SESAME_CONFIG"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config carries everything that can be set in the config file. Flags
// override it field by field.
type Config struct {
	Mode           string        `yaml:"mode"`
	KDF            string        `yaml:"kdf"`
	Strength       string        `yaml:"strength"`
	ChunkSize      int64         `yaml:"chunk_size"` // KiB
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	Quiet          bool          `yaml:"quiet"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Mode:           container.ModeAES.String(),
		KDF:            container.KDFScrypt.String(),
		Strength:       string(container.StrengthDefault),
		ChunkSize:      container.DefaultChunkSize / 1024,
		ConfirmTimeout: 5 * time.Second,
	}
}

// DefaultPath is the file read when neither a flag nor EnvVar names one.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sesame", "config.yaml")
}

// Resolve loads the config file named by explicit, else by EnvVar, else
// DefaultPath. Only a missing default file is silently ignored.
func Resolve(explicit string, getenv func(string) string) (Config, error) {
	path, required := explicit, true
	if path == "" && getenv != nil {
		path = getenv(EnvVar)
	}
	if path == "" {
		path, required = DefaultPath(), false
	}
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if !required && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field without deriving anything.
func (c Config) Validate() error {
	_, err := c.Params()
	if err != nil {
		return err
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("%w: confirm_timeout must be positive, got %s", ErrInvalid, c.ConfirmTimeout)
	}
	return nil
}

// Params translates the settings into container parameters.
func (c Config) Params() (container.Params, error) {
	mode, err := container.ParseMode(c.Mode)
	if err != nil {
		return container.Params{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	kdf := container.KDFNone
	if mode != container.ModeAge {
		if kdf, err = container.ParseKDF(c.KDF); err != nil {
			return container.Params{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	p, err := container.NewParams(mode, kdf, container.Strength(c.Strength))
	if err != nil {
		return container.Params{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.ChunkSize < 1 || c.ChunkSize > container.MaxChunkSize/1024 {
		return container.Params{}, fmt.Errorf("%w: chunk_size must be between 1 and %d KiB",
			ErrInvalid, container.MaxChunkSize/1024)
	}
	p.ChunkSize = int(c.ChunkSize * 1024)
	return p, nil
}
