// Package config loads and validates the station configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morsekob/gokob/internal/morse"
	"github.com/morsekob/gokob/internal/wire"
)

// Config is the full station configuration.
type Config struct {
	// Station is the office identity announced on the wire,
	// conventionally "XX, Place" like "GO, Chicago".
	Station string `toml:"station"`
	// Wire is the wire number to join; zero means operate locally only.
	Wire int `toml:"wire"`
	// Server is the KOB hub address as host:port.
	Server string `toml:"server"`

	Morse      MorseConfig      `toml:"morse"`
	Instrument InstrumentConfig `toml:"instrument"`
	Status     StatusConfig     `toml:"status"`
}

type MorseConfig struct {
	// System selects the symbol system: "american" or "international".
	System string `toml:"system"`
	// TextSpeed is the overall words per minute.
	TextSpeed int `toml:"text_speed"`
	// CharSpeed is the Farnsworth character speed; zero means TextSpeed.
	CharSpeed int `toml:"char_speed"`
	// Spacing is where Farnsworth stretch goes: "none", "char" or "word".
	Spacing string `toml:"spacing"`
}

type InstrumentConfig struct {
	// Backend selects the instrument driver: "null" or "virtual".
	Backend string `toml:"backend"`
	// SoundLocal plays locally sent code through the sounder.
	SoundLocal bool `toml:"sound_local"`
	// NoKeyCloser disables circuit-closer detection on the key.
	NoKeyCloser bool `toml:"no_key_closer"`
}

type StatusConfig struct {
	// Addr is the status/metrics HTTP listen address; empty disables it.
	Addr string `toml:"addr"`
}

// Load reads path, fills defaults and validates.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a ready-to-run local-only configuration.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Server == "" {
		c.Server = wire.DefaultServer
	}
	if c.Morse.System == "" {
		c.Morse.System = "american"
	}
	if c.Morse.TextSpeed == 0 {
		c.Morse.TextSpeed = 20
	}
	if c.Morse.Spacing == "" {
		c.Morse.Spacing = "none"
	}
	if c.Instrument.Backend == "" {
		c.Instrument.Backend = "null"
	}
}

func (c Config) Validate() error {
	if c.Wire < 0 {
		return fmt.Errorf("config: wire must not be negative, got %d", c.Wire)
	}
	if c.Wire > 0 && strings.TrimSpace(c.Station) == "" {
		return fmt.Errorf("config: station is required to join wire %d", c.Wire)
	}
	if strings.TrimSpace(c.Server) == "" {
		return fmt.Errorf("config: server must not be empty")
	}
	if _, err := morse.ParseSymbolSystem(c.Morse.System); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := morse.ParseSpacing(c.Morse.Spacing); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Morse.TextSpeed < 1 || c.Morse.TextSpeed > 50 {
		return fmt.Errorf("config: text_speed %d outside 1..50", c.Morse.TextSpeed)
	}
	if c.Morse.CharSpeed != 0 {
		if c.Morse.CharSpeed < 1 || c.Morse.CharSpeed > 50 {
			return fmt.Errorf("config: char_speed %d outside 1..50", c.Morse.CharSpeed)
		}
		if c.Morse.CharSpeed < c.Morse.TextSpeed {
			return fmt.Errorf("config: char_speed %d below text_speed %d",
				c.Morse.CharSpeed, c.Morse.TextSpeed)
		}
	}
	switch c.Instrument.Backend {
	case "null", "virtual":
	default:
		return fmt.Errorf("config: unknown instrument backend %q", c.Instrument.Backend)
	}
	return nil
}

// System returns the parsed symbol system. Call after Validate.
func (c Config) System() morse.SymbolSystem {
	s, _ := morse.ParseSymbolSystem(c.Morse.System)
	return s
}

// Spacing returns the parsed Farnsworth spacing mode. Call after Validate.
func (c Config) Spacing() morse.Spacing {
	s, _ := morse.ParseSpacing(c.Morse.Spacing)
	return s
}
