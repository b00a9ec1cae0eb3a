package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morsekob/gokob/internal/morse"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gokob.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
station = "GO, Test Office"
wire = 109
server = "127.0.0.1:7890"

[morse]
system = "international"
text_speed = 18
char_speed = 25
spacing = "char"

[instrument]
backend = "virtual"
sound_local = true

[status]
addr = ":8750"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Station != "GO, Test Office" || cfg.Wire != 109 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.System() != morse.International {
		t.Fatalf("system = %v", cfg.System())
	}
	if cfg.Spacing() != morse.SpacingChar {
		t.Fatalf("spacing = %v", cfg.Spacing())
	}
	if !cfg.Instrument.SoundLocal || cfg.Instrument.Backend != "virtual" {
		t.Fatalf("instrument = %+v", cfg.Instrument)
	}
	if cfg.Status.Addr != ":8750" {
		t.Fatalf("status = %+v", cfg.Status)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `station = "GO, Test"`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wire != 0 {
		t.Fatalf("wire = %d, want 0 (local only)", cfg.Wire)
	}
	if cfg.Server == "" || cfg.Morse.TextSpeed != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.System() != morse.American {
		t.Fatalf("default system = %v, want american", cfg.System())
	}
	if cfg.Instrument.Backend != "null" {
		t.Fatalf("default backend = %q", cfg.Instrument.Backend)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"negative wire", `wire = -1`, "wire"},
		{"wire without station", `wire = 109`, "station"},
		{"unknown system", "[morse]\nsystem = \"continental\"", "symbol system"},
		{"speed too low", "station = \"X\"\n[morse]\ntext_speed = -2", "text_speed"},
		{"speed too high", "station = \"X\"\n[morse]\ntext_speed = 70", "text_speed"},
		{"char below text", "station = \"X\"\n[morse]\ntext_speed = 25\nchar_speed = 15", "char_speed"},
		{"bad spacing", "station = \"X\"\n[morse]\nspacing = \"everywhere\"", "spacing"},
		{"bad backend", "station = \"X\"\n[instrument]\nbackend = \"pigeon\"", "backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("Load accepted %q", tc.body)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
}
