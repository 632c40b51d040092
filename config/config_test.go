package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.App.ListenPort != 8000 || cfg.App.BrokerPort != 12002 || cfg.App.Prefix != "/mlr" {
		t.Fatalf("unexpected app defaults: %+v", cfg.App)
	}
	if !cfg.Quantize.Enabled || cfg.Quantize.Division != 8 {
		t.Fatalf("unexpected quantize defaults: %+v", cfg.Quantize)
	}
	if cfg.Link.HandshakeTimeout.Duration() != 750*time.Millisecond {
		t.Fatalf("unexpected handshake timeout: %v", cfg.Link.HandshakeTimeout.Duration())
	}
}

func TestLoad_CorruptFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("corrupt file should not error: %v", err)
	}
	if cfg.Engine.Strips != 7 {
		t.Fatalf("corrupt file should fall back to defaults, got %+v", cfg.Engine)
	}
}

func TestLoad_NormalizesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
link:
  rotation: 123
quantize:
  enabled: true
  division: 7
  scratch_hold_threshold: -2
engine:
  strips: 0
  tempo: -4
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Link.Rotation != 90 {
		t.Fatalf("rotation 123 should truncate to 90, got %d", cfg.Link.Rotation)
	}
	if cfg.Quantize.Division != 6 {
		t.Fatalf("division 7 should snap to 6, got %d", cfg.Quantize.Division)
	}
	if cfg.Quantize.ScratchHoldThreshold != 1 {
		t.Fatalf("threshold floor not applied, got %d", cfg.Quantize.ScratchHoldThreshold)
	}
	if cfg.Engine.Strips != 7 || cfg.Engine.Tempo != 120 {
		t.Fatalf("engine values not normalized: %+v", cfg.Engine)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.App.ListenPort = 9100
	cfg.Link.ConnectionTimeout = Duration(7 * time.Second)
	cfg.Engine.Groups = []int{0, 0, 1, -1}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.App.ListenPort != 9100 {
		t.Fatalf("listen port lost in round trip: %d", loaded.App.ListenPort)
	}
	if loaded.Link.ConnectionTimeout.Duration() != 7*time.Second {
		t.Fatalf("duration lost in round trip: %v", loaded.Link.ConnectionTimeout.Duration())
	}
	if len(loaded.Engine.Groups) != 4 || loaded.Engine.Groups[3] != -1 {
		t.Fatalf("groups lost in round trip: %v", loaded.Engine.Groups)
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0}, {90, 90}, {180, 180}, {270, 270},
		{45, 0}, {91, 90}, {359, 270}, {360, 0}, {450, 90}, {-90, 0},
	}
	for _, c := range cases {
		if got := NormalizeRotation(c.in); got != c.want {
			t.Fatalf("rotation %d: expected %d, got %d", c.in, c.want, got)
		}
	}
}
