package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	App      AppConfig      `yaml:"app"`
	Link     LinkConfig     `yaml:"link"`
	Quantize QuantizeConfig `yaml:"quantize"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
	UI       UIConfig       `yaml:"ui"`
}

// AppConfig contains the local endpoint and the discovery broker address
type AppConfig struct {
	ListenPort int    `yaml:"listen_port"` // receiver bind port (probes +1..+31 on failure)
	BrokerHost string `yaml:"broker_host"`
	BrokerPort int    `yaml:"broker_port"`
	Prefix     string `yaml:"prefix"` // message prefix declared to the device
}

// LinkConfig contains the connection state machine timing knobs
type LinkConfig struct {
	DiscoveryInterval    Duration `yaml:"discovery_interval"`
	ReconnectInterval    Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	HandshakeTimeout     Duration `yaml:"handshake_timeout"`
	ConnectionTimeout    Duration `yaml:"connection_timeout"`
	PingInterval         Duration `yaml:"ping_interval"`
	LedFlushInterval     Duration `yaml:"led_flush_interval"`
	Rotation             int      `yaml:"rotation"` // normalized to 0/90/180/270
}

// QuantizeConfig contains trigger quantization settings
type QuantizeConfig struct {
	Enabled  bool `yaml:"enabled"`
	Division int  `yaml:"division"` // bar subdivisions: 1,2,3,4,6,8,12,16,24,32

	// Hold-scratch bypass: a strip held at least this many presses deep with
	// a non-zero scratch amount triggers immediately instead of on the grid.
	// Tunable heuristic, not a load-bearing constant.
	ScratchHoldThreshold int `yaml:"scratch_hold_threshold"`
}

// EngineConfig contains the playback engine dimensions
type EngineConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	BlockSize  int     `yaml:"block_size"`
	Tempo      float64 `yaml:"tempo"`
	Strips     int     `yaml:"strips"`
	Groups     []int   `yaml:"groups,omitempty"` // per-strip mute group, -1 = none
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// UIConfig contains terminal monitor settings
type UIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		App: AppConfig{
			ListenPort: 8000,
			BrokerHost: "127.0.0.1",
			BrokerPort: 12002,
			Prefix:     "/mlr",
		},
		Link: LinkConfig{
			DiscoveryInterval:    Duration(time.Second),
			ReconnectInterval:    Duration(2 * time.Second),
			MaxReconnectAttempts: 5,
			HandshakeTimeout:     Duration(750 * time.Millisecond),
			ConnectionTimeout:    Duration(5 * time.Second),
			PingInterval:         Duration(time.Second),
			LedFlushInterval:     Duration(100 * time.Millisecond),
			Rotation:             0,
		},
		Quantize: QuantizeConfig{
			Enabled:              true,
			Division:             8,
			ScratchHoldThreshold: 1,
		},
		Engine: EngineConfig{
			SampleRate: 44100,
			BlockSize:  512,
			Tempo:      120,
			Strips:     7,
		},
		Log: LogConfig{
			Level:  "info",
			Colors: true,
		},
		UI: UIConfig{
			Enabled: true,
		},
	}
}

// Load reads the config from disk. A missing or corrupt file yields
// defaults rather than an error so a broken config never blocks startup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		cfg.normalize()
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		fresh := Default()
		fresh.normalize()
		return fresh, nil
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// normalize clamps out-of-range values into their legal domains
func (c *Config) normalize() {
	c.Link.Rotation = NormalizeRotation(c.Link.Rotation)
	c.Quantize.Division = ClampDivision(c.Quantize.Division)
	if c.Quantize.ScratchHoldThreshold < 1 {
		c.Quantize.ScratchHoldThreshold = 1
	}
	if c.Engine.Strips <= 0 {
		c.Engine.Strips = 7
	}
	if c.Engine.SampleRate <= 0 {
		c.Engine.SampleRate = 44100
	}
	if c.Engine.BlockSize <= 0 {
		c.Engine.BlockSize = 512
	}
	if c.Engine.Tempo <= 0 {
		c.Engine.Tempo = 120
	}
}

// NormalizeRotation truncates a rotation to the multiple of 90 below it,
// within 0..270. Negative values clamp to 0.
func NormalizeRotation(deg int) int {
	if deg < 0 {
		return 0
	}
	return (deg % 360) / 90 * 90
}

// divisions are the legal bar subdivisions for the quantization grid
var divisions = []int{1, 2, 3, 4, 6, 8, 12, 16, 24, 32}

// ClampDivision snaps a division count to the nearest legal value
func ClampDivision(div int) int {
	best := divisions[0]
	bestDist := abs(div - best)
	for _, d := range divisions[1:] {
		if dist := abs(div - d); dist < bestDist {
			bestDist = dist
			best = d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
