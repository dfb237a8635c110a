// Package config loads the avatar's tuning file. Every field has a working
// default; a missing file means "run with defaults", a malformed file is an
// error.
package config

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Vec3 is a yaml-friendly point that converts to the math type at the edge.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func (v Vec3) Vec() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Timing gathers every duration knob, in seconds on the logic clock.
type Timing struct {
	ThinkingDwell float64 `yaml:"thinking_dwell"`
	DefaultDwell  float64 `yaml:"default_dwell"`
	DoneDelay     float64 `yaml:"done_delay"`
	CharDelay     float64 `yaml:"char_delay"`
	RushDelay     float64 `yaml:"rush_delay"`
}

// Arms describes the two-bone arm geometry in rig space.
type Arms struct {
	UpperLen      float64 `yaml:"upper_len"`
	ForearmLen    float64 `yaml:"forearm_len"`
	LeftShoulder  Vec3    `yaml:"left_shoulder"`
	RightShoulder Vec3    `yaml:"right_shoulder"`
	LeftRest      Vec3    `yaml:"left_rest"`
	RightRest     Vec3    `yaml:"right_rest"`
	LeftPole      Vec3    `yaml:"left_pole"`
	RightPole     Vec3    `yaml:"right_pole"`
}

// Keyboard lays keys out in staggered rows from an origin, plus an explicit
// space bar. Row i sits at origin.Z + i*RowPitch, shifted right by
// RowStagger[i] when present.
type Keyboard struct {
	Origin     Vec3      `yaml:"origin"`
	KeyPitch   float64   `yaml:"key_pitch"`
	RowPitch   float64   `yaml:"row_pitch"`
	RowStagger []float64 `yaml:"row_stagger"`
	Rows       []string  `yaml:"rows"`
	Space      Vec3      `yaml:"space"`
}

// KeyPositions expands the row layout into world positions per rune.
func (k Keyboard) KeyPositions() map[rune]r3.Vec {
	keys := make(map[rune]r3.Vec)
	for row, letters := range k.Rows {
		stagger := 0.0
		if row < len(k.RowStagger) {
			stagger = k.RowStagger[row]
		}
		col := 0
		for _, ch := range letters {
			keys[ch] = r3.Vec{
				X: k.Origin.X + stagger + float64(col)*k.KeyPitch,
				Y: k.Origin.Y,
				Z: k.Origin.Z + float64(row)*k.RowPitch,
			}
			col++
		}
	}
	keys[' '] = k.Space.Vec()
	return keys
}

type Feed struct {
	Listen string `yaml:"listen"`
}

type Discord struct {
	ChannelID string `yaml:"channel_id"`
}

type Config struct {
	Author    string `yaml:"author"`
	ChannelID string `yaml:"channel_id"`
	StatePath string `yaml:"state_path"`

	LogicHz  int `yaml:"logic_hz"`
	RenderHz int `yaml:"render_hz"`

	Timing   Timing   `yaml:"timing"`
	Arms     Arms     `yaml:"arms"`
	Keyboard Keyboard `yaml:"keyboard"`

	EventFeed Feed    `yaml:"event_feed"`
	StateFeed Feed    `yaml:"state_feed"`
	Discord   Discord `yaml:"discord"`

	CameraPresets map[string]int `yaml:"camera_presets"`
}

// Default is the geometry and cadence the avatar was tuned at.
func Default() Config {
	return Config{
		Author:    "agent",
		ChannelID: "general",
		StatePath: "state",
		LogicHz:   30,
		RenderHz:  30,
		Timing: Timing{
			ThinkingDwell: 1.2,
			DefaultDwell:  0.45,
			DoneDelay:     2.5,
			CharDelay:     0.07,
			RushDelay:     0.018,
		},
		Arms: Arms{
			UpperLen:      0.30,
			ForearmLen:    0.26,
			LeftShoulder:  Vec3{X: -0.20, Y: 1.40},
			RightShoulder: Vec3{X: 0.20, Y: 1.40},
			LeftRest:      Vec3{X: -0.15, Y: 1.10, Z: 0.25},
			RightRest:     Vec3{X: 0.15, Y: 1.10, Z: 0.25},
			LeftPole:      Vec3{X: -0.40, Y: -0.60, Z: 0.40},
			RightPole:     Vec3{X: 0.40, Y: -0.60, Z: 0.40},
		},
		Keyboard: Keyboard{
			Origin:     Vec3{X: -0.19, Y: 1.00, Z: 0.28},
			KeyPitch:   0.019,
			RowPitch:   0.019,
			RowStagger: []float64{0, 0.009, 0.019},
			Rows: []string{
				"qwertyuiop",
				"asdfghjkl",
				"zxcvbnm",
			},
			Space: Vec3{X: 0.0, Y: 1.00, Z: 0.345},
		},
		EventFeed: Feed{Listen: "127.0.0.1:8765"},
		StateFeed: Feed{Listen: "127.0.0.1:8766"},
	}
}

// Load reads a yaml file over the defaults. An empty path or a missing file
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Arms.UpperLen <= 0 || c.Arms.ForearmLen <= 0 {
		return fmt.Errorf("arm segment lengths must be positive")
	}
	if c.LogicHz <= 0 {
		return fmt.Errorf("logic_hz must be positive")
	}
	if c.Keyboard.KeyPitch <= 0 || c.Keyboard.RowPitch <= 0 {
		return fmt.Errorf("keyboard pitch must be positive")
	}
	if len(c.Keyboard.Rows) == 0 {
		return fmt.Errorf("keyboard has no rows")
	}
	return nil
}
