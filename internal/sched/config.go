package sched

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// DefaultWeight is the weight an entity gets when it switches to WRR.
const DefaultWeight = 10

// Config mirrors the scheduler section of config.yml
type Config struct {
	Units        int `yaml:"units"`          // 4 (by default)
	TickMS       int `yaml:"tick_ms"`        // 10 (by default)
	BaseQuantum  int `yaml:"base_quantum"`   // ticks per unit of weight, 1 (by default)
	LBIntervalMS int `yaml:"lb_interval_ms"` // 2000 (by default)
	EventBuffer  int `yaml:"event_buffer"`   // 1024 (by default)
}

// DefaultConfig returns the values used when no config file is given.
// With a 10ms tick a weight-10 entity gets a 100ms slice.
func DefaultConfig() Config {
	return Config{
		Units:        4,
		TickMS:       10,
		BaseQuantum:  1,
		LBIntervalMS: 2000,
		EventBuffer:  1024,
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg.sanitize(), nil
}

// sanity clamps
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.Units <= 0 {
		c.Units = def.Units
	}
	if c.TickMS <= 0 {
		c.TickMS = def.TickMS
	}
	if c.BaseQuantum <= 0 {
		c.BaseQuantum = def.BaseQuantum
	}
	if c.LBIntervalMS <= 0 {
		c.LBIntervalMS = def.LBIntervalMS
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// Tick is the wall-clock length of one scheduling tick.
func (c Config) Tick() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// LBIntervalTicks converts the balancing period to host ticks, at least one.
func (c Config) LBIntervalTicks() int64 {
	n := int64(c.LBIntervalMS / c.TickMS)
	if n < 1 {
		n = 1
	}
	return n
}
