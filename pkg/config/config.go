// Package config handles jvmexec.toml configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jvmexec/pkg/vm"
)

// NoJDK disables jmod discovery when used as the classpath jmod.
const NoJDK = "none"

// Config is the complete tool configuration.
type Config struct {
	Engine    Engine    `toml:"engine"`
	Classpath Classpath `toml:"classpath"`
	Deobf     Deobf     `toml:"deobf"`
	Log       Log       `toml:"log"`
}

// Engine configures every execution context the tool creates.
type Engine struct {
	Mode            string `toml:"mode"`
	MaxCallDepth    int    `toml:"max_call_depth"`
	MaxInstructions int64  `toml:"max_instructions"`
	MaxHeapSlots    int64  `toml:"max_heap_slots"`
	Trace           bool   `toml:"trace"`
}

// Classpath lists where classes come from. Dirs and jars are searched in
// order before the jmod. An empty jmod means discover java.base.jmod from
// the environment; NoJDK runs against the built-in stubs only.
type Classpath struct {
	Jmod      string   `toml:"jmod"`
	JmodCache int      `toml:"jmod_cache"`
	Dirs      []string `toml:"dirs"`
	Jars      []string `toml:"jars"`
}

// Deobf configures the deobfuscation pipeline.
type Deobf struct {
	Workers       int     `toml:"workers"`
	MinConfidence float64 `toml:"min_confidence"`
	DB            string  `toml:"db"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: Engine{
			Mode:            "recursive",
			MaxCallDepth:    vm.DefaultMaxCallDepth,
			MaxInstructions: vm.DefaultMaxInstructions,
			MaxHeapSlots:    vm.DefaultMaxHeapSlots,
		},
		Classpath: Classpath{JmodCache: vm.DefaultJmodCacheSize},
		Deobf: Deobf{
			Workers:       4,
			MinConfidence: 0.3,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a TOML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		// Add file name to errors that carry a position.
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%s, %s", path, perr.Error())
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := vm.ParseMode(c.Engine.Mode); err != nil {
		return fmt.Errorf("engine.mode: %w", err)
	}
	switch {
	case c.Engine.MaxCallDepth <= 0:
		return fmt.Errorf("engine.max_call_depth must be positive, got %d", c.Engine.MaxCallDepth)
	case c.Engine.MaxInstructions <= 0:
		return fmt.Errorf("engine.max_instructions must be positive, got %d", c.Engine.MaxInstructions)
	case c.Engine.MaxHeapSlots <= 0:
		return fmt.Errorf("engine.max_heap_slots must be positive, got %d", c.Engine.MaxHeapSlots)
	case c.Deobf.Workers <= 0:
		return fmt.Errorf("deobf.workers must be positive, got %d", c.Deobf.Workers)
	case c.Deobf.MinConfidence < 0 || c.Deobf.MinConfidence > 1:
		return fmt.Errorf("deobf.min_confidence must be within [0,1], got %g", c.Deobf.MinConfidence)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// JmodPath returns the jmod to load JDK classes from, or "" for none.
func (c *Classpath) JmodPath() string {
	switch c.Jmod {
	case NoJDK:
		return ""
	case "":
		return vm.FindJavaBaseJmod()
	}
	return c.Jmod
}

// Sources builds the class sources in search order.
func (c *Classpath) Sources() []vm.Source {
	var sources []vm.Source
	for _, d := range c.Dirs {
		sources = append(sources, vm.NewDirSource(d))
	}
	for _, j := range c.Jars {
		sources = append(sources, vm.NewJarSource(j))
	}
	if jmod := c.JmodPath(); jmod != "" {
		sources = append(sources, vm.NewJmodSource(jmod, c.JmodCache))
	}
	return sources
}

// NewPool creates a class pool over the configured sources. The caller owns
// the returned reference.
func (c *Classpath) NewPool() *vm.ClassPool {
	return vm.NewClassPool(c.Sources()...)
}

// Options converts the engine section into context options.
func (e *Engine) Options() ([]vm.Option, error) {
	mode, err := vm.ParseMode(e.Mode)
	if err != nil {
		return nil, err
	}
	return []vm.Option{
		vm.WithMode(mode),
		vm.WithMaxCallDepth(e.MaxCallDepth),
		vm.WithMaxInstructions(e.MaxInstructions),
		vm.WithMaxHeapSlots(e.MaxHeapSlots),
		vm.WithTrace(e.Trace),
	}, nil
}

// NewLogger builds a zap logger for the log section.
func (l *Log) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Write encodes the configuration as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Load(path)
}
