// Package config loads the emulator's TOML configuration file, the same
// pattern the teacher's own config package uses: a struct of nested,
// toml-tagged sections, a DefaultConfig constructor, and a Load that
// overlays a file onto those defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the emulator's top-level configuration.
type Config struct {
	// Execution controls the loader/stepper (spec §4.4/§5).
	Execution struct {
		StepBudget   uint64 `toml:"step_budget"`
		ChrootPrefix string `toml:"chroot_prefix"`
		CachePath    string `toml:"cache_path"`
		EntryBinary  string `toml:"entry_binary"`
	} `toml:"execution"`

	// CP15 lists extra coprocessor register values to install beyond the
	// built-in minimum set (vm.CP15.Configure), keyed "crn:opc1:crm:opc2"
	// in hex, e.g. "0:0:0:0" = 0x410fc073.
	CP15 struct {
		Registers map[string]uint32 `toml:"registers"`
	} `toml:"cp15"`

	// Trace mirrors the teacher's ExecutionTrace/MemoryTrace toggles.
	Trace struct {
		Instructions bool   `toml:"instructions"`
		Memory       bool   `toml:"memory"`
		OutputFile   string `toml:"output_file"`
	} `toml:"trace"`

	// Display controls CLI/debugger verbosity.
	Display struct {
		Verbose      bool   `toml:"verbose"`
		NumberFormat string `toml:"number_format"` // hex, dec
	} `toml:"display"`
}

// DefaultConfig returns a Config with the emulator's built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.StepBudget = 10_000_000
	cfg.Execution.ChrootPrefix = "/"
	cfg.Execution.CachePath = ""
	cfg.Execution.EntryBinary = ""

	cfg.CP15.Registers = make(map[string]uint32)

	cfg.Trace.Instructions = false
	cfg.Trace.Memory = false
	cfg.Trace.OutputFile = "trace.log"

	cfg.Display.Verbose = false
	cfg.Display.NumberFormat = "hex"

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "armv7sim")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "armv7sim")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}
	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "armv7sim", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "armv7sim", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}
	return logDir
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, overlaying it onto the defaults.
// A missing file is not an error: the defaults are returned as-is.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to path, creating parent directories as needed.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
