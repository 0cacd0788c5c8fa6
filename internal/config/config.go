package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration
const DefaultPath = "configs/config.yml"

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
		Type string `yaml:"type"` // "sqlite" or "postgres"
	} `yaml:"database"`

	Engine struct {
		SourceDir        string        `yaml:"source_dir"`  // directory holding the engine Makefile
		Executable       string        `yaml:"executable"`  // engine binary
		WorkDir          string        `yaml:"work_dir"`    // working directory of the engine
		ConfigFile       string        `yaml:"config_file"` // file the engine reads on start
		BootstrapConfig  string        `yaml:"bootstrap_config"`
		Timeout          time.Duration `yaml:"timeout"`
		Compile          bool          `yaml:"compile"`
		BuildTool        string        `yaml:"build_tool"`
		AllowNonZeroExit bool          `yaml:"allow_nonzero_exit"`
	} `yaml:"engine"`

	Experiments struct {
		Count           int     `yaml:"count"`
		WeightBound     float64 `yaml:"weight_bound"`
		BiasBound       float64 `yaml:"bias_bound"`
		TestSize        int     `yaml:"test_size"`
		XExtreme        float64 `yaml:"x_extreme"`
		Seed            uint64  `yaml:"seed"` // 0 seeds from the clock
		ContinueOnError bool    `yaml:"continue_on_error"`
	} `yaml:"experiments"`
}

// LoadConfig loads configuration from a YAML file. A missing file at
// DefaultPath yields the defaults; any other missing file is an error.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && configPath == DefaultPath:
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config.setDefaults()

	config.Database.Path = os.ExpandEnv(config.Database.Path)
	config.Engine.SourceDir = os.ExpandEnv(config.Engine.SourceDir)
	config.Engine.Executable = os.ExpandEnv(config.Engine.Executable)
	config.Engine.WorkDir = os.ExpandEnv(config.Engine.WorkDir)
	config.Engine.ConfigFile = os.ExpandEnv(config.Engine.ConfigFile)
	config.Engine.BootstrapConfig = os.ExpandEnv(config.Engine.BootstrapConfig)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/nnfit.db"
	}

	if c.Engine.SourceDir == "" {
		c.Engine.SourceDir = "./c_engine"
	}
	if c.Engine.Executable == "" {
		c.Engine.Executable = "./c_engine/nnfit"
	}
	if c.Engine.WorkDir == "" {
		c.Engine.WorkDir = "."
	}
	if c.Engine.ConfigFile == "" {
		c.Engine.ConfigFile = "./data/config.ini"
	}
	if c.Engine.BootstrapConfig == "" {
		c.Engine.BootstrapConfig = "./data/config_1st.ini"
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 10 * time.Minute
	}
	if c.Engine.BuildTool == "" {
		c.Engine.BuildTool = "make"
	}

	if c.Experiments.Count == 0 {
		c.Experiments.Count = 30
	}
	if c.Experiments.WeightBound == 0 {
		c.Experiments.WeightBound = 1.0
	}
	if c.Experiments.BiasBound == 0 {
		c.Experiments.BiasBound = 1.0
	}
	if c.Experiments.TestSize == 0 {
		c.Experiments.TestSize = 40
	}
	if c.Experiments.XExtreme == 0 {
		c.Experiments.XExtreme = 1.0
	}
}

// Validate checks values the defaults cannot repair
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("engine timeout must not be negative")
	}
	if c.Experiments.Count < 0 {
		return fmt.Errorf("experiment count must not be negative")
	}
	if c.Experiments.WeightBound < 0 || c.Experiments.BiasBound < 0 {
		return fmt.Errorf("weight and bias bounds must not be negative")
	}
	if c.Experiments.TestSize < 0 {
		return fmt.Errorf("test size must not be negative")
	}
	if c.Experiments.XExtreme < 0 {
		return fmt.Errorf("x_extreme must not be negative")
	}
	return nil
}
