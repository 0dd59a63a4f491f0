// Package config loads the pcatester configuration with Viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables read by Load,
// e.g. PCATESTER_ESTIMATOR_GAMMA.
const EnvPrefix = "PCATESTER"

// Config holds the complete pcatester configuration.
type Config struct {
	Estimator EstimatorConfig `mapstructure:"estimator"`
	Data      DataConfig      `mapstructure:"data"`
	Run       RunConfig       `mapstructure:"run"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// EstimatorConfig holds the construction parameters of the estimator.
type EstimatorConfig struct {
	NDim          int     `mapstructure:"n_dim"`
	NEigen        int     `mapstructure:"n_eigen"`
	MinibatchSize int     `mapstructure:"minibatch_size"`
	Gamma         float64 `mapstructure:"gamma"`
	Lambda        float64 `mapstructure:"lambda"`
}

// DataConfig describes the data file.
type DataConfig struct {
	Path    string `mapstructure:"path"`
	Format  string `mapstructure:"format"` // ascii, headerless or binary
	MaxLoad int    `mapstructure:"max_load"`
}

// RunConfig controls the run and its outputs.
type RunConfig struct {
	Iterations  int    `mapstructure:"iterations"`
	SavePath    string `mapstructure:"save"`
	MetricsFile string `mapstructure:"metrics_file"`
	Vectors     bool   `mapstructure:"vectors"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("estimator.n_dim", 0)
	v.SetDefault("estimator.n_eigen", 10)
	v.SetDefault("estimator.minibatch_size", 10)
	v.SetDefault("estimator.gamma", 0.999)
	v.SetDefault("estimator.lambda", 1e-3)
	v.SetDefault("data.path", "")
	v.SetDefault("data.format", "ascii")
	v.SetDefault("data.max_load", -1)
	v.SetDefault("run.iterations", 1)
	v.SetDefault("run.save", "")
	v.SetDefault("run.metrics_file", "")
	v.SetDefault("run.vectors", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads configuration from defaults, an optional YAML file and
// PCATESTER_* environment variables, in increasing order of precedence.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
		return v, nil
	}

	v.SetConfigName("pcatester")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Unmarshal decodes v into a Config and validates it.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that the estimator itself cannot check.
// Estimator parameters are validated by pca.New.
func (c *Config) Validate() error {
	if c.Data.Path == "" {
		return errors.New("data path is required")
	}
	if c.Estimator.NDim <= 0 {
		return fmt.Errorf("n_dim must be positive, got %d", c.Estimator.NDim)
	}
	if c.Run.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Run.Iterations)
	}
	return nil
}
