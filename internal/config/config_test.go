package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, v.GetInt("estimator.n_eigen"))
	assert.Equal(t, 10, v.GetInt("estimator.minibatch_size"))
	assert.InDelta(t, 0.999, v.GetFloat64("estimator.gamma"), 1e-15)
	assert.InDelta(t, 1e-3, v.GetFloat64("estimator.lambda"), 1e-18)
	assert.Equal(t, -1, v.GetInt("data.max_load"))
	assert.Equal(t, "ascii", v.GetString("data.format"))
	assert.Equal(t, 1, v.GetInt("run.iterations"))
	assert.Equal(t, "info", v.GetString("logging.level"))
	assert.Equal(t, "console", v.GetString("logging.format"))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	content := `
estimator:
  n_dim: 64
  n_eigen: 4
  gamma: 0.95
data:
  path: samples.txt
  format: binary
  max_load: 100
run:
  iterations: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v, err := Load(path)
	require.NoError(t, err)

	cfg, err := Unmarshal(v)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Estimator.NDim)
	assert.Equal(t, 4, cfg.Estimator.NEigen)
	assert.Equal(t, 10, cfg.Estimator.MinibatchSize, "default kept")
	assert.InDelta(t, 0.95, cfg.Estimator.Gamma, 1e-15)
	assert.Equal(t, "samples.txt", cfg.Data.Path)
	assert.Equal(t, "binary", cfg.Data.Format)
	assert.Equal(t, 100, cfg.Data.MaxLoad)
	assert.Equal(t, 3, cfg.Run.Iterations)
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PCATESTER_ESTIMATOR_MINIBATCH_SIZE", "25")
	t.Setenv("PCATESTER_DATA_PATH", "from-env.txt")
	t.Setenv("PCATESTER_ESTIMATOR_N_DIM", "8")

	v, err := Load("")
	require.NoError(t, err)

	cfg, err := Unmarshal(v)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Estimator.MinibatchSize)
	assert.Equal(t, "from-env.txt", cfg.Data.Path)
	assert.Equal(t, 8, cfg.Estimator.NDim)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Estimator: EstimatorConfig{NDim: 3, NEigen: 1, MinibatchSize: 2, Gamma: 0.9, Lambda: 1e-3},
			Data:      DataConfig{Path: "x.txt", MaxLoad: -1},
			Run:       RunConfig{Iterations: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing data path", func(c *Config) { c.Data.Path = "" }, true},
		{"zero dimension", func(c *Config) { c.Estimator.NDim = 0 }, true},
		{"zero iterations", func(c *Config) { c.Run.Iterations = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnmarshal_RejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	_, err := Unmarshal(v)
	assert.Error(t, err, "defaults alone lack a data path")
}
