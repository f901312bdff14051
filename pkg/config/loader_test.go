package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/config"
)

type workerConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	Concurrency  int           `env:"CONCURRENCY" envDefault:"2"`
	RedisURL     string        `env:"REDIS_URL,required"`
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults and values", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Load[workerConfig](config.WithEnviron(map[string]string{
			"REDIS_URL":   "redis://localhost:6379/0",
			"CONCURRENCY": "8",
		}))
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.PollInterval)
		assert.Equal(t, 8, cfg.Concurrency)
		assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Load[workerConfig](
			config.WithPrefix("EMAIL_"),
			config.WithEnviron(map[string]string{
				"EMAIL_REDIS_URL":     "redis://cache:6379/1",
				"EMAIL_POLL_INTERVAL": "250ms",
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	})

	t.Run("missing required variable", func(t *testing.T) {
		t.Parallel()

		_, err := config.Load[workerConfig](config.WithEnviron(map[string]string{}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("explicit env file must exist", func(t *testing.T) {
		t.Parallel()

		_, err := config.Load[workerConfig](config.WithEnvFiles(filepath.Join(t.TempDir(), "missing.env")))
		assert.ErrorIs(t, err, config.ErrEnvFile)
	})
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CFGTEST_REDIS_URL=redis://file:6379/2\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CFGTEST_REDIS_URL") })

	cfg, err := config.Load[workerConfig](config.WithPrefix("CFGTEST_"), config.WithEnvFiles(path))
	require.NoError(t, err)
	assert.Equal(t, "redis://file:6379/2", cfg.RedisURL)
}

func TestMustLoad(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		config.MustLoad[workerConfig](config.WithEnviron(map[string]string{}))
	})
}
