package deadletter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/config"
	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.Load[deadletter.Config](config.WithEnviron(map[string]string{}))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, deadletter.BackendPostgres, cfg.Backend)
		assert.Equal(t, "dead_letters", cfg.MongoCollection)
	})

	t.Run("normalizes backend", func(t *testing.T) {
		t.Parallel()
		cfg := deadletter.Config{Backend: " Mongo "}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, deadletter.BackendMongo, cfg.Backend)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()
		cfg := deadletter.Config{Backend: "sqlite"}
		require.ErrorIs(t, cfg.Validate(), deadletter.ErrUnknownBackend)
	})
}
