package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "")
		t.Setenv("REDIS_KEY_PREFIX", "")

		cfg, err := ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", cfg.Addr)
		assert.Equal(t, 0, cfg.DB)
		assert.Equal(t, "labbox:", cfg.KeyPrefix)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis.internal:6380")
		t.Setenv("REDIS_DB", "3")
		t.Setenv("REDIS_KEY_PREFIX", "test:")

		cfg, err := ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "redis.internal:6380", cfg.Addr)
		assert.Equal(t, 3, cfg.DB)
		assert.Equal(t, "test:", cfg.KeyPrefix)
	})
}
