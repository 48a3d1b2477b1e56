package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if len(kv) > 3 && kv[:3] == "PX_" {
			key := kv[:indexOf(kv, '=')]
			os.Unsetenv(key)
		}
	}
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 900, cfg.CanvasWidth)
	assert.Equal(t, 900, cfg.CanvasHeight)
	assert.Equal(t, "black", cfg.EmptyCanvasColor)
	assert.Equal(t, 50, cfg.FlushIntervalMs)
	assert.Equal(t, 20.0, cfg.BucketCapacity)
	assert.Equal(t, 10.0, cfg.BucketRefillPerSec)
	assert.Equal(t, 100, cfg.MinuteWindowMax)
	assert.Equal(t, 64, cfg.SubscriberQueueCap)
}

func TestValidateRejectsBadEmptyCanvasColor(t *testing.T) {
	cfg := &Config{
		Addr: ":8080", CanvasWidth: 10, CanvasHeight: 10,
		EmptyCanvasColor: "purple", FlushIntervalMs: 1,
		BucketCapacity: 1, BucketRefillPerSec: 1,
		MinuteWindowMax: 1, SubscriberQueueCap: 1,
		LogLevel: "info", LogFormat: "json",
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingAddr(t *testing.T) {
	cfg := &Config{
		CanvasWidth: 10, CanvasHeight: 10, EmptyCanvasColor: "black",
		FlushIntervalMs: 1, BucketCapacity: 1, BucketRefillPerSec: 1,
		MinuteWindowMax: 1, SubscriberQueueCap: 1,
		LogLevel: "info", LogFormat: "json",
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Addr: ":8080", CanvasWidth: 900, CanvasHeight: 900,
		EmptyCanvasColor: "white", FlushIntervalMs: 50,
		BucketCapacity: 20, BucketRefillPerSec: 10,
		MinuteWindowMax: 100, SubscriberQueueCap: 64,
		LogLevel: "debug", LogFormat: "pretty",
	}
	assert.NoError(t, cfg.Validate())
}
