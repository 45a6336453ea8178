package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig([]string{"--serversecret=shh"})
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, int64(104_857_600), cfg.MaxMessageSize)
	require.Equal(t, 90, cfg.IdleTimeoutSec)
	require.Equal(t, 20, cfg.RateLimitMax)
	require.Equal(t, 60, cfg.RateLimitWindowSec)
	require.Equal(t, 4, cfg.MaxChannels)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_RequiresServerSecret(t *testing.T) {
	_, err := loadConfig([]string{})
	require.Error(t, err)
}

func TestLoadConfig_RejectsNonPositiveMaxChannels(t *testing.T) {
	_, err := loadConfig([]string{"--serversecret=shh", "--maxchannels=0"})
	require.Error(t, err)
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	t.Setenv("SERVER_SECRET", "from-env")
	t.Setenv("PORT", "9999")

	cfg, err := loadConfig([]string{})
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.ServerSecret)
	require.Equal(t, 9999, cfg.Port)
}

func TestLoadConfig_FlagsOverrideDefaultsButEnvWinsLast(t *testing.T) {
	t.Setenv("MAX_CHANNELS", "7")

	cfg, err := loadConfig([]string{"--serversecret=shh", "--maxchannels=2"})
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxChannels)
}

func TestRedactedSecret(t *testing.T) {
	c := &config{ServerSecret: "supersecretvalue"}
	require.Equal(t, "su****ue", c.redactedSecret())

	short := &config{ServerSecret: "ab"}
	require.Equal(t, "****", short.redactedSecret())
}
