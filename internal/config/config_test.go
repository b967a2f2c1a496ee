package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.MulticastScouting)
	require.Equal(t, defaultMulticastAddress, cfg.MulticastAddress)
	require.Equal(t, defaultScoutingTimeoutMs, cfg.ScoutingTimeoutMs)
	require.Empty(t, cfg.Mode)
}

func TestInsert_KnownKeys(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Insert(KeyMode, "client"))
	require.NoError(t, cfg.Insert(KeyConnect, "tcp/127.0.0.1:7447"))
	require.NoError(t, cfg.Insert(KeyScoutingTimeoutMs, "5000"))
	require.NoError(t, cfg.Insert(KeyAddTimestamp, "true"))

	require.Equal(t, "client", cfg.Mode)
	require.Equal(t, "tcp/127.0.0.1:7447", cfg.Connect)
	require.Equal(t, 5000, cfg.ScoutingTimeoutMs)
	require.True(t, cfg.AddTimestamp)
}

func TestInsert_UnknownKey(t *testing.T) {
	cfg := Default()
	err := cfg.Insert(Key(0x99), "x")
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestInsert_InvalidScoutingTimeout(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Insert(KeyScoutingTimeoutMs, "not-a-number"))
}

func TestValidate_RequiresModeAndConnect(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Mode = "peer"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "client"
	require.Error(t, cfg.Validate())
	cfg.Connect = "tcp/127.0.0.1:7447"
	require.NoError(t, cfg.Validate())
}

func TestConfigFromFile_LayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zenoh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: peer\nconnect: tcp/10.0.0.1:7447\n"), 0o644))

	cfg, err := ConfigFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "peer", cfg.Mode)
	require.Equal(t, "tcp/10.0.0.1:7447", cfg.Connect)
	require.True(t, cfg.MulticastScouting)
}

func TestConfigFromEnv_MapsPrefixedVars(t *testing.T) {
	t.Setenv("ZTEST_MODE", "client")
	t.Setenv("ZTEST_CONNECT", "tcp/127.0.0.1:7447")

	cfg, err := ConfigFromEnv("ZTEST_")
	require.NoError(t, err)
	require.Equal(t, "client", cfg.Mode)
	require.Equal(t, "tcp/127.0.0.1:7447", cfg.Connect)
}
