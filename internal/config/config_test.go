package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cli, err := Load([]string{})
	require.NoError(t, err)
	require.Equal(t, 1935, cli.RTMPPort)
	require.Equal(t, 0, cli.HTTPFLVPort)
	require.Equal(t, 1024, cli.GopCacheLimit)
	require.Equal(t, "", cli.RecordDir)
	require.Equal(t, "info", cli.Log)
}

func TestLoadParsesFlags(t *testing.T) {
	cli, err := Load([]string{
		"--rtmp-port", "1936",
		"--http-flv-port", "8080",
		"--gop-cache-limit", "64",
		"--record-dir", "/tmp/recordings",
		"--log", "debug",
	})
	require.NoError(t, err)
	require.Equal(t, 1936, cli.RTMPPort)
	require.Equal(t, 8080, cli.HTTPFLVPort)
	require.Equal(t, 64, cli.GopCacheLimit)
	require.Equal(t, "/tmp/recordings", cli.RecordDir)
	require.Equal(t, "debug", cli.Log)
}

func TestLoadReadsEnvironmentVariables(t *testing.T) {
	t.Setenv("RTMP_PORT", "9999")
	t.Setenv("BIND_ADDRESS", "127.0.0.1")

	cli, err := Load([]string{})
	require.NoError(t, err)
	require.Equal(t, 9999, cli.RTMPPort)
	require.Equal(t, "127.0.0.1", cli.BindAddress)
}

func TestLoadFlagsOverrideEnvironmentVariables(t *testing.T) {
	t.Setenv("RTMP_PORT", "9999")

	cli, err := Load([]string{"--rtmp-port", "1111"})
	require.NoError(t, err)
	require.Equal(t, 1111, cli.RTMPPort)
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--not-a-real-flag"})
	require.Error(t, err)
}
