package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestDefaults(t *testing.T) {
	v := newViper()
	v.Set("crypto.master_secret", secret)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, "8083", cfg.Port)
	require.Equal(t, "9083", cfg.GRPCPort)
	require.Equal(t, 5*time.Minute, cfg.Presence.SessionTimeout)
	require.Equal(t, time.Minute, cfg.Presence.SweepInterval)
	require.Equal(t, 30*time.Second, cfg.Presence.HeartbeatInterval)
	require.Equal(t, 5*time.Second, cfg.Typing.Timeout)
	require.Equal(t, 3*time.Second, cfg.AI.Timeout)
	require.Equal(t, 256, cfg.WS.SendBuffer)
	require.EqualValues(t, 65536, cfg.WS.MaxMessageBytes)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PRESENCE_SESSION_TIMEOUT", "90s")
	t.Setenv("CRYPTO_MASTER_SECRET", secret)
	t.Setenv("PORT", "9999")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.Presence.SessionTimeout)
	require.Equal(t, "9999", cfg.Port)
}

func TestShortMasterSecretRejected(t *testing.T) {
	v := newViper()
	v.Set("crypto.master_secret", "short")

	_, err := FromViper(v)
	require.ErrorIs(t, err, ErrMissingMasterSecret)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	content := "crypto:\n  master_secret: " + secret + "\ntyping:\n  timeout: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Typing.Timeout)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
