package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, time.Hour, cfg.Reconciler.StuckClosureAfter)
	assert.False(t, cfg.Temporal.Enabled)
	assert.Equal(t, "xahpayroll-reconciliation", cfg.Temporal.TaskQueue)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[http]
port = "8080"

[ledger]
rpc_url = "http://ledger.local:5005"
timeout = "3s"

[reconciler]
stuck_closure_after = "30m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("XAHPAYROLL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "http://ledger.local:5005", cfg.Ledger.RPCURL)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Reconciler.StuckClosureAfter)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsSeedWithoutWallets(t *testing.T) {
	t.Setenv("XAHPAYROLL_DATABASE_SEED", "true")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed_org_wallet")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
