package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "mode: simulated\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeSimulated, cfg.Mode)
	assert.Equal(t, 2.0, cfg.Risk.MoveThresholdPct)
	assert.Equal(t, 5, cfg.Risk.CooldownMinutes)
	assert.Equal(t, -0.05, cfg.Risk.MinFundingRatePct)
	assert.Equal(t, 60, cfg.Reserve.IntervalMinutes)
	assert.Equal(t, 0.1, cfg.Engine.SimFeePct)
}

func TestLoadLiveModeRequiresSigner(t *testing.T) {
	path := writeConfig(t, `
mode: live
chain:
  rpc_url: http://localhost:8545
  chain_id: 137
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer")
}

func TestLoadLiveModeRequiresRPC(t *testing.T) {
	path := writeConfig(t, `
mode: live
signer:
  private_key: "00aa"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, "mode: paper\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadSimBalance(t *testing.T) {
	path := writeConfig(t, `
mode: simulated
engine:
  sim_balances:
    USDC: not-a-number
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBITER_PRIVATE_KEY", "deadbeef")
	t.Setenv("ARBITER_MODE", "simulated")

	path := writeConfig(t, "mode: simulated\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", cfg.Signer.PrivateKey)
}
