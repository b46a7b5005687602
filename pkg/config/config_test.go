package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	for _, network := range []NetworkName{Network_Mainnet, Network_Testnet, Network_Devnet} {
		t.Run(string(network), func(t *testing.T) {
			cfg := Default(network)
			require.NoError(t, cfg.Validate())
			assert.Equal(t, DefaultNodeURLs[network], cfg.Node.URL)
			assert.Equal(t, GetPollIntervalForNetwork(network), cfg.Submission.PollInterval)
		})
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
network: testnet
node:
  requestTimeout: 3s
device:
  transport: tcp
  address: localhost:9000
  deadline: 30s
  statusWords:
    - code: 0x6A81
      category: compatibility
      message: firmware too old
persistence:
  type: redis
  redis:
    address: redis:6379
    db: 2
submission:
  pollRate: 2.5
  reconcileSchedule: "@every 1m"
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Network_Testnet, cfg.Network)
	assert.Equal(t, DefaultNodeURLs[Network_Testnet], cfg.Node.URL)
	assert.Equal(t, 3*time.Second, cfg.Node.RequestTimeout)
	assert.Equal(t, 5, cfg.Node.Retry.MaxAttempts)
	assert.Equal(t, DeviceTransport_TCP, cfg.Device.Transport)
	assert.Equal(t, 30*time.Second, cfg.Device.Deadline)
	require.Len(t, cfg.Device.StatusWords, 1)
	assert.Equal(t, uint16(0x6A81), cfg.Device.StatusWords[0].Code)
	assert.Equal(t, PersistenceType_Redis, cfg.Persistence.Type)
	assert.Equal(t, "redis:6379", cfg.Persistence.Redis.Address)
	assert.Equal(t, 2, cfg.Persistence.Redis.DB)
	assert.Equal(t, 2.5, cfg.Submission.PollRate)
	assert.Equal(t, 1, cfg.Submission.PollBurst)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: devnet\ndebug: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Network_Devnet, cfg.Network)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "http://localhost:20000", cfg.Node.URL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("network: [unterminated"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown network", func(c *Config) { c.Network = "moonnet" }, "network"},
		{"missing node url", func(c *Config) { c.Node.URL = "" }, "node.url"},
		{"relative node url", func(c *Config) { c.Node.URL = "node:20000/x" }, "node.url"},
		{"tcp without address", func(c *Config) { c.Device.Transport = DeviceTransport_TCP }, "device.address"},
		{"unknown transport", func(c *Config) { c.Device.Transport = "bluetooth" }, "device.transport"},
		{"zero deadline", func(c *Config) { c.Device.Deadline = 0 }, "device.deadline"},
		{"bad status category", func(c *Config) {
			c.Device.StatusWords = []StatusWordConfig{{Code: 0x6A81, Category: "sad"}}
		}, "device.statusWords[0].category"},
		{"success status redefined", func(c *Config) {
			c.Device.StatusWords = []StatusWordConfig{{Code: 0x9000, Category: "unknown"}}
		}, "device.statusWords[0].code"},
		{"badger without dir", func(c *Config) { c.Persistence.BadgerDir = "" }, "persistence.badgerDir"},
		{"unknown persistence", func(c *Config) { c.Persistence.Type = "sqlite" }, "persistence.type"},
		{"zero poll rate", func(c *Config) { c.Submission.PollRate = 0 }, "submission.pollRate"},
		{"bad schedule", func(c *Config) { c.Submission.ReconcileSchedule = "sometimes" }, "submission.reconcileSchedule"},
		{"no retry attempts", func(c *Config) { c.Node.Retry.MaxAttempts = 0 }, "node.retry.maxAttempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(Network_Mainnet)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyStatusWords(t *testing.T) {
	const code = 0x6A99
	assert.Equal(t, ledger.CategoryUnknown, ledger.LookupStatus(code).Category)

	d := DeviceConfig{StatusWords: []StatusWordConfig{{Code: code, Category: "locked"}}}
	require.NoError(t, d.ApplyStatusWords())

	info := ledger.LookupStatus(code)
	assert.Equal(t, ledger.CategoryLocked, info.Category)
	assert.Equal(t, "status 0x6a99", info.Message)
}
