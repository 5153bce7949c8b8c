package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrow-market-onchain/gateway/contract"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"ETH_NODE_URL": "http://localhost:8545"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Node.URL)
	assert.Empty(t, cfg.Node.WSURL)
	assert.Equal(t, contract.DefaultMarketplaceAddress, cfg.Contract.Address)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "development", cfg.Environment.Name)
	assert.Equal(t, 3*time.Minute, cfg.Tx.WaitTimeout)
	assert.Equal(t, 2*time.Second, cfg.Tx.PollInterval)
	assert.False(t, cfg.HasWallet())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"ETH_NODE_URL":                 "https://sepolia.example",
		"ETH_NODE_WS_URL":              "wss://sepolia.example",
		"MARKETPLACE_CONTRACT_ADDRESS": "0x00000000000000000000000000000000000000a1",
		"WALLET_PRIVATE_KEY":           "0xabc",
		"WALLET_ACCOUNT":               "0x00000000000000000000000000000000000000b2",
		"TX_WAIT_TIMEOUT":              "30s",
		"CORS_ALLOWED_ORIGINS":         "https://a.example,https://b.example",
		"PORT":                         "9090",
	})
	require.NoError(t, err)

	assert.Equal(t, "wss://sepolia.example", cfg.Node.WSURL)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", cfg.Contract.Address)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	assert.Equal(t, 30*time.Second, cfg.Tx.WaitTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.True(t, cfg.HasWallet())
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing node url", map[string]string{}},
		{"bad contract address", map[string]string{"ETH_NODE_URL": "x", "MARKETPLACE_CONTRACT_ADDRESS": "0x123"}},
		{"both wallet sources", map[string]string{"ETH_NODE_URL": "x", "WALLET_KEYSTORE_DIR": "/ks", "WALLET_PRIVATE_KEY": "0xabc"}},
		{"bad account", map[string]string{"ETH_NODE_URL": "x", "WALLET_ACCOUNT": "nope"}},
		{"zero timeout", map[string]string{"ETH_NODE_URL": "x", "TX_WAIT_TIMEOUT": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}
