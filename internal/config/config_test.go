package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const validConfig = `
chat_gateway_url: wss://gateway.example.com/chat
trade_gateway_url: wss://gateway.example.com/trades
coin_gateway_url: wss://gateway.example.com/coins
api_base_url: https://api.example.com
rpc_list:
  - https://rpc-1.example.com
  - https://rpc-2.example.com
auth_token: test-token
`

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultSlippageBps, cfg.SlippageBps)
	assert.Equal(t, DefaultReconnectBaseMs, cfg.ReconnectBaseMs)
	assert.Equal(t, DefaultReconnectCapMs, cfg.ReconnectCapMs)
	assert.Equal(t, DefaultFailureCeiling, cfg.FailureCeiling)
	assert.Equal(t, DefaultCooldownSeconds, cfg.CooldownSeconds)
	assert.Equal(t, DefaultSubscribeTimeout, cfg.SubscribeTimeoutMs)
	assert.Equal(t, "pumpclient.log", cfg.LogFile)
	assert.Len(t, cfg.RPCList, 2)
}

func TestLoadConfig_MissingGateway(t *testing.T) {
	path := writeConfigFile(t, `
trade_gateway_url: wss://gateway.example.com/trades
coin_gateway_url: wss://gateway.example.com/coins
rpc_list: ["https://rpc.example.com"]
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway")
}

func TestLoadConfig_RejectsNonWebsocketGateway(t *testing.T) {
	path := writeConfigFile(t, `
chat_gateway_url: https://gateway.example.com/chat
trade_gateway_url: wss://gateway.example.com/trades
coin_gateway_url: wss://gateway.example.com/coins
rpc_list: ["https://rpc.example.com"]
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol")
}

func TestLoadConfig_EmptyRPCList(t *testing.T) {
	path := writeConfigFile(t, `
chat_gateway_url: wss://gateway.example.com/chat
trade_gateway_url: wss://gateway.example.com/trades
coin_gateway_url: wss://gateway.example.com/coins
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_list")
}

func TestLoadConfig_InvalidSlippage(t *testing.T) {
	path := writeConfigFile(t, validConfig+"\nslippage_bps: 20000\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slippage_bps")
}

func TestLoadConfig_BackoffCapBelowBase(t *testing.T) {
	path := writeConfigFile(t, validConfig+"\nreconnect_base_ms: 1000\nreconnect_cap_ms: 100\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect_cap_ms")
}
