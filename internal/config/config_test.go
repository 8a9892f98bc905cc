package config

import (
	"io/ioutil"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadSampleConfig(t *testing.T) {
	conf, err := readConfig("config.yml")
	require.NoError(t, err)
	assert.Equal(t, 0, conf.LogLevel)
	assert.Equal(t, int64(1), conf.Network.ChainID)
	assert.Equal(t, "https://bridge.walletconnect.org", conf.WalletConnect.BridgeURL)
	assert.Equal(t, 5*time.Minute, conf.WalletConnect.ReadTimeout)
	assert.Equal(t, "Hello from Dapp", conf.Demo.Message)
	value, err := conf.Demo.Value()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10000000000000000), value)
}

func TestMissingKeysKeepDefaults(t *testing.T) {
	conf, err := readConfig(writeConfig(t, "network:\n  rpc_url: http://localhost:8545\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", conf.Network.RPCURL)
	assert.Equal(t, int64(1), conf.Network.ChainID)
	assert.Equal(t, "My RN Dapp", conf.Dapp.Name)
	assert.Equal(t, "0x3E1568D4ab414e776BAE3aef5c8Bd7Bf29E30D56", conf.Demo.RecipientAddress().Hex())
	assert.Equal(t, ":8080", conf.HTTP.Address)
}

func TestInvalidConfig(t *testing.T) {
	_, err := readConfig(writeConfig(t, "demo:\n  recipient: bob\n"))
	assert.Error(t, err)

	_, err = readConfig(writeConfig(t, "demo:\n  value_wei: \"-5\"\n"))
	assert.Error(t, err)

	_, err = readConfig(writeConfig(t, "log_level: [1"))
	assert.Error(t, err)

	_, err = readConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestDecimalValue(t *testing.T) {
	v, err := Demo{ValueWei: "1000"}.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Int64())
}
