package bridge

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAes256RoundTrip(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	iv, err := GenerateRandomBytes(16)
	require.NoError(t, err)

	for _, plain := range []string{
		`{"id":1,"jsonrpc":"2.0","method":"personal_sign","params":[]}`,
		"exactly sixteen!",
		"trailing spaces   ",
	} {
		cipherText, err := Aes256Encrypt([]byte(plain), key, iv)
		require.NoError(t, err)
		assert.Zero(t, len(cipherText)%16)

		cp := append([]byte(nil), cipherText...)
		out, err := Aes256Decrypt(cipherText, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plain, string(out))
		assert.True(t, bytes.Equal(cp, cipherText), "decrypt must not modify its input")
	}
}

func TestAes256DecryptRejectsBadInput(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	iv := bytes.Repeat([]byte{2}, 16)
	_, err := Aes256Decrypt([]byte("short"), key, iv)
	assert.Error(t, err)

	other := bytes.Repeat([]byte{3}, 32)
	cipherText, err := Aes256Encrypt([]byte("hello"), key, iv)
	require.NoError(t, err)
	out, err := Aes256Decrypt(cipherText, other, iv)
	if err == nil {
		assert.NotEqual(t, "hello", string(out))
	}
}

func TestAes256RejectsBadIVLength(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	cipherText, err := Aes256Encrypt([]byte("hello"), key, bytes.Repeat([]byte{2}, 16))
	require.NoError(t, err)

	for _, iv := range [][]byte{nil, bytes.Repeat([]byte{2}, 8), bytes.Repeat([]byte{2}, 32)} {
		assert.NotPanics(t, func() {
			_, err := Aes256Decrypt(cipherText, key, iv)
			assert.Error(t, err)
			_, err = Aes256Encrypt([]byte("hello"), key, iv)
			assert.Error(t, err)
		})
	}
}

func TestHmacSha256Deterministic(t *testing.T) {
	a := HmacSha256([]byte("data"), []byte("key"))
	b := HmacSha256([]byte("data"), []byte("key"))
	c := HmacSha256([]byte("data"), []byte("other"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestWebSocketURL(t *testing.T) {
	ws := WebSocketURL("https://a.bridge.walletconnect.org", "wc", "1")
	assert.True(t, strings.HasPrefix(ws, "wss://a.bridge.walletconnect.org?"))
	u, err := url.Parse(ws)
	require.NoError(t, err)
	assert.Equal(t, "wc", u.Query().Get("protocol"))
	assert.Equal(t, "1", u.Query().Get("version"))

	assert.True(t, strings.HasPrefix(WebSocketURL("http://127.0.0.1:5001", "wc", "1"), "ws://127.0.0.1:5001?"))
}

func TestRandomBridgeURL(t *testing.T) {
	u, err := url.Parse(RandomBridgeURL())
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.True(t, strings.HasSuffix(u.Host, ".bridge.walletconnect.org"))
}

func TestDeepLink(t *testing.T) {
	uri := PairingURI("topic", "https://a.bridge.walletconnect.org", "00ff")
	assert.Equal(t, "wc:topic@1?bridge=https%3A%2F%2Fa.bridge.walletconnect.org&key=00ff", uri)

	assert.Equal(t, uri, DeepLink("", uri))
	assert.Equal(t, "metamask://wc?uri="+url.QueryEscape(uri), DeepLink("metamask://wc?uri=", uri))
	assert.Equal(t, "https://metamask.app.link/wc?"+uri, DeepLink("https://metamask.app.link/wc?", uri))
}
