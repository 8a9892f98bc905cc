package walletconnect

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"moff.io/dapp-wallet/internal/session"
	"moff.io/dapp-wallet/pkg/bridge"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/ethsig"
)

const walletPeerID = "wallet-peer"

// fakeBridge relays for a single wallet that answers every request itself.
type fakeBridge struct {
	t      *testing.T
	server *httptest.Server
	signer *ecdsa.PrivateKey
	reject bool
	keys   chan []byte

	// mu guards the active wallet connection, writes to it included.
	mu        sync.Mutex
	methods   []string
	conn      *websocket.Conn
	key       []byte
	dappTopic string
}

func newFakeBridge(t *testing.T) *fakeBridge {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b := &fakeBridge{t: t, signer: key, keys: make(chan []byte, 1)}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBridge) account() string {
	return strings.ToLower(crypto.PubkeyToAddress(b.signer.PublicKey).Hex())
}

// openLink plays the wallet app scanning the pairing URI.
func (b *fakeBridge) openLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return err
	}
	key, err := hex.DecodeString(u.Query().Get("key"))
	if err != nil {
		return err
	}
	b.keys <- key
	return nil
}

func (b *fakeBridge) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.methods...)
}

// push sends message to the dapp as the wallet of the latest connection.
func (b *fakeBridge) push(message map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	payload, err := encryptPayload(b.key, string(body))
	if err != nil {
		return err
	}
	out := wcMessage{Topic: b.dappTopic, Type: "pub", Payload: payload.Marshal()}
	return b.conn.WriteMessage(websocket.TextMessage, out.Marshal())
}

// kill ends the session from the wallet side.
func (b *fakeBridge) kill() error {
	return b.push(map[string]interface{}{
		"id":      payloadID(),
		"jsonrpc": "2.0",
		"method":  "wc_sessionUpdate",
		"params":  []interface{}{map[string]interface{}{"approved": false}},
	})
}

func (b *fakeBridge) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	b.mu.Lock()
	b.conn, b.key, b.dappTopic = conn, nil, ""
	b.mu.Unlock()

	var key []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wcMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "pub" {
			continue
		}
		if key == nil {
			select {
			case key = <-b.keys:
			case <-time.After(5 * time.Second):
				return
			}
			b.mu.Lock()
			b.key = key
			b.mu.Unlock()
		}
		request, err := decryptPayload(key, msg.Payload)
		if err != nil {
			return
		}
		method := gjson.Get(request, "method").String()
		b.mu.Lock()
		b.methods = append(b.methods, method)
		b.mu.Unlock()

		id := gjson.Get(request, "id").Int()
		var response map[string]interface{}
		switch method {
		case "wc_sessionRequest":
			b.mu.Lock()
			b.dappTopic = gjson.Get(request, "params.0.peerId").String()
			b.mu.Unlock()
			if b.reject {
				response = rpcError(id, "Session Rejected")
				break
			}
			response = rpcResult(id, map[string]interface{}{
				"approved": true,
				"chainId":  1,
				"accounts": []string{b.account()},
				"peerId":   walletPeerID,
				"peerMeta": ClientMeta{Name: "MetaMask"},
			})
		case "personal_sign":
			sig, err := ethsig.SignText(b.signer, []byte(gjson.Get(request, "params.0").String()))
			if err != nil {
				return
			}
			response = rpcResult(id, sig)
		case "eth_getBalance":
			response = rpcResult(id, "0xde0b6b3a7640000")
		case "eth_sendTransaction":
			response = rpcErrorCode(id, 4001, "User rejected the transaction")
		case "wc_sessionUpdate":
			continue
		default:
			response = rpcErrorCode(id, -32601, "method not found")
		}
		if err := b.push(response); err != nil {
			return
		}
	}
}

func rpcResult(id int64, result interface{}) map[string]interface{} {
	return map[string]interface{}{"id": id, "jsonrpc": "2.0", "result": result}
}

func rpcError(id int64, message string) map[string]interface{} {
	return rpcErrorCode(id, -32000, message)
}

func rpcErrorCode(id int64, code int, message string) map[string]interface{} {
	return map[string]interface{}{"id": id, "jsonrpc": "2.0", "error": map[string]interface{}{"code": code, "message": message}}
}

func testConfig(b *fakeBridge) Config {
	return Config{
		BridgeURL:   b.server.URL,
		ReadTimeout: 5 * time.Second,
		ChainID:     1,
		Meta:        ClientMeta{Name: "My RN Dapp", URL: "https://rndapp.com"},
	}
}

func TestConnectorPairsAndRelaysRequests(t *testing.T) {
	b := newFakeBridge(t)
	provider, err := NewConnector(testConfig(b)).Connect(context.Background(), b.openLink)
	require.NoError(t, err)
	defer provider.Close()

	accounts, err := provider.Request(context.Background(), session.MethodRequestAccounts)
	require.NoError(t, err)
	assert.Equal(t, `["`+b.account()+`"]`, accounts)

	chainID, err := provider.Request(context.Background(), "eth_chainId")
	require.NoError(t, err)
	assert.Equal(t, `"0x1"`, chainID)

	sig, err := provider.Request(context.Background(), session.MethodPersonalSign, "Hello from Dapp", b.account(), 1)
	require.NoError(t, err)
	assert.True(t, ethsig.Verify(b.account(), []byte("Hello from Dapp"), gjson.Parse(sig).String()))

	_, err = provider.Request(context.Background(), session.MethodSendTransaction, map[string]string{"from": b.account()})
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(4001), rpcErr.Code)
	assert.Equal(t, "User rejected the transaction", rpcErr.Message)
}

func TestConnectorRejectedSession(t *testing.T) {
	b := newFakeBridge(t)
	b.reject = true
	_, err := NewConnector(testConfig(b)).Connect(context.Background(), b.openLink)
	assert.True(t, errors.Is(err, ErrSessionRejected))
}

func TestConnectorOpenLinkUsesDeepLinkPrefix(t *testing.T) {
	b := newFakeBridge(t)
	conf := testConfig(b)
	conf.DeepLinkPrefix = "metamask://wc?uri="
	var opened string
	openLink := func(link string) error {
		opened = link
		u, err := url.Parse(link)
		if err != nil {
			return err
		}
		return b.openLink(u.Query().Get("uri"))
	}
	provider, err := NewConnector(conf).Connect(context.Background(), openLink)
	require.NoError(t, err)
	defer provider.Close()
	assert.True(t, strings.HasPrefix(opened, "metamask://wc?uri=wc%3A"))
}

func TestCloseKillsSession(t *testing.T) {
	b := newFakeBridge(t)
	provider, err := NewConnector(testConfig(b)).Connect(context.Background(), b.openLink)
	require.NoError(t, err)

	require.NoError(t, provider.Close())
	require.NoError(t, provider.Close())
	_, err = provider.Request(context.Background(), "eth_getBalance")
	assert.True(t, errors.Is(err, ErrSessionClosed))

	assert.Eventually(t, func() bool {
		seen := b.seen()
		return len(seen) > 0 && seen[len(seen)-1] == "wc_sessionUpdate"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestHonoursContext(t *testing.T) {
	b := newFakeBridge(t)
	provider, err := NewConnector(testConfig(b)).Connect(context.Background(), b.openLink)
	require.NoError(t, err)
	defer provider.Close()

	// the fake wallet never answers wc_sessionUpdate, so this request can only time out
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = provider.Request(ctx, "wc_sessionUpdate", sessionUpdate{Approved: true})
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	sig, err := provider.Request(context.Background(), session.MethodPersonalSign, "gm", b.account(), 1)
	require.NoError(t, err)
	assert.True(t, ethsig.Verify(b.account(), []byte("gm"), gjson.Parse(sig).String()))
}

func TestCancelledRequestKeepsSessionUsable(t *testing.T) {
	b := newFakeBridge(t)
	provider, err := NewConnector(testConfig(b)).Connect(context.Background(), b.openLink)
	require.NoError(t, err)
	defer provider.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = provider.Request(ctx, "wc_sessionUpdate", sessionUpdate{Approved: true})
	require.True(t, errors.Is(err, context.Canceled))

	for i := 0; i < 2; i++ {
		sig, err := provider.Request(context.Background(), session.MethodPersonalSign, "Hello from Dapp", b.account(), 1)
		require.NoError(t, err)
		assert.True(t, ethsig.Verify(b.account(), []byte("Hello from Dapp"), gjson.Parse(sig).String()))
	}
	balance, err := provider.Request(context.Background(), "eth_getBalance", b.account(), "latest")
	require.NoError(t, err)
	assert.Equal(t, `"0xde0b6b3a7640000"`, balance)
}

func TestWalletKillFailsPendingRequest(t *testing.T) {
	b := newFakeBridge(t)
	provider, err := NewConnector(testConfig(b)).Connect(context.Background(), b.openLink)
	require.NoError(t, err)
	defer provider.Close()

	result := make(chan error, 1)
	go func() {
		_, err := provider.Request(context.Background(), "wc_sessionUpdate", sessionUpdate{Approved: true})
		result <- err
	}()
	assert.Eventually(t, func() bool {
		seen := b.seen()
		return seen[len(seen)-1] == "wc_sessionUpdate"
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.kill())

	select {
	case err := <-result:
		assert.True(t, errors.Is(err, ErrSessionClosed))
		assert.True(t, errors.Is(err, session.ErrProviderClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed after the wallet ended the session")
	}
	watcher, ok := provider.(session.SessionWatcher)
	require.True(t, ok)
	select {
	case <-watcher.Done():
	default:
		t.Fatal("done not closed")
	}
	_, err = provider.Request(context.Background(), session.MethodPersonalSign, "gm", b.account(), 1)
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestWalletKillDisconnectsController(t *testing.T) {
	b := newFakeBridge(t)
	controller, err := session.NewController(session.Options{
		Connector: NewConnector(testConfig(b)),
		OpenLink:  b.openLink,
	})
	require.NoError(t, err)

	require.NoError(t, controller.Connect(context.Background()))
	require.NoError(t, b.kill())
	assert.Eventually(t, func() bool { return !controller.Connected() }, 2*time.Second, 10*time.Millisecond)
	_, err = controller.SignMessage(context.Background(), "gm")
	assert.True(t, errors.Is(err, session.ErrNotConnected))

	require.NoError(t, controller.Connect(context.Background()))
	assert.Equal(t, b.account(), controller.Snapshot().Address)
	record, err := controller.SignMessage(context.Background(), "gm")
	require.NoError(t, err)
	assert.True(t, record.Verified)

	requests := 0
	for _, method := range b.seen() {
		if method == "wc_sessionRequest" {
			requests++
		}
	}
	assert.Equal(t, 2, requests)
	require.NoError(t, controller.Disconnect(context.Background()))
}

func TestControllerOverWalletConnect(t *testing.T) {
	b := newFakeBridge(t)
	controller, err := session.NewController(session.Options{
		Connector: NewConnector(testConfig(b)),
		OpenLink:  b.openLink,
	})
	require.NoError(t, err)

	require.NoError(t, controller.Connect(context.Background()))
	s := controller.Snapshot()
	assert.Equal(t, b.account(), s.Address)
	assert.Equal(t, "1.0", s.Balance)

	record, err := controller.SignMessage(context.Background(), "Hello from Dapp")
	require.NoError(t, err)
	assert.True(t, record.Verified)

	_, err = controller.SendTransaction(context.Background(), common.HexToAddress("0x3E1568D4ab414e776BAE3aef5c8Bd7Bf29E30D56"), big.NewInt(1))
	var rpcErr *RPCError
	assert.True(t, errors.As(err, &rpcErr))

	require.NoError(t, controller.Disconnect(context.Background()))
	assert.False(t, controller.Connected())
}

func TestDecryptPayloadRejectsTamperedHmac(t *testing.T) {
	key := make([]byte, 32)
	payload, err := encryptPayload(key, `{"id":1}`)
	require.NoError(t, err)
	payload.Hmac = strings.Repeat("0", 64)
	_, err = decryptPayload(key, payload.Marshal())
	assert.Error(t, err)
}

func TestDecryptPayloadRejectsShortIV(t *testing.T) {
	key := make([]byte, 32)
	payload, err := encryptPayload(key, `{"id":1}`)
	require.NoError(t, err)
	data, err := hex.DecodeString(payload.Data)
	require.NoError(t, err)
	iv := make([]byte, 8)
	payload.IV = hex.EncodeToString(iv)
	payload.Hmac = hex.EncodeToString(bridge.HmacSha256(append(data, iv...), key))

	assert.NotPanics(t, func() {
		_, err = decryptPayload(key, payload.Marshal())
	})
	assert.Error(t, err)
}

func TestPayloadIDsAreUniqueAndSafeForJS(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 500; i++ {
		id := payloadID()
		assert.False(t, seen[id])
		assert.Less(t, id, int64(1)<<53)
		seen[id] = true
	}
}
