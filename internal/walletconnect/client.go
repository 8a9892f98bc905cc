package walletconnect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/dapp-wallet/internal/session"
	"moff.io/dapp-wallet/pkg/bridge"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
)

var (
	// ErrSessionClosed matches session.ErrProviderClosed, the controller drops the session on it.
	ErrSessionClosed   = errors.WithMessage(session.ErrProviderClosed, "wallet connect")
	ErrSessionRejected = errors.New("wallet connect session rejected")
)

// client is one bridge session. It is the session.Provider handed to the controller once
// the wallet approved the session request.
//
// A single reader goroutine owns the socket: it acks every message, applies wallet
// initiated session updates and hands JSON-RPC responses to the waiting request by id.
type client struct {
	conf Config

	// Non zero value means connect was already called, recreate the client instead.
	connectCount atomic.Int64
	closing      atomic.Bool
	closed       atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn

	// done is closed once the session ended, whichever side ended it.
	done         chan struct{}
	shutdownOnce sync.Once

	pendingMu sync.Mutex
	pending   map[int64]chan string

	bridgeURL      string
	handshakeTopic string
	clientID       string
	encryptionKey  []byte

	walletMu sync.RWMutex
	wallet   Wallet
}

func newClient(conf Config) (*client, error) {
	encryptionKey, err := bridge.GenerateRandomBytes(256 / 8)
	if err != nil {
		return nil, err
	}
	bridgeURL := conf.BridgeURL
	if bridgeURL == "" {
		bridgeURL = bridge.RandomBridgeURL()
	}
	return &client{
		conf:           conf,
		done:           make(chan struct{}),
		pending:        make(map[int64]chan string),
		encryptionKey:  encryptionKey,
		bridgeURL:      bridgeURL,
		handshakeTopic: uuid.NewString(),
		clientID:       uuid.NewString(),
	}, nil
}

// PairingURI 返回钱包连接的uri，可生成二维码或deep link
func (c *client) PairingURI() string {
	return bridge.PairingURI(c.handshakeTopic, c.bridgeURL, hex.EncodeToString(c.encryptionKey))
}

func (c *client) connect(ctx context.Context, openLink session.OpenLinkFn) error {
	if !c.connectCount.CAS(0, 1) {
		return errors.NewWithReport("duplicate connect on wallet connect client")
	}
	if err := c.dialWS(ctx); err != nil {
		return err
	}
	go c.readLoop()
	if err := c.subscribe(); err != nil {
		return err
	}
	request := c.sessionRequest()
	response := c.expect(request.Id)
	defer c.forget(request.Id)
	if err := c.publish(c.handshakeTopic, request); err != nil {
		return err
	}
	uri := c.PairingURI()
	log.Debugf("wallet connect - pairing uri:%v", uri)
	if openLink != nil {
		if err := openLink(bridge.DeepLink(c.conf.DeepLinkPrefix, uri)); err != nil {
			return err
		}
	}
	payload, err := c.wait(ctx, response)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return ErrSessionRejected
		}
		return err
	}
	return c.createSessionResponse(payload)
}

func (c *client) dialWS(ctx context.Context) error {
	wsURL := bridge.WebSocketURL(c.bridgeURL, "wc", "1")
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.WrapAndReport(err, "dial to wallet connect bridge url")
	}
	c.conn = conn
	return nil
}

// Request implements session.Provider. Account queries are answered from the approved
// session, everything else is relayed to the wallet.
func (c *client) Request(ctx context.Context, method string, params ...interface{}) (string, error) {
	if c.closed.Load() {
		return "", ErrSessionClosed
	}
	switch method {
	case session.MethodRequestAccounts, "eth_accounts":
		c.walletMu.RLock()
		accounts := c.wallet.Accounts
		c.walletMu.RUnlock()
		out, err := json.Marshal(accounts)
		if err != nil {
			return "", errors.WithStack(err)
		}
		return string(out), nil
	case "eth_chainId":
		c.walletMu.RLock()
		chainID := c.wallet.ChainID
		c.walletMu.RUnlock()
		return `"` + hexutil.EncodeUint64(uint64(chainID)) + `"`, nil
	}

	request := newJSONRpcRequest(method, params...)
	response := c.expect(request.Id)
	defer c.forget(request.Id)
	if err := c.publish(c.peerID(), request); err != nil {
		return "", err
	}
	payload, err := c.wait(ctx, response)
	if err != nil {
		return "", err
	}
	if rpcErr := gjson.Get(payload, "error"); rpcErr.Exists() {
		return "", &RPCError{Code: rpcErr.Get("code").Int(), Message: rpcErr.Get("message").String()}
	}
	return gjson.Get(payload, "result").Raw, nil
}

// Done implements session.SessionWatcher.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Close ends the session on the wallet side and closes the socket, failing any pending
// request with ErrSessionClosed.
func (c *client) Close() error {
	if !c.closing.CAS(false, true) {
		return nil
	}
	if c.conn != nil && !c.closed.Load() {
		if peerID := c.peerID(); peerID != "" {
			update := newJSONRpcRequest("wc_sessionUpdate", sessionUpdate{Approved: false})
			if err := c.publish(peerID, update); err != nil {
				log.Warnf("wallet connect - kill session:%v", err)
			}
		}
	}
	c.shutdown()
	return nil
}

// shutdown marks the session closed and releases the socket, safe to call from any side.
func (c *client) shutdown() {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *client) peerID() string {
	c.walletMu.RLock()
	defer c.walletMu.RUnlock()
	return c.wallet.PeerID
}

// Wallet returns the approved peer.
func (c *client) Wallet() Wallet {
	c.walletMu.RLock()
	defer c.walletMu.RUnlock()
	return c.wallet
}

// expect registers a waiter for the response with id, before the request is published.
func (c *client) expect(id int64) <-chan string {
	ch := make(chan string, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *client) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// wait blocks until the response arrives, the session ends or ctx is done. Giving up on
// one response leaves the socket usable for the next request.
func (c *client) wait(ctx context.Context, response <-chan string) (string, error) {
	if c.conf.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.ReadTimeout)
		defer cancel()
	}
	select {
	case payload := <-response:
		return payload, nil
	case <-c.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "wait for wallet response")
	}
}

func (c *client) sendRequest(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if c.closed.Load() {
			return ErrSessionClosed
		}
		return errors.WrapAndReport(err, "write wallet connect message to server")
	}
	return nil
}

func (c *client) publish(topic string, request *jsonRpcRequest) error {
	payload, err := encryptPayload(c.encryptionKey, request.Marshal())
	if err != nil {
		return err
	}
	msg := wcMessage{
		Topic:   topic,
		Type:    "pub",
		Payload: payload.Marshal(),
		Silent:  request.IsSilentPayload(),
	}
	log.Debugf("wallet connect - publish %v to %v", request.Method, topic)
	return c.sendRequest(msg.Marshal())
}

func (c *client) subscribe() error {
	msg := wcMessage{
		Topic:  c.clientID,
		Type:   "sub",
		Silent: true,
	}
	log.Debugf("wallet connect - subscribe session:%v", string(msg.Marshal()))
	return c.sendRequest(msg.Marshal())
}

func (c *client) ack(topic string) error {
	msg := wcMessage{
		Topic:  topic,
		Type:   "ack",
		Silent: true,
	}
	return c.sendRequest(msg.Marshal())
}

func (c *client) sessionRequest() *jsonRpcRequest {
	var chainID interface{}
	if c.conf.ChainID != 0 {
		chainID = c.conf.ChainID
	}
	return newJSONRpcRequest("wc_sessionRequest", peer{
		PeerID:   c.clientID,
		PeerMeta: c.conf.Meta,
		ChainID:  chainID,
	})
}

func (c *client) createSessionResponse(response string) error {
	log.Debugf("wallet connect - create session response:%v", response)
	if errStr := gjson.Get(response, "error.message").String(); errStr != "" {
		if strings.Contains(errStr, "Session Rejected") {
			return ErrSessionRejected
		}
		return errors.New(errStr)
	}
	var wallet Wallet
	if err := json.Unmarshal([]byte(gjson.Get(response, "result").Raw), &wallet); err != nil {
		return errors.WrapAndReport(err, "unmarshal wallet info")
	}
	if !wallet.Approved {
		return ErrSessionRejected
	}
	if len(wallet.Accounts) == 0 {
		return errors.NewWithReport("no wallet accounts acquired")
	}
	c.walletMu.Lock()
	c.wallet = wallet
	c.walletMu.Unlock()
	log.Infof("wallet connect - session approved by %v, chain %v", wallet.Meta.Name, wallet.ChainID)
	return nil
}

// readLoop is the only reader of the socket. It ends the session when the socket fails or
// the wallet kills the session.
func (c *client) readLoop() {
	defer c.shutdown()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("wallet connect - read bridge message:%v", err)
			}
			return
		}
		payload, err := c.openMessage(msgType, data)
		if err != nil {
			log.Warnf("wallet connect - drop bridge message:%v", err)
			continue
		}
		if gjson.Get(payload, "method").Exists() {
			if closed := c.applySessionUpdate(payload); closed {
				return
			}
			continue
		}
		c.dispatch(payload)
	}
}

func (c *client) dispatch(payload string) {
	id := gjson.Get(payload, "id").Int()
	c.pendingMu.Lock()
	response, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if !ok {
		log.Debugf("wallet connect - skip response %v", gjson.Get(payload, "id").Raw)
		return
	}
	response <- payload
}

func (c *client) openMessage(msgType int, data []byte) (string, error) {
	if msgType != websocket.TextMessage {
		return "", errors.Errorf("unsupported message type %v", msgType)
	}
	log.Debugf("wallet connect - receive:%v", string(data))
	msg, err := newWCMessageFromBytes(data)
	if err != nil {
		return "", err
	}
	if err := c.ack(msg.Topic); err != nil {
		return "", err
	}
	return decryptPayload(c.encryptionKey, msg.Payload)
}

// applySessionUpdate 处理钱包发起的会话更新，返回会话是否被关闭
func (c *client) applySessionUpdate(jsonRpc string) (sessionClosed bool) {
	if gjson.Get(jsonRpc, "method").String() != "wc_sessionUpdate" {
		return false
	}
	var update sessionUpdate
	if err := json.Unmarshal([]byte(gjson.Get(jsonRpc, "params.0").Raw), &update); err != nil {
		log.Warnf("wallet connect - malformed session update %v", jsonRpc)
		return false
	}
	if !update.Approved {
		log.Warnf("wallet connect - session closed from request %v", jsonRpc)
		return true
	}
	c.walletMu.Lock()
	defer c.walletMu.Unlock()
	if len(update.Accounts) > 0 {
		c.wallet.Accounts = update.Accounts
	}
	if update.ChainID != nil {
		c.wallet.ChainID = *update.ChainID
	}
	return false
}
