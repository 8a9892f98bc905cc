package walletconnect

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/atomic"
	"moff.io/dapp-wallet/pkg/bridge"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
)

// Wallet is the peer that approved the session.
type Wallet struct {
	Meta     ClientMeta `json:"peerMeta"`
	ChainID  int        `json:"chainId"`
	Accounts []string   `json:"accounts"`
	PeerID   string     `json:"peerId"`
	Approved bool       `json:"approved"`
}

type ClientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type peer struct {
	PeerID   string      `json:"peerId"`
	PeerMeta ClientMeta  `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

type sessionUpdate struct {
	Approved bool     `json:"approved"`
	ChainID  *int     `json:"chainId"`
	Accounts []string `json:"accounts"`
}

// wcMessage is the envelope exchanged with the bridge.
type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

// wcMessagePayload is the encrypted JSON-RPC body carried by a wcMessage.
type wcMessagePayload struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

func (e *wcMessagePayload) Marshal() string {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

func encryptPayload(key []byte, jsonRpc string) (*wcMessagePayload, error) {
	iv, err := bridge.GenerateRandomBytes(128 / 8)
	if err != nil {
		return nil, errors.WrapAndReport(err, "generate random bytes")
	}
	data, err := bridge.Aes256Encrypt([]byte(jsonRpc), key, iv)
	if err != nil {
		return nil, err
	}
	unsigned := append(append([]byte{}, data...), iv...)
	return &wcMessagePayload{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(bridge.HmacSha256(unsigned, key)),
	}, nil
}

func decryptPayload(key []byte, payload string) (string, error) {
	var mp wcMessagePayload
	if err := json.Unmarshal([]byte(payload), &mp); err != nil {
		return "", errors.WrapAndReport(err, "unmarshal wallet connect message payload")
	}
	iv, err := hex.DecodeString(mp.IV)
	if err != nil {
		return "", errors.WrapAndReport(err, "decode iv hex")
	}
	cipher, err := hex.DecodeString(mp.Data)
	if err != nil {
		return "", errors.WrapAndReport(err, "decode cipher hex")
	}
	// 校验hmac一致性
	unsigned := append(append([]byte{}, cipher...), iv...)
	if hex.EncodeToString(bridge.HmacSha256(unsigned, key)) != strings.ToLower(mp.Hmac) {
		return "", errors.NewWithReport("inconsistent session message hmac")
	}
	data, err := bridge.Aes256Decrypt(cipher, key, iv)
	if err != nil {
		return "", errors.WrapAndReport(err, "aes256 decrypt")
	}
	return string(data), nil
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() string {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

// IsSilentPayload wc_ methods are protocol traffic, the wallet shows no push for them.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}

var payloadSeq atomic.Int64

// payloadID 毫秒时间戳*1000加序号，与js客户端一致，保持在2^53以内
func payloadID() int64 {
	return time.Now().UnixNano()/int64(time.Millisecond)*1000 + payloadSeq.Inc()%1000
}

// RPCError is an error object returned by the wallet.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}
