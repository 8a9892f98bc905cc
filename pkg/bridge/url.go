package bridge

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"
)

var (
	randomMu sync.Mutex
	random   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomBridgeURL picks one of the public v1 bridge shards.
func RandomBridgeURL() string {
	randomMu.Lock()
	c := alphanumerical[random.Intn(len(alphanumerical))]
	randomMu.Unlock()
	return fmt.Sprintf(bridgeURLFormat, string(c))
}

// WebSocketURL converts a bridge URL into its websocket endpoint.
func WebSocketURL(bridgeURL, protocol, version string) string {
	switch {
	case strings.HasPrefix(bridgeURL, "https://"):
		bridgeURL = "wss://" + strings.TrimPrefix(bridgeURL, "https://")
	case strings.HasPrefix(bridgeURL, "http://"):
		bridgeURL = "ws://" + strings.TrimPrefix(bridgeURL, "http://")
	}
	q := url.Values{}
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "go")
	return bridgeURL + "?" + q.Encode()
}

// PairingURI builds the v1 pairing URI: wc:{topic}@1?bridge={url}&key={hex}.
func PairingURI(handshakeTopic, bridgeURL, keyHex string) string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s", handshakeTopic, url.QueryEscape(bridgeURL), keyHex)
}

// DeepLink hands the pairing URI to a wallet app. A prefix ending in "uri=" gets the escaped
// URI appended, any other prefix gets the raw URI, an empty prefix returns the URI itself.
func DeepLink(prefix, pairingURI string) string {
	if prefix == "" {
		return pairingURI
	}
	if strings.HasSuffix(prefix, "uri=") {
		return prefix + url.QueryEscape(pairingURI)
	}
	return prefix + pairingURI
}
