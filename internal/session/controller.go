package session

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/dapp-wallet/internal/chains"
	"moff.io/dapp-wallet/internal/notify"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/ethsig"
	"moff.io/dapp-wallet/pkg/log"
)

type Options struct {
	Connector Connector
	// Backend binds balance reads after connect. Nil reads through the provider.
	Backend BalanceBackend
	// Notifier receives alerts and toasts. Nil logs them.
	Notifier notify.Notifier
	// OpenLink opens pairing deep links. Its failures never fail Connect.
	OpenLink OpenLinkFn
	// Network sets the balance decimals. Nil means Ethereum mainnet.
	Network *chains.Blockchain
	// BindNonce appends the per-call nonce to the signed text.
	BindNonce bool
	Now       func() time.Time
}

// Controller owns one wallet session and sequences every request made against it.
// Each operation type is single-flight: an overlapping call of the same type fails with
// ErrRequestInFlight instead of racing the first one.
type Controller struct {
	connector Connector
	backend   BalanceBackend
	notifier  notify.Notifier
	openLink  OpenLinkFn
	network   *chains.Blockchain
	bindNonce bool
	now       func() time.Time

	mu sync.RWMutex
	st state

	// busy is set for the span of a balance fetch.
	busy       atomic.Bool
	connecting atomic.Bool
	sending    atomic.Bool
	signing    atomic.Bool
}

func NewController(opts Options) (*Controller, error) {
	if opts.Connector == nil {
		return nil, errors.New("session controller needs a connector")
	}
	c := &Controller{
		connector: opts.Connector,
		backend:   opts.Backend,
		notifier:  opts.Notifier,
		openLink:  opts.OpenLink,
		network:   opts.Network,
		bindNonce: opts.BindNonce,
		now:       opts.Now,
	}
	if c.backend == nil {
		c.backend = func(_ context.Context, p Provider) (chains.BalanceReader, error) {
			return chains.NewProviderBalanceReader(p), nil
		}
	}
	if c.notifier == nil {
		c.notifier = notify.NewLogNotifier()
	}
	if c.network == nil {
		c.network = chains.Mapping[1]
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Connect pairs with a wallet, selects its first account and refreshes the balance.
// Calling it while connected opens nothing and returns ErrAlreadyConnected.
func (c *Controller) Connect(ctx context.Context) error {
	c.pruneEnded()
	if c.Connected() {
		c.alert(msgAlreadyConnected)
		return ErrAlreadyConnected
	}
	if !c.connecting.CAS(false, true) {
		return ErrRequestInFlight
	}
	defer c.connecting.Store(false)
	// a connect may have finished between the check above and taking the flag
	if c.Connected() {
		c.alert(msgAlreadyConnected)
		return ErrAlreadyConnected
	}

	provider, err := c.connector.Connect(ctx, c.safeOpenLink)
	if err != nil {
		c.alert(err.Error())
		return errors.Wrap(err, "connect wallet")
	}
	address, err := requestAccount(ctx, provider)
	if err != nil {
		c.closeProvider(provider)
		c.alert(err.Error())
		return err
	}
	reader, err := c.backend(ctx, provider)
	if err != nil {
		c.closeProvider(provider)
		c.alert(err.Error())
		return errors.Wrap(err, "bind balance backend")
	}

	st := state{provider: provider, reader: reader, address: address}
	if watcher, ok := provider.(SessionWatcher); ok {
		st.done, st.stop = watcher.Done(), make(chan struct{})
		go c.watch(provider, st.done, st.stop)
	}
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
	log.Infof("session - connected to %v on %v", address, c.network.Name)

	if err := c.RefreshBalance(ctx); err != nil {
		log.Debugf("session - balance after connect:%v", err)
	}
	return nil
}

func requestAccount(ctx context.Context, provider Provider) (string, error) {
	result, err := provider.Request(ctx, MethodRequestAccounts)
	if err != nil {
		return "", errors.Wrap(err, "request accounts")
	}
	accounts := gjson.Parse(result).Array()
	if len(accounts) == 0 {
		return "", ErrNoAccounts
	}
	address := accounts[0].String()
	if !common.IsHexAddress(address) {
		return "", errors.Errorf("wallet returned invalid account %q", address)
	}
	return address, nil
}

// safeOpenLink never reports failure, the pairing can still complete from a QR code.
func (c *Controller) safeOpenLink(link string) error {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("session - open link panicked:%v", r)
		}
	}()
	if c.openLink == nil {
		return nil
	}
	if err := c.openLink(link); err != nil {
		log.Debugf("session - open link %v:%v", link, err)
	}
	return nil
}

// Disconnect closes the provider and forgets every reading of the session.
func (c *Controller) Disconnect(_ context.Context) error {
	c.mu.Lock()
	provider, reader, address, stop := c.st.provider, c.st.reader, c.st.address, c.st.stop
	c.st = state{}
	c.mu.Unlock()
	if provider == nil {
		return nil
	}
	if stop != nil {
		close(stop)
	}
	closeReader(reader)
	c.closeProvider(provider)
	log.Infof("session - disconnected %v", address)
	c.toast("Wallet disconnected")
	return nil
}

// watch drops the session once the wallet side ends it.
func (c *Controller) watch(provider Provider, done <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-done:
		c.endSession(provider)
	case <-stop:
	}
}

// pruneEnded drops a session whose provider already ended, before its watcher gets to it.
func (c *Controller) pruneEnded() {
	c.mu.RLock()
	provider, ended := c.st.provider, c.st.ended()
	c.mu.RUnlock()
	if ended {
		c.endSession(provider)
	}
}

// endSession returns to Disconnected after the provider stopped serving. It does nothing
// when provider no longer backs the current session.
func (c *Controller) endSession(provider Provider) {
	c.mu.Lock()
	if provider == nil || c.st.provider != provider {
		c.mu.Unlock()
		return
	}
	reader, address := c.st.reader, c.st.address
	c.st = state{}
	c.mu.Unlock()

	closeReader(reader)
	c.closeProvider(provider)
	log.Warnf("session - session of %v ended by the wallet", address)
	c.alert(msgSessionEnded)
}

// requestFailed ends the session when the failure came from a closed provider.
func (c *Controller) requestFailed(provider Provider, err error) {
	if errors.Is(err, ErrProviderClosed) {
		c.endSession(provider)
	}
}

func (c *Controller) closeProvider(provider Provider) {
	if err := provider.Close(); err != nil {
		log.Warnf("session - close provider:%v", err)
	}
}

func closeReader(reader chains.BalanceReader) {
	if closer, ok := reader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warnf("session - close balance reader:%v", err)
		}
	}
}

// RefreshBalance reads the balance of the connected account. A failed read keeps the
// previous reading.
func (c *Controller) RefreshBalance(ctx context.Context) error {
	c.pruneEnded()
	c.mu.RLock()
	provider, reader, address := c.st.provider, c.st.reader, c.st.address
	c.mu.RUnlock()
	if provider == nil || address == "" {
		c.alert(msgConnectFirst)
		return ErrNotConnected
	}
	if !c.busy.CAS(false, true) {
		return ErrRequestInFlight
	}
	defer c.busy.Store(false)

	wei, err := reader.BalanceAt(ctx, common.HexToAddress(address))
	if err != nil {
		log.Errorf("session - fetch balance of %v:%v", address, err)
		c.alert(fmt.Sprintf("Fetch balance failed: %v", err))
		c.requestFailed(provider, err)
		return errors.Wrap(err, "refresh balance")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.provider != provider {
		return ErrSessionChanged
	}
	c.st.balance = &BalanceReading{
		Wei:     wei,
		Display: chains.FormatUnits(wei, c.network.Decimals),
		AsOf:    c.now(),
	}
	log.Debugf("session - balance of %v: %v %v", address, c.st.balance.Display, c.network.Symbol)
	return nil
}

// SendTransaction asks the wallet to transfer value wei from the connected account to `to`
// and returns the transaction hash. Success refreshes the balance once.
func (c *Controller) SendTransaction(ctx context.Context, to common.Address, value *big.Int) (string, error) {
	provider, address, err := c.connectedProvider()
	if err != nil {
		return "", err
	}
	if value == nil || value.Sign() < 0 {
		return "", errors.New("transaction value must be a non-negative amount")
	}
	if !c.sending.CAS(false, true) {
		return "", ErrRequestInFlight
	}
	defer c.sending.Store(false)

	params := txParams{
		From:  address,
		To:    to.Hex(),
		Value: hexutil.EncodeBig(value),
	}
	log.Debugf("session - send transaction %+v", params)
	result, err := provider.Request(ctx, MethodSendTransaction, params)
	if err != nil {
		log.Errorf("session - send transaction:%v", err)
		c.alert(fmt.Sprintf("Send transaction failed: %v", err))
		c.requestFailed(provider, err)
		return "", errors.Wrap(err, "send transaction")
	}
	hash := gjson.Parse(result).String()
	if hash == "" {
		c.alert("Send transaction failed: empty transaction hash")
		return "", errors.Errorf("wallet returned no transaction hash: %v", result)
	}

	c.mu.Lock()
	if c.st.provider != provider {
		c.mu.Unlock()
		return "", ErrSessionChanged
	}
	c.st.receipt = &TransactionReceipt{Hash: hash}
	c.mu.Unlock()
	log.Infof("session - transaction submitted:%v", hash)

	if err := c.RefreshBalance(ctx); err != nil {
		log.Debugf("session - balance after transaction:%v", err)
	}
	return hash, nil
}

// SignMessage asks the wallet to personal_sign message, then verifies the signer and
// refreshes the balance.
func (c *Controller) SignMessage(ctx context.Context, message string) (SignatureRecord, error) {
	provider, address, err := c.connectedProvider()
	if err != nil {
		return SignatureRecord{}, err
	}
	if !c.signing.CAS(false, true) {
		return SignatureRecord{}, ErrRequestInFlight
	}
	defer c.signing.Store(false)

	nonce := c.now().UnixNano() / int64(time.Millisecond)
	text := message
	if c.bindNonce {
		text = BindNonce(message, nonce)
	}
	result, err := provider.Request(ctx, MethodPersonalSign, text, address, nonce)
	if err != nil {
		log.Errorf("session - sign message:%v", err)
		c.alert(fmt.Sprintf("Sign message failed: %v", err))
		c.requestFailed(provider, err)
		return SignatureRecord{}, errors.Wrap(err, "sign message")
	}
	signature := gjson.Parse(result).String()
	if signature == "" {
		c.alert("Sign message failed: empty signature")
		return SignatureRecord{}, errors.Errorf("wallet returned no signature: %v", result)
	}

	c.mu.Lock()
	if c.st.provider != provider {
		c.mu.Unlock()
		return SignatureRecord{}, ErrSessionChanged
	}
	c.st.signature = &SignatureRecord{Message: text, Signature: signature, Nonce: nonce}
	c.mu.Unlock()

	if _, err := c.VerifySignature(); err != nil {
		log.Warnf("session - verify signature:%v", err)
	}
	if err := c.RefreshBalance(ctx); err != nil {
		log.Debugf("session - balance after signing:%v", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.st.signature == nil {
		return SignatureRecord{}, ErrSessionChanged
	}
	return *c.st.signature, nil
}

// BindNonce is the text signed when nonces are bound into the message.
func BindNonce(message string, nonce int64) string {
	return fmt.Sprintf("%s\nNonce: %d", message, nonce)
}

// VerifySignature recovers the signer of the stored signature and compares it with the
// connected account. A match raises one "Account Verified" toast.
func (c *Controller) VerifySignature() (bool, error) {
	c.mu.Lock()
	record, address := c.st.signature, c.st.address
	if record == nil {
		c.mu.Unlock()
		return false, ErrNoSignature
	}
	recovered, err := ethsig.RecoverAddress([]byte(record.Message), record.Signature)
	verified := err == nil && ethsig.SameAddress(recovered.Hex(), address)
	record.Verified = verified
	c.mu.Unlock()

	if err != nil {
		return false, err
	}
	log.Debugf("session - recovered %v, connected %v", recovered.Hex(), address)
	if verified {
		c.toast(msgAccountVerified)
	}
	return verified, nil
}

func (c *Controller) connectedProvider() (Provider, string, error) {
	c.pruneEnded()
	c.mu.RLock()
	provider, address := c.st.provider, c.st.address
	c.mu.RUnlock()
	if provider == nil || address == "" {
		c.alert(msgConnectFirstSend)
		return nil, "", ErrNotConnected
	}
	return provider, address, nil
}

func (c *Controller) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st.connected()
}

// Busy reports whether a balance fetch is pending.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

func (c *Controller) Network() *chains.Blockchain {
	return c.network
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Connected: c.st.connected(),
		Address:   c.st.address,
		Symbol:    c.network.Symbol,
		Busy:      c.busy.Load(),
	}
	if b := c.st.balance; b != nil {
		asOf := b.AsOf
		s.Balance, s.BalanceAt = b.Display, &asOf
	}
	if r := c.st.receipt; r != nil {
		s.TxHash = r.Hash
	}
	if sig := c.st.signature; sig != nil {
		s.Signature, s.Message, s.Verified = sig.Signature, sig.Message, sig.Verified
	}
	return s
}

// ReportFields describes the session for error reports.
func (c *Controller) ReportFields() []errors.ReportField {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return []errors.ReportField{
		{Name: "Network", Value: fmt.Sprintf("%v (%v)", c.network.Name, c.network.ID)},
		{Name: "Connected", Value: strconv.FormatBool(c.st.connected())},
		{Name: "Address", Value: c.st.address},
	}
}

func (c *Controller) alert(msg string) {
	c.notify(notify.KindAlert, msg)
}

func (c *Controller) toast(msg string) {
	c.notify(notify.KindToast, msg)
}

func (c *Controller) notify(kind notify.Kind, msg string) {
	c.mu.RLock()
	address := c.st.address
	c.mu.RUnlock()
	c.notifier.Notify(notify.Notification{Kind: kind, Message: msg, Address: address, At: c.now()})
}
