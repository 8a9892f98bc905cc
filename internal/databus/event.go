package databus

import (
	"encoding/json"

	"moff.io/dapp-wallet/internal/notify"
	"moff.io/dapp-wallet/pkg/log"
)

const TopicWalletSession = "wallet_session"

// SessionEvent mirrors a user notification raised by the session controller.
type SessionEvent struct {
	notify.Notification
	Network string `json:"network,omitempty"`
}

func (e SessionEvent) Topic() string {
	return TopicWalletSession
}

func (e SessionEvent) Serialize() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal session event:%v", err)
		return nil
	}
	return b
}

// Notifier publishes every notification as a SessionEvent. Publish failures are logged and
// never reach the caller.
func (db *DataBus) Notifier(network string) notify.Notifier {
	return notify.NotifierFunc(func(n notify.Notification) {
		if err := db.Publish(SessionEvent{Notification: n, Network: network}); err != nil {
			log.Errorf("databus - publish %v:%v", n.Kind, err)
		}
	})
}
