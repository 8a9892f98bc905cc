package notify

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"moff.io/dapp-wallet/pkg/log"
)

type Kind string

const (
	// KindAlert is a modal message the user has to dismiss.
	KindAlert Kind = "alert"
	// KindToast is a short-lived message.
	KindToast Kind = "toast"
)

type Notification struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Address string    `json:"address,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier delivers user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type logNotifier struct{}

// NewLogNotifier writes every notification to the application log.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(n Notification) {
	switch n.Kind {
	case KindAlert:
		log.Warnf("notify - alert:%v", n.Message)
	default:
		log.Infof("notify - %v:%v", n.Kind, n.Message)
	}
}

type multi []Notifier

// Multi fans a notification out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}

// Feed keeps the most recent notifications for a presentation layer to poll.
type Feed struct {
	mu     sync.Mutex
	buffer *circularbuffer.Queue
}

const DefaultFeedSize = 50

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{buffer: circularbuffer.New(size)}
}

func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer.Enqueue(n)
}

// Recent returns the buffered notifications, oldest first.
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := f.buffer.Values()
	out := make([]Notification, 0, len(values))
	for _, v := range values {
		out = append(out, v.(Notification))
	}
	return out
}

// Drain returns the buffered notifications and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, 0, f.buffer.Size())
	for {
		v, ok := f.buffer.Dequeue()
		if !ok {
			return out
		}
		out = append(out, v.(Notification))
	}
}
