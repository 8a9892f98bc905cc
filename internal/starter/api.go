package starter

import (
	"context"

	"moff.io/dapp-wallet/internal/config"
	"moff.io/dapp-wallet/pkg/log"
)

type Startable interface {
	Start(ctx context.Context)
}

type Configurable interface {
	Apply(*config.Configuration)
}

type Stopable interface {
	Stop()
}

// Start applies config.Global to every Configurable element, then starts them in order.
func Start(ctx context.Context, elems ...Startable) {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok && config.Global != nil {
			configurable.Apply(config.Global)
		}
		ele.Start(ctx)
	}
}

// Stop stops the Stopable elements in reverse start order.
func Stop(elems ...Startable) {
	for i := len(elems) - 1; i >= 0; i-- {
		if stopable, ok := elems[i].(Stopable); ok {
			stopable.Stop()
		}
	}
	log.Info("all components stopped")
}
