package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"moff.io/dapp-wallet/internal/chains"
	"moff.io/dapp-wallet/internal/config"
	"moff.io/dapp-wallet/internal/databus"
	"moff.io/dapp-wallet/internal/deeplink"
	"moff.io/dapp-wallet/internal/http"
	"moff.io/dapp-wallet/internal/notify"
	"moff.io/dapp-wallet/internal/session"
	"moff.io/dapp-wallet/internal/starter"
	"moff.io/dapp-wallet/internal/walletconnect"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevel(conf.LogLevel)
	err := errors.SetupReporters(errors.ReportConfig{
		SentryDSN:       conf.Reporters.SentryDSN,
		LarkWebhook:     conf.Reporters.LarkWebhook,
		DingTalkWebhook: conf.Reporters.DingTalkWebhook,
		DingTalkSecret:  conf.Reporters.DingTalkSecret,
		Silent:          conf.Reporters.Silent,
	})
	if err != nil {
		log.Fatal(err)
	}
	network, err := chains.Lookup(int(conf.Network.ChainID))
	if err != nil {
		log.Fatal(err)
	}

	links := deeplink.NewRecorder()
	feed := notify.NewFeed(notify.DefaultFeedSize)
	notifiers := []notify.Notifier{notify.NewLogNotifier(), feed}
	if err := databus.InitDataBus(conf.KafkaServer); err != nil {
		log.Fatal(err)
	}
	if bus := databus.GetDataBus(); bus != nil {
		notifiers = append(notifiers, bus.Notifier(network.Name))
		defer bus.Close()
	}

	connector := walletconnect.NewConnector(walletconnect.Config{
		BridgeURL:      conf.WalletConnect.BridgeURL,
		DeepLinkPrefix: conf.WalletConnect.DeepLinkPrefix,
		ReadTimeout:    conf.WalletConnect.ReadTimeout,
		ChainID:        network.ID,
		Meta: walletconnect.ClientMeta{
			Name:        conf.Dapp.Name,
			Description: conf.Dapp.Description,
			URL:         conf.Dapp.URL,
			Icons:       conf.Dapp.Icons,
		},
	})
	controller, err := session.NewController(session.Options{
		Connector: connector,
		Backend: func(ctx context.Context, provider session.Provider) (chains.BalanceReader, error) {
			return chains.NewBalanceReader(ctx, conf.Network.RPCURL, provider)
		},
		Notifier:  notify.Multi(notifiers...),
		OpenLink:  links.Open,
		Network:   network,
		BindNonce: conf.Demo.BindNonce,
	})
	if err != nil {
		log.Fatal(err)
	}
	errors.SetReportContext(controller.ReportFields)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	server := http.NewServer(controller, links, feed)
	starter.Start(ctx, server)

	<-ctx.Done()
	log.Info("shutting down")
	if err := controller.Disconnect(context.Background()); err != nil {
		log.Warnf("disconnect wallet:%v", err)
	}
	starter.Stop(server)
}
