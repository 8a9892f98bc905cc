package config

import (
	"flag"
	"io/ioutil"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"moff.io/dapp-wallet/pkg/errors"
)

// Configuration struct
type Configuration struct {
	// 0 debug 1 info 2 warn 3 error
	LogLevel      int           `yaml:"log_level"`
	Network       Network       `yaml:"network"`
	Dapp          Dapp          `yaml:"dapp"`
	WalletConnect WalletConnect `yaml:"wallet_connect"`
	Demo          Demo          `yaml:"demo"`
	HTTP          HTTP          `yaml:"http"`
	Reporters     Reporters     `yaml:"reporters"`
	KafkaServer   string        `yaml:"kafka_server"`
}

type Network struct {
	ChainID int64 `yaml:"chain_id"`
	// Balance is read through this node when set, through the wallet otherwise.
	RPCURL string `yaml:"rpc_url"`
}

type Dapp struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Icons       []string `yaml:"icons"`
}

type WalletConnect struct {
	// Empty picks a random public bridge.
	BridgeURL      string        `yaml:"bridge_url"`
	DeepLinkPrefix string        `yaml:"deep_link_prefix"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// Demo holds the fixed inputs behind the demo buttons.
type Demo struct {
	Message   string `yaml:"message"`
	Recipient string `yaml:"recipient"`
	ValueWei  string `yaml:"value_wei"`
	BindNonce bool   `yaml:"bind_nonce"`
}

type HTTP struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Reporters struct {
	SentryDSN       string        `yaml:"sentry_dsn"`
	LarkWebhook     string        `yaml:"lark_webhook"`
	DingTalkWebhook string        `yaml:"dingtalk_webhook"`
	DingTalkSecret  string        `yaml:"dingtalk_secret"`
	Silent          time.Duration `yaml:"silent"`
}

// Default returns the configuration used for every key missing from the file.
func Default() Configuration {
	return Configuration{
		LogLevel: 1,
		Network:  Network{ChainID: 1},
		Dapp: Dapp{
			Name:        "My RN Dapp",
			Description: "Wallet session demo",
			URL:         "https://rndapp.com",
		},
		WalletConnect: WalletConnect{
			DeepLinkPrefix: "metamask://wc?uri=",
			ReadTimeout:    5 * time.Minute,
		},
		Demo: Demo{
			Message:   "Hello from Dapp",
			Recipient: "0x3E1568D4ab414e776BAE3aef5c8Bd7Bf29E30D56",
			ValueWei:  "0x2386F26FC10000",
		},
		HTTP:      HTTP{Address: ":8080", RequestTimeout: 6 * time.Minute},
		Reporters: Reporters{Silent: time.Minute},
	}
}

func (c *Configuration) validate() error {
	if !common.IsHexAddress(c.Demo.Recipient) {
		return errors.Errorf("demo recipient %q is not an address", c.Demo.Recipient)
	}
	if _, err := c.Demo.Value(); err != nil {
		return err
	}
	if c.WalletConnect.ReadTimeout <= 0 {
		return errors.New("wallet_connect.read_timeout must be positive")
	}
	return nil
}

// Value parses ValueWei, hex with 0x prefix or decimal.
func (d Demo) Value() (*big.Int, error) {
	s := d.ValueWei
	base := 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, errors.Errorf("demo value %q is not a wei amount", d.ValueWei)
	}
	return v, nil
}

func (d Demo) RecipientAddress() common.Address {
	return common.HexToAddress(d.Recipient)
}

func readConfig(path string) (Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	t := Default()
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, errors.Errorf("file %s does not exist", path)
		}
		return t, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return t, errors.Wrap(err, "fail to decode config")
	}
	if err := t.validate(); err != nil {
		return t, err
	}
	return t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := readConfig(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = &globalConfig
}
