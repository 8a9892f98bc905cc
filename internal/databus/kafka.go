package databus

import (
	"strings"

	"gopkg.in/Shopify/sarama.v1"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
}

type DataBus struct {
	producer sarama.SyncProducer
}

var producer *DataBus

// InitDataBus connects the shared producer to a comma separated broker list. An empty list
// leaves the data bus disabled.
func InitDataBus(host string) error {
	if host == "" {
		log.Warn("empty kafka server found, skipping data bus initialization.")
		return nil
	}
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(strings.Split(host, ","), conf)
	if err != nil {
		return errors.WrapAndReport(err, "create kafka producer")
	}
	producer = NewDataBus(p)
	log.Info("Kafka producer initialized...")
	return nil
}

// GetDataBus returns the shared data bus, nil when InitDataBus was skipped.
func GetDataBus() *DataBus {
	return producer
}

func NewDataBus(p sarama.SyncProducer) *DataBus {
	return &DataBus{producer: p}
}

func (db *DataBus) PublishRaw(topic string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	partition, offset, err := db.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw)})
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("produce message success-partition: %d, offset: %d", partition, offset)
	return nil
}

func (db *DataBus) Publish(e Event) (err error) {
	return db.PublishRaw(e.Topic(), e.Serialize())
}

func (db *DataBus) Close() error {
	return db.producer.Close()
}
