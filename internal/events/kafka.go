package events

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

// Kafka publishes events to a topic, keyed by transaction id so all events
// of an order land on one partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

var _ Publisher = (*Kafka)(nil)

// NewKafka connects a synchronous producer to brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka brokers and topic required")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return newKafka(producer, topic), nil
}

func newKafka(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic, now: time.Now}
}

func (k *Kafka) Settled(_ context.Context, o *order.Order) error {
	_, _, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(o.TransactionID),
		Value: sarama.ByteEncoder(Encode(o, k.now())),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(TypeOrderSettled)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "send %s for %s", TypeOrderSettled, o.TransactionID)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
