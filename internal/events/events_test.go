package events

import (
	"context"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

var settledAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func settledOrder() *order.Order {
	return &order.Order{
		ID:               "42",
		TransactionID:    "T1",
		ProductID:        "ebook",
		Amount:           decimal.NewFromInt(1000),
		Status:           order.StatusCompleted,
		PaymentStatus:    order.PaymentPaid,
		DeliveredContent: &order.DeliveredContent{DownloadLink: "https://cdn.test/secret.pdf"},
	}
}

func decodeEvent(t *testing.T, data []byte) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			out[key] = s
			return err
		case jx.Bool:
			b, err := d.Bool()
			if b {
				out[key] = "true"
			} else {
				out[key] = "false"
			}
			return err
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return out
}

func TestEncode(t *testing.T) {
	data := Encode(settledOrder(), settledAt)
	ev := decodeEvent(t, data)

	assert.Equal(t, TypeOrderSettled, ev["type"])
	assert.Equal(t, "T1", ev["transaction_id"])
	assert.Equal(t, "1000.00", ev["amount"])
	assert.Equal(t, "completed", ev["status"])
	assert.Equal(t, "true", ev["delivered"])
	assert.Equal(t, "2026-03-01T12:00:00Z", ev["occurred_at"])
	assert.NotContains(t, string(data), "secret.pdf")
	assert.NotContains(t, ev, "user_id")
}

func TestKafka_Settled(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if decodeEvent(t, val)["transaction_id"] != "T1" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := newKafka(producer, "orders")
	k.now = func() time.Time { return settledAt }

	require.NoError(t, k.Settled(context.Background(), settledOrder()))
	require.ErrorIs(t, k.Settled(context.Background(), settledOrder()), sarama.ErrOutOfBrokers)
	require.NoError(t, k.Close())
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNS_Settled(t *testing.T) {
	client := &fakeSNS{}
	s := newSNS(client, "arn:aws:sns:eu-west-1:000000000000:orders")
	s.now = func() time.Time { return settledAt }

	require.NoError(t, s.Settled(context.Background(), settledOrder()))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:eu-west-1:000000000000:orders", aws.ToString(in.TopicArn))
	assert.Equal(t, "T1", decodeEvent(t, []byte(aws.ToString(in.Message)))["transaction_id"])
	assert.Equal(t, TypeOrderSettled, aws.ToString(in.MessageAttributes["type"].StringValue))

	client.err = errors.New("throttled")
	require.Error(t, s.Settled(context.Background(), settledOrder()))
}

func TestNewPublishers_Validate(t *testing.T) {
	_, err := NewKafka(nil, "orders")
	require.Error(t, err)
	_, err = NewSNS(context.Background(), "")
	require.Error(t, err)
}
