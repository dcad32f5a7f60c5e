package events

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

// snsAPI is the subset of *sns.Client used here.
type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes events to an SNS topic.
type SNS struct {
	client   snsAPI
	topicARN string
	now      func() time.Time
}

var _ Publisher = (*SNS)(nil)

// NewSNS creates a publisher using the default AWS credential chain.
func NewSNS(ctx context.Context, topicARN string) (*SNS, error) {
	if topicARN == "" {
		return nil, errors.New("sns topic arn required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return newSNS(sns.NewFromConfig(cfg), topicARN), nil
}

func newSNS(client snsAPI, topicARN string) *SNS {
	return &SNS{client: client, topicARN: topicARN, now: time.Now}
}

func (s *SNS) Settled(ctx context.Context, o *order.Order) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(Encode(o, s.now()))),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(TypeOrderSettled)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s for %s", TypeOrderSettled, o.TransactionID)
	}
	return nil
}

func (s *SNS) Close() error { return nil }
