package aws

import (
	"context"
	"encoding/json"
	"log"
	"rentals/src/lib"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier fans events out through an SNS topic. Publishing happens on
// a separate goroutine with its own timeout.
type SNSNotifier struct {
	TopicArn string
	inner    snsPublisher
	timeout  time.Duration
}

func NewSNSNotifier(topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Printf("Error loading default config: %s\n", err.Error())
		return nil, err
	}
	return newSNSNotifier(sns.NewFromConfig(cfg), topicArn), nil
}

func newSNSNotifier(p snsPublisher, topicArn string) *SNSNotifier {
	return &SNSNotifier{TopicArn: topicArn, inner: p, timeout: 10 * time.Second}
}

func (s *SNSNotifier) input(e lib.Event) (*sns.PublishInput, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	in := &sns.PublishInput{
		TopicArn: aws.String(s.TopicArn),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(e.Name)},
		},
	}
	return in, nil
}

func (s *SNSNotifier) publish(ctx context.Context, e lib.Event) error {
	in, err := s.input(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.inner.Publish(ctx, in)
	if err != nil {
		log.Printf("[SNS] Error publishing %s: %s\n", e.Name, err.Error())
		return err
	}
	log.Printf("[SNS] Published %s: %s\n", e.Name, aws.ToString(out.MessageId))
	return nil
}

func (s *SNSNotifier) Notify(ctx context.Context, e lib.Event) {
	go s.publish(context.WithoutCancel(ctx), e)
}
