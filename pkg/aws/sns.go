package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes raw messages to SNS topics.
type SNSClient struct {
	client snsAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg)}
}

// Publish publishes a raw message to the given SNS topic ARN.
func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	zap.L().Debug("sns publish", zap.String("topic_arn", topicArn), zap.Int("message_len", len(message)))

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
