package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

type cloudWatchLogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient ships log lines to one log stream. It implements
// io.Writer so it can be tee'd into a zap core.
type CloudWatchLogsClient struct {
	client        cloudWatchLogsAPI
	logGroupName  string
	logStreamName string

	mu            sync.Mutex
	sequenceToken *string
}

// NewCloudWatchLogsClient creates the log group (30 day retention) if
// needed and a fresh stream named after the service.
func NewCloudWatchLogsClient(ctx context.Context, cfg sdkaws.Config, logGroupName, serviceName string) (*CloudWatchLogsClient, error) {
	return newCloudWatchLogsClient(ctx, cloudwatchlogs.NewFromConfig(cfg), logGroupName, serviceName)
}

func newCloudWatchLogsClient(ctx context.Context, client cloudWatchLogsAPI, logGroupName, serviceName string) (*CloudWatchLogsClient, error) {
	if logGroupName == "" {
		logGroupName = "/catalog/services"
	}
	c := &CloudWatchLogsClient{
		client:        client,
		logGroupName:  logGroupName,
		logStreamName: fmt.Sprintf("%s-%d", serviceName, time.Now().Unix()),
	}
	if err := c.ensureLogGroup(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure log group: %w", err)
	}
	if _, err := c.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  sdkaws.String(c.logGroupName),
		LogStreamName: sdkaws.String(c.logStreamName),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream: %w", err)
	}
	return c, nil
}

func (c *CloudWatchLogsClient) ensureLogGroup(ctx context.Context) error {
	_, err := c.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: sdkaws.String(c.logGroupName),
	})
	if err != nil {
		var existsErr *types.ResourceAlreadyExistsException
		if !errors.As(err, &existsErr) {
			return err
		}
	}

	_, err = c.client.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    sdkaws.String(c.logGroupName),
		RetentionInDays: sdkaws.Int32(30),
	})
	if err != nil {
		return fmt.Errorf("failed to set retention policy: %w", err)
	}
	return nil
}

// PutLogEvents sends log events to CloudWatch Logs
func (c *CloudWatchLogsClient) PutLogEvents(ctx context.Context, events []types.InputLogEvent) error {
	if len(events) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	output, err := c.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  sdkaws.String(c.logGroupName),
		LogStreamName: sdkaws.String(c.logStreamName),
		LogEvents:     events,
		SequenceToken: c.sequenceToken,
	})
	if err != nil {
		return fmt.Errorf("failed to put log events: %w", err)
	}
	c.sequenceToken = output.NextSequenceToken
	return nil
}

// Write implements io.Writer. Shipping errors go to stderr and never fail
// the write.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	event := types.InputLogEvent{
		Message:   sdkaws.String(string(p)),
		Timestamp: sdkaws.Int64(time.Now().UnixMilli()),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.PutLogEvents(ctx, []types.InputLogEvent{event}); err != nil {
		fmt.Fprintf(os.Stderr, "CloudWatch write error: %v\n", err)
	}
	return len(p), nil
}
