package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.uber.org/zap"
)

// Options selects the region, credentials and endpoint the SDK clients use.
// An Endpoint (LocalStack edge URL, for example) is applied to every
// client built from the returned config.
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig loads the default credential chain, overridden by static
// credentials when both keys are set.
func LoadAWSConfig(ctx context.Context, opts Options) (sdkaws.Config, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	if opts.Endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(opts.Endpoint)
	}

	zap.L().Info("AWS configuration loaded",
		zap.String("region", cfg.Region),
		zap.String("endpoint", opts.Endpoint),
	)
	return cfg, nil
}
