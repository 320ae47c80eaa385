package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	aws_pkg "github.com/yashrajoria/catalog-service/pkg/aws"
	"go.uber.org/zap"
)

// Config holds all environment variables for the catalog-service.
type Config struct {
	Port   string
	AppEnv string

	MongoURI            string
	MongoDB             string
	MongoConnectTimeout time.Duration
	MongoMaxPoolSize    int
	RedisURL            string

	AWS              aws_pkg.Options
	S3Endpoint       string
	S3Bucket         string
	S3StagingPrefix  string
	S3Prefix         string
	CloudFrontDomain string
	StagedAssetTable string
	CatalogTopicArn  string
	UseSecrets       bool
	SecretName       string

	ImportMaxRows      int
	IdentifierAttempts int
	CommitTimeout      time.Duration
	StagedAssetTTL     time.Duration

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
}

type secretGetter interface {
	GetSecretField(ctx context.Context, name, field string) (string, error)
}

// LoadConfig loads environment variables into Config struct and validates them.
// If AWS_USE_SECRETS=true the MONGO_URI and REDIS_URL keys of the
// AWS_SECRET_NAME key/value secret override the environment. Missing keys and
// lookup failures keep the environment values.
func LoadConfig(ctx context.Context) (*Config, error) {
	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			zap.L().Warn("Secrets Manager unavailable, using environment", zap.Error(err))
		} else {
			applySecrets(ctx, cfg, aws_pkg.NewSecretsClient(awsCfg, 0))
		}
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}
	return cfg, nil
}

func configFromEnv() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8084"),
		AppEnv:   getEnv("APP_ENV", "development"),
		MongoURI: os.Getenv("MONGO_URI"),
		MongoDB:  getEnv("MONGO_DB", "catalog"),
		RedisURL: getEnv("REDIS_URL", "redis://redis:6379"),
		AWS: aws_pkg.Options{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        os.Getenv("AWS_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		S3Endpoint:          getEnv("AWS_S3_ENDPOINT", os.Getenv("AWS_ENDPOINT")),
		S3Bucket:            getEnv("AWS_S3_BUCKET", "shopswift"),
		S3StagingPrefix:     getEnv("AWS_S3_STAGING_PREFIX", "staging/"),
		S3Prefix:            getEnv("AWS_S3_PREFIX", "products/"),
		CloudFrontDomain:    os.Getenv("AWS_CLOUDFRONT_DOMAIN"),
		StagedAssetTable:    getEnv("DDB_TABLE_STAGED_ASSETS", "StagedAssets"),
		CatalogTopicArn:     os.Getenv("SNS_CATALOG_TOPIC_ARN"),
		UseSecrets:          os.Getenv("AWS_USE_SECRETS") == "true",
		SecretName:          getEnv("AWS_SECRET_NAME", "catalog/service"),
		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "Catalog"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/catalog/services"),
	}

	var err error
	if cfg.MongoConnectTimeout, err = getEnvDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MongoMaxPoolSize, err = getEnvInt("MONGO_MAX_POOL_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.ImportMaxRows, err = getEnvInt("IMPORT_MAX_ROWS", 1000); err != nil {
		return nil, err
	}
	if cfg.IdentifierAttempts, err = getEnvInt("IMPORT_IDENTIFIER_MAX_ATTEMPTS", 50); err != nil {
		return nil, err
	}
	if cfg.CommitTimeout, err = getEnvDuration("IMPORT_COMMIT_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StagedAssetTTL, err = getEnvDuration("STAGED_ASSET_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applySecrets(ctx context.Context, cfg *Config, sm secretGetter) {
	for field, target := range map[string]*string{"MONGO_URI": &cfg.MongoURI, "REDIS_URL": &cfg.RedisURL} {
		v, err := sm.GetSecretField(ctx, cfg.SecretName, field)
		if err != nil {
			zap.L().Warn("Failed to read secret, using environment",
				zap.String("secret", cfg.SecretName), zap.String("field", field), zap.Error(err))
			continue
		}
		if v != "" {
			*target = v
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
