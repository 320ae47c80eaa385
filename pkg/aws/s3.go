package aws

import (
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client creates an S3 client. A non-empty endpoint switches to path
// style addressing, which LocalStack and MinIO require.
func NewS3Client(cfg sdkaws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = sdkaws.String(endpoint)
		}
	})
}

// NewS3PresignClient wraps client for generating presigned URLs.
func NewS3PresignClient(client *s3.Client) *s3.PresignClient {
	return s3.NewPresignClient(client)
}
