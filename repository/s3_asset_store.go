package repository

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yashrajoria/catalog-service/models"
)

type s3API interface {
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3AssetStore keeps staged uploads under stagingPrefix and promoted assets
// under permanentPrefix in one bucket. S3 has no rename, so a move is a copy
// followed by a delete of the source.
type S3AssetStore struct {
	client          s3API
	presigner       presignAPI
	bucket          string
	stagingPrefix   string
	permanentPrefix string
	endpoint        string
	cdnDomain       string
}

func NewS3AssetStore(client s3API, presigner presignAPI, bucket, stagingPrefix, permanentPrefix, endpoint, cdnDomain string) *S3AssetStore {
	return &S3AssetStore{
		client:          client,
		presigner:       presigner,
		bucket:          bucket,
		stagingPrefix:   stagingPrefix,
		permanentPrefix: permanentPrefix,
		endpoint:        endpoint,
		cdnDomain:       cdnDomain,
	}
}

// StagingKey returns the object key an upload with the given temp key and
// extension is stored under.
func (s *S3AssetStore) StagingKey(tempKey, ext string) string {
	return s.stagingPrefix + tempKey + ext
}

// PresignUpload returns a presigned PUT URL for a staged upload.
func (s *S3AssetStore) PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	req, err := s.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign put object: %w", err)
	}
	return req.URL, nil
}

// Promote moves a staged object under the permanent prefix and returns its
// delivery URL. If the source cannot be removed the copy is deleted again so
// a failed promotion leaves storage unchanged.
func (s *S3AssetStore) Promote(ctx context.Context, locator string) (models.PermanentAsset, error) {
	target := s.permanentPrefix + strings.TrimPrefix(locator, s.stagingPrefix)
	if err := s.move(ctx, locator, target); err != nil {
		return models.PermanentAsset{}, err
	}
	return models.PermanentAsset{Locator: target, URL: s.PublicURL(target)}, nil
}

// Demote moves a promoted object back to where it was staged.
func (s *S3AssetStore) Demote(ctx context.Context, permanentLocator, originalLocator string) error {
	return s.move(ctx, permanentLocator, originalLocator)
}

func (s *S3AssetStore) Delete(ctx context.Context, locator string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(locator)}); err != nil {
		return fmt.Errorf("delete object %s: %w", locator, err)
	}
	return nil
}

func (s *S3AssetStore) move(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(copySource(s.bucket, from)),
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(from)}); err != nil {
		if _, undoErr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(to)}); undoErr != nil {
			return fmt.Errorf("delete source %s: %w (copy %s left behind: %v)", from, err, to, undoErr)
		}
		return fmt.Errorf("delete source %s: %w", from, err)
	}
	return nil
}

// PublicURL prefers the CDN domain, then a custom endpoint (LocalStack), then
// the bucket's virtual-hosted URL.
func (s *S3AssetStore) PublicURL(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimRight(s.cdnDomain, "/"), key)
	}
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.endpoint, "/"), s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
