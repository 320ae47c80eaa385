package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
	"go.uber.org/zap"
)

// Metric names reported for import operations.
const (
	MetricImportValidated          = "ImportValidated"
	MetricImportCommitted          = "ImportCommitted"
	MetricImportRolledBack         = "ImportRolledBack"
	MetricImportCompensationFailed = "ImportCompensationFailed"
	MetricImportCommitLatency      = "ImportCommitLatency"
)

const EventImportCommitted = "catalog.import.committed"

// Importer is what the HTTP layer and the job worker depend on.
type Importer interface {
	ValidateImport(ctx context.Context, rows []models.ImportRow) (*models.ValidationReport, error)
	CommitImport(ctx context.Context, rows []models.ImportRow) (*models.CommitResult, error)
	StageAsset(ctx context.Context, filename, contentType string) (*models.StagedUpload, error)
}

// EventPublisher matches the SNS client.
type EventPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
}

// MetricsRecorder matches the CloudWatch metrics client.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// CacheInvalidator drops storefront caches for changed products.
type CacheInvalidator interface {
	InvalidateProducts(ctx context.Context, ids []string) error
}

// UploadSigner issues presigned uploads into staging storage.
type UploadSigner interface {
	StagingKey(tempKey, ext string) string
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
}

type ImportService struct {
	validator     *Validator
	committer     *Committer
	attributes    repository.AttributeRepo
	staged        repository.StagedAssetRepo
	signer        UploadSigner
	events        EventPublisher
	topicArn      string
	metrics       MetricsRecorder
	cache         CacheInvalidator
	logger        *zap.Logger
	commitTimeout time.Duration
	stagedTTL     time.Duration
	now           func() time.Time
}

type ImportServiceDeps struct {
	Catalog     repository.CatalogRepo
	Categories  repository.CategoryRepo
	Collections repository.CollectionRepo
	Attributes  repository.AttributeRepo
	Staged      repository.StagedAssetRepo
	Assets      repository.AssetStore
	Transactor  repository.Transactor
	Signer      UploadSigner
	Events      EventPublisher
	TopicArn    string
	Metrics     MetricsRecorder
	Cache       CacheInvalidator
	Logger      *zap.Logger

	MaxRows            int
	IdentifierAttempts int
	CommitTimeout      time.Duration
	StagedAssetTTL     time.Duration
}

func NewImportService(d ImportServiceDeps) *ImportService {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := NewValidator(ValidatorDeps{
		Catalog:     d.Catalog,
		Categories:  d.Categories,
		Collections: d.Collections,
		Attributes:  d.Attributes,
		Staged:      d.Staged,
		Logger:      logger,
		MaxRows:     d.MaxRows,
	})
	committer := NewCommitter(CommitterDeps{
		Validator:   validator,
		Catalog:     d.Catalog,
		Attributes:  d.Attributes,
		Staged:      d.Staged,
		Assets:      d.Assets,
		Transactor:  d.Transactor,
		Logger:      logger,
		MaxAttempts: d.IdentifierAttempts,
	})
	ttl := d.StagedAssetTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ImportService{
		validator:     validator,
		committer:     committer,
		attributes:    d.Attributes,
		staged:        d.Staged,
		signer:        d.Signer,
		events:        d.Events,
		topicArn:      d.TopicArn,
		metrics:       d.Metrics,
		cache:         d.Cache,
		logger:        logger,
		commitTimeout: d.CommitTimeout,
		stagedTTL:     ttl,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *ImportService) ValidateImport(ctx context.Context, rows []models.ImportRow) (*models.ValidationReport, error) {
	report, err := s.validator.Validate(ctx, rows)
	if err != nil {
		return nil, err
	}
	s.count(ctx, MetricImportValidated, map[string]string{"valid": fmt.Sprint(report.Valid)})
	return report, nil
}

func (s *ImportService) CommitImport(ctx context.Context, rows []models.ImportRow) (*models.CommitResult, error) {
	if s.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commitTimeout)
		defer cancel()
	}
	start := time.Now()
	result, err := s.committer.Commit(ctx, rows)

	var cf *CommitFailure
	switch {
	case err == nil:
		dims := map[string]string{"mode": commitMode(result.Transactional)}
		s.count(ctx, MetricImportCommitted, dims)
		if s.metrics != nil {
			if mErr := s.metrics.RecordLatency(ctx, MetricImportCommitLatency, time.Since(start), dims); mErr != nil {
				s.logger.Debug("failed to record metric", zap.Error(mErr))
			}
		}
		s.afterCommit(ctx, result)
		return result, nil
	case errors.As(err, &cf):
		if cf.RolledBackCleanly() {
			s.count(ctx, MetricImportRolledBack, nil)
		} else {
			s.count(ctx, MetricImportCompensationFailed, nil)
		}
	}
	return nil, err
}

// afterCommit runs notifications that must never change a commit outcome.
func (s *ImportService) afterCommit(ctx context.Context, result *models.CommitResult) {
	if s.cache != nil {
		if err := s.cache.InvalidateProducts(ctx, result.ProductIDs); err != nil {
			s.logger.Warn("failed to invalidate product cache after import", zap.Error(err))
		}
	}
	if s.events == nil || s.topicArn == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":       EventImportCommitted,
		"product_ids": result.ProductIDs,
		"created":     result.Created,
		"updated":     result.Updated,
		"occurred_at": s.now().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("failed to encode import event", zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, s.topicArn, payload); err != nil {
		s.logger.Warn("failed to publish import event", zap.Error(err))
	}
}

// StageAsset registers a staged upload and returns where to PUT the binary.
func (s *ImportService) StageAsset(ctx context.Context, filename, contentType string) (*models.StagedUpload, error) {
	if s.signer == nil {
		return nil, errors.New("staged uploads are not configured")
	}
	tempKey := uuid.New().String()
	locator := s.signer.StagingKey(tempKey, strings.ToLower(filepath.Ext(filename)))
	uploadURL, err := s.signer.PresignUpload(ctx, locator, contentType, s.stagedTTL)
	if err != nil {
		return nil, err
	}
	now := s.now()
	asset := models.StagedAsset{
		TempKey:     tempKey,
		Locator:     locator,
		Filename:    filename,
		ContentType: contentType,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.stagedTTL),
	}
	if err := s.staged.Put(ctx, asset); err != nil {
		return nil, fmt.Errorf("register staged asset: %w", err)
	}
	return &models.StagedUpload{TempKey: tempKey, UploadURL: uploadURL, ExpiresAt: asset.ExpiresAt}, nil
}

// AttributeCodes lists the registered attribute codes in order, for
// building import templates.
func (s *ImportService) AttributeCodes(ctx context.Context) ([]string, error) {
	defs, err := s.attributes.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load attribute registry: %w", err)
	}
	codes := make([]string, 0, len(defs))
	for _, d := range defs {
		codes = append(codes, d.Code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *ImportService) count(ctx context.Context, name string, dims map[string]string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordCount(ctx, name, dims); err != nil {
		s.logger.Debug("failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}

func commitMode(transactional bool) string {
	if transactional {
		return "transactional"
	}
	return "best_effort"
}
