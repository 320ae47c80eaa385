package controllers

import (
	"context"
	"time"

	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/services"
)

// Default configuration values
const (
	DefaultContextTimeout = 30 * time.Second
	DefaultCommitTimeout  = 2 * time.Minute
)

// ImportServiceAPI defines the import operations the handlers depend on.
type ImportServiceAPI interface {
	services.Importer
	AttributeCodes(ctx context.Context) ([]string, error)
}

// JobQueue is the part of the async job store the handlers use.
type JobQueue interface {
	Enqueue(ctx context.Context, rows []models.ImportRow) (*services.ImportJob, error)
	Get(ctx context.Context, id string) (*services.ImportJob, error)
}

// ImportRequest is the JSON body of the validate and commit endpoints. An
// empty batch is reported by the validation engine.
type ImportRequest struct {
	Rows []models.ImportRow `json:"rows"`
}

// StageAssetRequest asks for a presigned staging upload.
type StageAssetRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"required"`
}
