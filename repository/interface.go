package repository

import (
	"context"
	"errors"

	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a lookup by key matches nothing.
var ErrNotFound = errors.New("record not found")

// CatalogRepo is the persisted product catalog used by the import pipeline.
type CatalogRepo interface {
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error)
	// FindByIdentifiers returns one match per persisted product holding any of
	// the SKUs (product or variant level) or URL keys.
	FindByIdentifiers(ctx context.Context, skus, urlKeys []string) ([]models.IdentifierMatch, error)
	Insert(ctx context.Context, product *models.Product) error
	Replace(ctx context.Context, id primitive.ObjectID, product *models.Product) error
	// DeleteMany is used only to compensate a failed commit.
	DeleteMany(ctx context.Context, ids []primitive.ObjectID) (int64, error)
	CountAssetReferences(ctx context.Context, locator string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type CategoryRepo interface {
	// FindByAnyOf matches each ref against category code, slug or id.
	FindByAnyOf(ctx context.Context, refs []string) ([]models.Category, error)
}

type CollectionRepo interface {
	FindBySlug(ctx context.Context, slug string) (*models.Collection, error)
}

type AttributeRepo interface {
	FindAll(ctx context.Context) ([]models.AttributeDefinition, error)
	IncrementUsage(ctx context.Context, ids []primitive.ObjectID) error
	DecrementUsage(ctx context.Context, ids []primitive.ObjectID) error
}

// StagedAssetRepo holds bookkeeping records for uploads awaiting commit.
type StagedAssetRepo interface {
	FindByKeys(ctx context.Context, keys []string) ([]models.StagedAsset, error)
	Put(ctx context.Context, asset models.StagedAsset) error
	PutMany(ctx context.Context, assets []models.StagedAsset) error
	DeleteMany(ctx context.Context, keys []string) error
}

// AssetStore moves binaries between temporary and durable storage.
type AssetStore interface {
	Promote(ctx context.Context, locator string) (models.PermanentAsset, error)
	Demote(ctx context.Context, permanentLocator, originalLocator string) error
	Delete(ctx context.Context, locator string) error
}

// Transactor opens multi-document transactions on stores that support them.
type Transactor interface {
	SupportsTransactions(ctx context.Context) (bool, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx is an open transaction. Writes issued with Context() join it.
type Tx interface {
	Context() context.Context
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}
