package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Unique index names on the products collection.
const (
	IndexSKU        = "uniq_sku"
	IndexURLKey     = "uniq_url_key"
	IndexVariantSKU = "uniq_variant_sku"
)

var dupKeyPattern = regexp.MustCompile(`index: (\S+) dup key: \{ [^:]+: "((?:[^"\\]|\\.)*)"`)

// DuplicateKey extracts the violated index and the duplicated value from a
// unique index error. ok is false for other errors. Value is empty when the
// server message carries no dup key.
func DuplicateKey(err error) (index, value string, ok bool) {
	if !mongo.IsDuplicateKeyError(err) {
		return "", "", false
	}
	var messages []string
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			messages = append(messages, e.Message)
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			messages = append(messages, e.Message)
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		messages = append(messages, ce.Message)
	}
	for _, msg := range messages {
		if m := dupKeyPattern.FindStringSubmatch(msg); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", true
}

type CatalogRepository struct {
	collection *mongo.Collection
}

func NewCatalogRepository(db *mongo.Database) *CatalogRepository {
	return &CatalogRepository{
		collection: db.Collection("products"),
	}
}

// EnsureIndexes creates the uniqueness constraints the import pipeline relies
// on as a backstop against concurrent imports.
func (r *CatalogRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sku", Value: 1}}, Options: options.Index().SetUnique(true).SetName(IndexSKU)},
		{Keys: bson.D{{Key: "url_key", Value: 1}}, Options: options.Index().SetUnique(true).SetName(IndexURLKey)},
		{Keys: bson.D{{Key: "variants.sku", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true).SetName(IndexVariantSKU)},
		{Keys: bson.D{{Key: "external_id", Value: 1}}, Options: options.Index().SetSparse(true).SetName("idx_external_id")},
		{Keys: bson.D{{Key: "images.locator", Value: 1}}, Options: options.Index().SetName("idx_image_locator")},
		{Keys: bson.D{{Key: "variants.images.locator", Value: 1}}, Options: options.Index().SetName("idx_variant_image_locator")},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create catalog indexes: %w", err)
	}
	return nil
}

func (r *CatalogRepository) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find products by id: %w", err)
	}
	defer cursor.Close(ctx)

	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return products, nil
}

type identifierProjection struct {
	ID       primitive.ObjectID     `bson:"_id"`
	SKU      string                 `bson:"sku"`
	URLKey   string                 `bson:"url_key"`
	Variants []variantSKUProjection `bson:"variants"`
}

type variantSKUProjection struct {
	SKU string `bson:"sku"`
}

func (r *CatalogRepository) FindByIdentifiers(ctx context.Context, skus, urlKeys []string) ([]models.IdentifierMatch, error) {
	var or bson.A
	if len(skus) > 0 {
		or = append(or, bson.M{"sku": bson.M{"$in": skus}}, bson.M{"variants.sku": bson.M{"$in": skus}})
	}
	if len(urlKeys) > 0 {
		or = append(or, bson.M{"url_key": bson.M{"$in": urlKeys}})
	}
	if len(or) == 0 {
		return nil, nil
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1, "sku": 1, "url_key": 1, "variants.sku": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"$or": or}, opts)
	if err != nil {
		return nil, fmt.Errorf("find products by identifiers: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []identifierProjection
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode identifier matches: %w", err)
	}

	wantSKU := toSet(skus)
	wantURL := toSet(urlKeys)
	var matches []models.IdentifierMatch
	for _, d := range docs {
		seen := make(map[string]struct{})
		addSKU := func(sku string) {
			if _, ok := wantSKU[sku]; !ok {
				return
			}
			if _, dup := seen[sku]; dup {
				return
			}
			seen[sku] = struct{}{}
			matches = append(matches, models.IdentifierMatch{ProductID: d.ID, Kind: models.IdentifierKindSKU, Value: sku})
		}
		addSKU(d.SKU)
		for _, v := range d.Variants {
			addSKU(v.SKU)
		}
		if _, ok := wantURL[d.URLKey]; ok {
			matches = append(matches, models.IdentifierMatch{ProductID: d.ID, Kind: models.IdentifierKindURLKey, Value: d.URLKey})
		}
	}
	return matches, nil
}

func (r *CatalogRepository) Insert(ctx context.Context, product *models.Product) error {
	if _, err := r.collection.InsertOne(ctx, product); err != nil {
		return fmt.Errorf("insert product %s: %w", product.SKU, err)
	}
	return nil
}

func (r *CatalogRepository) Replace(ctx context.Context, id primitive.ObjectID, product *models.Product) error {
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id}, product)
	if err != nil {
		return fmt.Errorf("replace product %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CatalogRepository) DeleteMany(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *CatalogRepository) CountAssetReferences(ctx context.Context, locator string) (int64, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"images.locator": locator},
		bson.M{"variants.images.locator": locator},
	}}
	return r.collection.CountDocuments(ctx, filter)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
