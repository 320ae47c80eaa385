package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// caseInsensitive compares strings at secondary strength so "Clothing" and
// "clothing" match the same category code or slug.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type CategoryRepository struct {
	collection *mongo.Collection
}

func NewCategoryRepository(db *mongo.Database) *CategoryRepository {
	return &CategoryRepository{collection: db.Collection("categories")}
}

func (r *CategoryRepository) FindByAnyOf(ctx context.Context, refs []string) ([]models.Category, error) {
	if len(refs) == 0 {
		return []models.Category{}, nil
	}
	var ids []primitive.ObjectID
	for _, ref := range refs {
		if id, err := primitive.ObjectIDFromHex(ref); err == nil {
			ids = append(ids, id)
		}
	}
	or := bson.A{
		bson.M{"code": bson.M{"$in": refs}},
		bson.M{"slug": bson.M{"$in": refs}},
	}
	if len(ids) > 0 {
		or = append(or, bson.M{"_id": bson.M{"$in": ids}})
	}

	cursor, err := r.collection.Find(ctx, bson.M{"$or": or}, options.Find().SetCollation(caseInsensitive))
	if err != nil {
		return nil, fmt.Errorf("find categories: %w", err)
	}
	defer cursor.Close(ctx)

	var categories []models.Category
	if err = cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return categories, nil
}

type CollectionRepository struct {
	collection *mongo.Collection
}

func NewCollectionRepository(db *mongo.Database) *CollectionRepository {
	return &CollectionRepository{collection: db.Collection("collections")}
}

func (r *CollectionRepository) FindBySlug(ctx context.Context, slug string) (*models.Collection, error) {
	var c models.Collection
	err := r.collection.FindOne(ctx, bson.M{"slug": slug}, options.FindOne().SetCollation(caseInsensitive)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find collection %q: %w", slug, err)
	}
	return &c, nil
}
