package repository

import (
	"context"
	"fmt"

	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// AttributeRepository stores the global attribute registry. An attribute is
// locked whenever its usage count is above zero.
type AttributeRepository struct {
	collection *mongo.Collection
}

func NewAttributeRepository(db *mongo.Database) *AttributeRepository {
	return &AttributeRepository{collection: db.Collection("attributes")}
}

func (r *AttributeRepository) FindAll(ctx context.Context) ([]models.AttributeDefinition, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find attributes: %w", err)
	}
	defer cursor.Close(ctx)

	var defs []models.AttributeDefinition
	if err := cursor.All(ctx, &defs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return defs, nil
}

func (r *AttributeRepository) IncrementUsage(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	update := bson.M{
		"$inc": bson.M{"usage_count": 1},
		"$set": bson.M{"is_locked": true},
	}
	if _, err := r.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update); err != nil {
		return fmt.Errorf("increment attribute usage: %w", err)
	}
	return nil
}

// DecrementUsage never takes a counter below zero and unlocks attributes
// whose count reaches zero.
func (r *AttributeRepository) DecrementUsage(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"usage_count": bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$usage_count", 1}}}}}}},
		{{Key: "$set", Value: bson.M{"is_locked": bson.M{"$gt": bson.A{"$usage_count", 0}}}}},
	}
	if _, err := r.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, pipeline); err != nil {
		return fmt.Errorf("decrement attribute usage: %w", err)
	}
	return nil
}
