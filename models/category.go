package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Category struct {
	ID       primitive.ObjectID  `json:"_id,omitempty" bson:"_id,omitempty"`
	Code     string              `json:"code" bson:"code"`
	Slug     string              `json:"slug" bson:"slug"`
	Name     string              `json:"name" bson:"name"`
	IsActive bool                `json:"is_active" bson:"is_active"`
	ParentID *primitive.ObjectID `json:"parent_id,omitempty" bson:"parent_id,omitempty"` // Nullable for top-level categories
}

// Collection groups products for merchandising. A badge is a collection
// highlighted on the product card.
type Collection struct {
	ID    primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Slug  string             `json:"slug" bson:"slug"`
	Title string             `json:"title" bson:"title"`
}

type AttributeDefinition struct {
	ID         primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Code       string             `json:"code" bson:"code"`
	Label      string             `json:"label" bson:"label"`
	UsageCount int64              `json:"usage_count" bson:"usage_count"`
	IsLocked   bool               `json:"is_locked" bson:"is_locked"`
}
