package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Product is the persisted catalog entity. Every product carries at least one
// variant; a simple product's only variant shares the product SKU.
type Product struct {
	ID               primitive.ObjectID   `json:"_id,omitempty" bson:"_id,omitempty"`
	ExternalID       string               `json:"external_id,omitempty" bson:"external_id,omitempty"`
	Title            string               `json:"title" bson:"title"`
	Description      string               `json:"description,omitempty" bson:"description,omitempty"`
	SKU              string               `json:"sku" bson:"sku"`
	URLKey           string               `json:"url_key" bson:"url_key"`
	CategoryID       primitive.ObjectID   `json:"category" bson:"category"`
	CollectionIDs    []primitive.ObjectID `json:"collections,omitempty" bson:"collections,omitempty"`
	BadgeID          *primitive.ObjectID  `json:"badge,omitempty" bson:"badge,omitempty"`
	Images           []Image              `json:"images" bson:"images"`
	Variants         []Variant            `json:"variants" bson:"variants"`
	AttributeOptions []AttributeOption    `json:"attribute_options,omitempty" bson:"attribute_options,omitempty"`
	CreatedAt        time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" bson:"updated_at"`
}

type Variant struct {
	ID         primitive.ObjectID    `json:"_id" bson:"_id"`
	SKU        string                `json:"sku" bson:"sku"`
	Price      primitive.Decimal128  `json:"price" bson:"price"`
	Stock      int                   `json:"stock" bson:"stock"`
	OfferPrice *primitive.Decimal128 `json:"offer_price,omitempty" bson:"offer_price,omitempty"`
	OfferStart *time.Time            `json:"offer_start,omitempty" bson:"offer_start,omitempty"`
	OfferEnd   *time.Time            `json:"offer_end,omitempty" bson:"offer_end,omitempty"`
	Attributes []VariantAttribute    `json:"attributes,omitempty" bson:"attributes,omitempty"`
	ConfigHash string                `json:"config_hash,omitempty" bson:"config_hash,omitempty"`
	Images     []Image               `json:"images,omitempty" bson:"images,omitempty"`
}

// VariantAttribute is one resolved (attribute, value) pair. Value is the
// canonical form used for hashing, Label the display form as supplied.
type VariantAttribute struct {
	AttributeID primitive.ObjectID `json:"attribute_id" bson:"attribute_id"`
	Code        string             `json:"code" bson:"code"`
	Value       string             `json:"value" bson:"value"`
	Label       string             `json:"label" bson:"label"`
}

// AttributeOption lists the distinct values a product offers for one attribute.
type AttributeOption struct {
	AttributeID primitive.ObjectID `json:"attribute_id" bson:"attribute_id"`
	Code        string             `json:"code" bson:"code"`
	Values      []string           `json:"values" bson:"values"`
}

// Image references a durable asset.
type Image struct {
	Locator string `json:"locator" bson:"locator"`
	URL     string `json:"url" bson:"url"`
}

// IdentifierMatch reports a persisted product already holding an identifier.
type IdentifierMatch struct {
	ProductID primitive.ObjectID `json:"product_id"`
	Kind      string             `json:"kind"`
	Value     string             `json:"value"`
}

const (
	IdentifierKindSKU    = "sku"
	IdentifierKindURLKey = "url_key"
)
