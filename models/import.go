package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexString accepts either a JSON string or a JSON number so spreadsheet
// exports that emit `"price": 12.5` and `"price": "12.50"` decode alike.
// The raw text is kept and parsed during validation.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Attributes is the free-form attribute map of a row. Values may be strings
// or numbers on the wire.
type Attributes map[string]string

func (a *Attributes) UnmarshalJSON(b []byte) error {
	var raw map[string]FlexString
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Attributes, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	*a = out
	return nil
}

// ImportRow is one parent or standalone product from an import batch.
// A row with ParentRef and no nested variants is a pure variant of the row
// whose SKU or external id it references; its row-level fields describe
// that single variant.
type ImportRow struct {
	ID          string       `json:"id,omitempty"`
	ExternalID  string       `json:"external_id,omitempty"`
	ParentRef   string       `json:"parent_ref,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	SKU         string       `json:"sku,omitempty"`
	URLKey      string       `json:"url_key,omitempty"`
	Category    string       `json:"category,omitempty"`
	Collections []string     `json:"collections,omitempty"`
	Badge       string       `json:"badge,omitempty"`
	Images      []string     `json:"images,omitempty"`
	Price       FlexString   `json:"price,omitempty"`
	Stock       FlexString   `json:"stock,omitempty"`
	OfferPrice  FlexString   `json:"offer_price,omitempty"`
	OfferStart  string       `json:"offer_start,omitempty"`
	OfferEnd    string       `json:"offer_end,omitempty"`
	Attributes  Attributes   `json:"attributes,omitempty"`
	Variants    []VariantRow `json:"variants,omitempty"`

	// Line is the 1-based data-row position in an uploaded file. Issues are
	// addressed by it when set.
	Line int `json:"line,omitempty"`
}

// IsNew reports whether the row creates a product.
func (r ImportRow) IsNew() bool { return r.ID == "" }

// IsPureVariant reports whether the row only contributes a variant to
// another row of the batch.
func (r ImportRow) IsPureVariant() bool { return r.ParentRef != "" && len(r.Variants) == 0 }

// SelfVariant returns the variant described by the row-level fields.
func (r ImportRow) SelfVariant() VariantRow {
	return VariantRow{
		SKU:        r.SKU,
		Price:      r.Price,
		Stock:      r.Stock,
		OfferPrice: r.OfferPrice,
		OfferStart: r.OfferStart,
		OfferEnd:   r.OfferEnd,
		Attributes: r.Attributes,
		Images:     r.Images,
	}
}

// VariantRow is one SKU-level configuration nested in an ImportRow.
type VariantRow struct {
	ID         string     `json:"id,omitempty"`
	SKU        string     `json:"sku,omitempty"`
	Price      FlexString `json:"price"`
	Stock      FlexString `json:"stock"`
	OfferPrice FlexString `json:"offer_price,omitempty"`
	OfferStart string     `json:"offer_start,omitempty"`
	OfferEnd   string     `json:"offer_end,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
	Images     []string   `json:"images,omitempty"`
}

// ValidationIssue is one reported problem. Row uses 1-based numbering with
// nested variants addressed as "N.M"; batch-level issues leave it empty.
type ValidationIssue struct {
	Row     string `json:"row,omitempty"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationStats struct {
	TotalRows         int `json:"total_rows"`
	CreateCount       int `json:"create_count"`
	UpdateCount       int `json:"update_count"`
	TotalVariants     int `json:"total_variants"`
	StagedAssetCount  int `json:"staged_asset_count"`
	MissingAssetCount int `json:"missing_asset_count"`
}

type ValidationReport struct {
	Valid         bool              `json:"valid"`
	Errors        []ValidationIssue `json:"errors"`
	Warnings      []ValidationIssue `json:"warnings"`
	MissingImages []string          `json:"missing_images,omitempty"`
	Stats         ValidationStats   `json:"stats"`
}

type CreatedCounts struct {
	Products int `json:"products"`
	Variants int `json:"variants"`
}

type UpdatedCounts struct {
	Products int `json:"products"`
}

type CommitResult struct {
	Created        CreatedCounts `json:"created"`
	Updated        UpdatedCounts `json:"updated"`
	AssetsPromoted int           `json:"assets_promoted"`
	ProductIDs     []string      `json:"product_ids,omitempty"`
	Transactional  bool          `json:"transactional"`
	Warnings       []string      `json:"warnings,omitempty"`
}
