package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func productRow(title, sku string) models.ImportRow {
	return models.ImportRow{
		Title:    title,
		SKU:      sku,
		Category: "clothing",
		Price:    "19.99",
		Stock:    "5",
	}
}

func validate(t *testing.T, fx *fixture, rows ...models.ImportRow) *models.ValidationReport {
	t.Helper()
	report, err := fx.validator.Validate(context.Background(), rows)
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

func TestValidate_DuplicateConfigurationAfterNormalization(t *testing.T) {
	fx := newFixture(t)
	row := models.ImportRow{
		Title:    "Infant Jumpsuit",
		Category: "clothing",
		Variants: []models.VariantRow{
			variantRow("", "24.00", "3", map[string]string{"color": "Red"}),
			variantRow("", "24.00", "3", map[string]string{"color": "red "}),
		},
	}

	report := validate(t, fx, row)

	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, CodeDuplicateConfiguration, report.Errors[0].Code)
	assert.Equal(t, "1.2", report.Errors[0].Row)
	assert.Contains(t, report.Errors[0].Message, "row 1.1")
}

func TestValidate_UnknownAttributeIsNamed(t *testing.T) {
	fx := newFixture(t)
	row := models.ImportRow{
		Title:    "Linen Shirt",
		Category: "clothing",
		Variants: []models.VariantRow{
			variantRow("", "30", "1", map[string]string{"materiel": "linen"}),
		},
	}

	report := validate(t, fx, row)

	assert.False(t, report.Valid)
	issue, ok := findIssue(report.Errors, CodeUnknownAttribute)
	require.True(t, ok)
	assert.Equal(t, "1.1", issue.Row)
	assert.Equal(t, "attributes.materiel", issue.Field)
	assert.Contains(t, issue.Message, "materiel")
}

func TestValidate_MissingImagesAreAggregated(t *testing.T) {
	fx := newFixture(t)
	fx.stage("img-a")
	row := models.ImportRow{
		Title:    "Sun Hat",
		Category: "clothing",
		Images:   []string{"img-a", "missing-1"},
		Variants: []models.VariantRow{{Price: "12", Stock: "4", Images: []string{"missing-2", "img-a"}}},
	}

	report := validate(t, fx, row)

	assert.False(t, report.Valid)
	assert.Equal(t, []string{"missing-1", "missing-2"}, report.MissingImages)
	assert.Equal(t, []string{CodeMissingImages}, issueCodes(report.Errors))
	assert.Equal(t, 3, report.Stats.StagedAssetCount)
	assert.Equal(t, 2, report.Stats.MissingAssetCount)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	fx := newFixture(t)
	rows := []models.ImportRow{
		{Title: "", Category: "toys", Price: "abc", Stock: "-1"},
		{Title: "Archived", Category: "archive", Price: "5", Stock: "1.5"},
		{Title: "No Category", Price: "5", Stock: "1"},
	}

	report := validate(t, fx, rows...)

	assert.False(t, report.Valid)
	assert.ElementsMatch(t, []string{
		CodeRequired,         // title
		CodeUnknownCategory,  // toys
		CodeInvalid,          // price
		CodeInvalid,          // stock
		CodeInactiveCategory, // archive
		CodeInvalid,          // stock 1.5
		CodeRequired,         // category
	}, issueCodes(report.Errors))
	assert.Equal(t, 3, report.Stats.TotalRows)
	assert.Equal(t, 3, report.Stats.CreateCount)
}

func TestValidate_CollectionsAndBadge(t *testing.T) {
	fx := newFixture(t)

	t.Run("unknown collection and badge outside set", func(t *testing.T) {
		row := productRow("Tee", "")
		row.Collections = []string{"summer", "winter"}
		row.Badge = "sale"

		report := validate(t, fx, row)

		assert.ElementsMatch(t, []string{CodeUnknownCollection, CodeBadgeNotInCollections}, issueCodes(report.Errors))
	})

	t.Run("badge within collections", func(t *testing.T) {
		row := productRow("Tee", "")
		row.Collections = []string{"Summer", "sale"}
		row.Badge = "SALE"

		report := validate(t, fx, row)

		assert.True(t, report.Valid, report.Errors)
	})
}

func TestValidate_BatchDuplicateIdentifiers(t *testing.T) {
	fx := newFixture(t)
	a := productRow("Tee", "TEE-1")
	a.ExternalID = "ext-1"
	b := productRow("Tee Again", "TEE-1")
	b.ExternalID = "ext-1"

	report := validate(t, fx, a, b)

	var rows []string
	for _, issue := range report.Errors {
		assert.Equal(t, CodeDuplicateIdentifier, issue.Code)
		rows = append(rows, issue.Row+":"+issue.Field)
	}
	assert.ElementsMatch(t, []string{"1:sku", "2:sku", "1:external_id", "2:external_id"}, rows)
}

func TestValidate_PersistedIdentifiers(t *testing.T) {
	fx := newFixture(t)
	existing := fx.seed(models.Product{SKU: "TEE-1", URLKey: "tee", CategoryID: fx.store.categories[0].ID})

	t.Run("new product reusing persisted identifiers", func(t *testing.T) {
		row := productRow("Tee", "TEE-1")
		row.URLKey = "tee"

		report := validate(t, fx, row)

		assert.Equal(t, []string{CodeIdentifierExists, CodeIdentifierExists}, issueCodes(report.Errors))
	})

	t.Run("update keeps its own identifiers", func(t *testing.T) {
		row := productRow("Tee", "TEE-1")
		row.ID = existing.ID.Hex()
		row.URLKey = "tee"
		row.Category = ""

		report := validate(t, fx, row)

		assert.True(t, report.Valid, report.Errors)
		assert.Equal(t, 1, report.Stats.UpdateCount)
	})

	t.Run("identifiers are checked in one query", func(t *testing.T) {
		before := fx.store.identifierCalls
		validate(t, fx, productRow("A", "A-1"), productRow("B", "B-1"), productRow("C", "C-1"))
		assert.Equal(t, before+1, fx.store.identifierCalls)
	})
}

func TestValidate_UpdateRows(t *testing.T) {
	fx := newFixture(t)
	variantID := primitive.NewObjectID()
	existing := fx.seed(models.Product{
		SKU:      "TEE-1",
		Variants: []models.Variant{{ID: variantID, SKU: "TEE-1-RED"}},
	})

	tests := []struct {
		name  string
		row   models.ImportRow
		code  string
		field string
	}{
		{"malformed id", func() models.ImportRow { r := productRow("Tee", "TEE-1"); r.ID = "nope"; return r }(), CodeInvalid, "id"},
		{"unknown id", func() models.ImportRow { r := productRow("Tee", "TEE-9"); r.ID = primitive.NewObjectID().Hex(); return r }(), CodeUnknownProduct, "id"},
		{"missing sku", func() models.ImportRow { r := productRow("Tee", ""); r.ID = existing.ID.Hex(); return r }(), CodeRequired, "sku"},
		{"foreign variant id", models.ImportRow{
			ID: existing.ID.Hex(), Title: "Tee", SKU: "TEE-1", Category: "clothing",
			Variants: []models.VariantRow{{ID: primitive.NewObjectID().Hex(), SKU: "TEE-1-BLUE", Price: "5", Stock: "1"}},
		}, CodeUnknownProduct, "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validate(t, fx, tt.row)
			issue, ok := findIssue(report.Errors, tt.code)
			require.True(t, ok, report.Errors)
			assert.Equal(t, tt.field, issue.Field)
		})
	}

	t.Run("known variant id", func(t *testing.T) {
		row := models.ImportRow{
			ID: existing.ID.Hex(), Title: "Tee", SKU: "TEE-1", Category: "clothing",
			Variants: []models.VariantRow{{ID: variantID.Hex(), SKU: "TEE-1-RED", Price: "5", Stock: "1"}},
		}
		report := validate(t, fx, row)
		assert.True(t, report.Valid, report.Errors)
	})
}

func TestValidate_Offers(t *testing.T) {
	fx := newFixture(t)

	t.Run("offer not below price warns", func(t *testing.T) {
		row := productRow("Tee", "")
		row.Price, row.OfferPrice = "10", "12"
		report := validate(t, fx, row)
		assert.True(t, report.Valid)
		assert.Equal(t, []string{CodeOfferNotDiscounted}, issueCodes(report.Warnings))
	})

	t.Run("end before start", func(t *testing.T) {
		row := productRow("Tee", "")
		row.OfferPrice, row.OfferStart, row.OfferEnd = "9", "2024-05-02", "2024-05-01T10:00:00Z"
		report := validate(t, fx, row)
		issue, ok := findIssue(report.Errors, CodeInvalid)
		require.True(t, ok)
		assert.Equal(t, "offer_end", issue.Field)
	})

	t.Run("unparseable date", func(t *testing.T) {
		row := productRow("Tee", "")
		row.OfferStart = "next tuesday"
		report := validate(t, fx, row)
		issue, ok := findIssue(report.Errors, CodeInvalid)
		require.True(t, ok)
		assert.Equal(t, "offer_start", issue.Field)
	})
}

func TestValidate_PureVariantRows(t *testing.T) {
	fx := newFixture(t)
	parent := models.ImportRow{Title: "Jumpsuit", SKU: "JMP", Category: "clothing"}
	red := models.ImportRow{ParentRef: "JMP", SKU: "JMP-RED", Price: "20", Stock: "1", Attributes: models.Attributes{"color": "red"}}
	blue := models.ImportRow{ParentRef: "JMP", SKU: "JMP-BLUE", Price: "20", Stock: "2", Attributes: models.Attributes{"color": "blue"}}

	report := validate(t, fx, parent, red, blue)

	assert.True(t, report.Valid, report.Errors)
	assert.Equal(t, 3, report.Stats.TotalRows)
	assert.Equal(t, 1, report.Stats.CreateCount)
	assert.Equal(t, 2, report.Stats.TotalVariants)

	t.Run("unknown parent", func(t *testing.T) {
		orphan := models.ImportRow{ParentRef: "NOPE", Price: "1", Stock: "1", Attributes: models.Attributes{"color": "red"}}
		report := validate(t, fx, productRow("Tee", ""), orphan)
		issue, ok := findIssue(report.Errors, CodeUnknownParent)
		require.True(t, ok)
		assert.Equal(t, "2", issue.Row)
	})

	t.Run("file rows are addressed by line", func(t *testing.T) {
		tee := productRow("Tee", "")
		tee.Line = 1
		orphan := models.ImportRow{Line: 5, ParentRef: "NOPE", Price: "1", Stock: "1", Attributes: models.Attributes{"color": "red"}}
		report := validate(t, fx, tee, orphan)
		issue, ok := findIssue(report.Errors, CodeUnknownParent)
		require.True(t, ok)
		assert.Equal(t, "5", issue.Row)
	})

	t.Run("parent_ref on nested row is ignored", func(t *testing.T) {
		row := models.ImportRow{
			Title: "Jumpsuit", Category: "clothing", ParentRef: "JMP",
			Variants: []models.VariantRow{variantRow("", "20", "1", map[string]string{"size": "s"})},
		}
		report := validate(t, fx, row)
		assert.True(t, report.Valid)
		assert.Equal(t, []string{CodeIgnoredField}, issueCodes(report.Warnings))
	})
}

func TestValidate_BatchLimits(t *testing.T) {
	fx := newFixture(t)

	report := validate(t, fx)
	assert.False(t, report.Valid)
	assert.Equal(t, []string{CodeRequired}, issueCodes(report.Errors))

	small := NewValidator(ValidatorDeps{
		Catalog: fx.store, Categories: fx.store, Collections: fx.store,
		Attributes: fx.store, Staged: fx.staged, Logger: zap.NewNop(), MaxRows: 2,
	})
	report, err := small.Validate(context.Background(), []models.ImportRow{productRow("A", ""), productRow("B", ""), productRow("C", "")})
	require.NoError(t, err)
	assert.Equal(t, []string{CodeInvalid}, issueCodes(report.Errors))
}

func TestValidate_HasNoSideEffects(t *testing.T) {
	fx := newFixture(t)
	fx.stage("img-a")
	row := productRow("Tee", "TEE-1")
	row.Images = []string{"img-a"}
	row.Attributes = models.Attributes{"color": "red"}

	report := validate(t, fx, row)

	assert.True(t, report.Valid, report.Errors)
	assert.Equal(t, 0, fx.store.insertCalls)
	assert.Equal(t, 0, fx.assets.promoteCalls)
	assert.True(t, fx.staged.has("img-a"))
	assert.Equal(t, int64(0), fx.store.attribute("color").UsageCount)
}
