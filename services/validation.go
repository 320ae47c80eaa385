package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const defaultMaxRows = 1000

// plannedVariant is a variant that passed every check, with its fields
// parsed into their typed form.
type plannedVariant struct {
	Ref        string
	Row        models.VariantRow
	Self       bool
	ID         primitive.ObjectID
	Resolved   ResolvedVariant
	Price      decimal.Decimal
	Stock      int
	OfferPrice *decimal.Decimal
	OfferStart *time.Time
	OfferEnd   *time.Time
	Images     []string
}

type plannedProduct struct {
	Ref         string
	Row         models.ImportRow
	ID          primitive.ObjectID
	Existing    *models.Product
	Category    models.Category
	Collections []models.Collection
	Badge       *models.Collection
	Images      []string
	Variants    []*plannedVariant
}

func (p *plannedProduct) isNew() bool { return p.Existing == nil }

// importPlan is the outcome of validating a batch. A commit only runs a plan
// whose report is valid.
type importPlan struct {
	report   *models.ValidationReport
	snapshot *importSnapshot
	groups   []*productGroup
	products []*plannedProduct
}

// identifierUse is one supplied SKU or external id and where it came from.
type identifierUse struct {
	ref   string
	field string
	owner primitive.ObjectID
}

// Validator checks a whole batch without writing anything. It never stops
// at the first problem: every row and every check contributes to the
// report. Only lookup failures are returned as errors.
type Validator struct {
	loader  *snapshotLoader
	logger  *zap.Logger
	maxRows int
}

type ValidatorDeps struct {
	Catalog     repository.CatalogRepo
	Categories  repository.CategoryRepo
	Collections repository.CollectionRepo
	Attributes  repository.AttributeRepo
	Staged      repository.StagedAssetRepo
	Logger      *zap.Logger
	MaxRows     int
}

func NewValidator(d ValidatorDeps) *Validator {
	maxRows := d.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		loader: &snapshotLoader{
			catalog:     d.Catalog,
			categories:  d.Categories,
			collections: d.Collections,
			attributes:  d.Attributes,
			staged:      d.Staged,
		},
		logger:  logger,
		maxRows: maxRows,
	}
}

func (v *Validator) Validate(ctx context.Context, rows []models.ImportRow) (*models.ValidationReport, error) {
	plan, err := v.evaluate(ctx, rows)
	if err != nil {
		return nil, err
	}
	return plan.report, nil
}

type reportBuilder struct {
	report *models.ValidationReport
}

func (b *reportBuilder) errorf(row, field, code, format string, args ...any) {
	b.report.Errors = append(b.report.Errors, models.ValidationIssue{Row: row, Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (b *reportBuilder) warnf(row, field, code, format string, args ...any) {
	b.report.Warnings = append(b.report.Warnings, models.ValidationIssue{Row: row, Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) evaluate(ctx context.Context, rows []models.ImportRow) (*importPlan, error) {
	b := &reportBuilder{report: &models.ValidationReport{
		Errors:   []models.ValidationIssue{},
		Warnings: []models.ValidationIssue{},
	}}
	b.report.Stats.TotalRows = len(rows)
	if len(rows) == 0 {
		b.errorf("", "rows", CodeRequired, "batch contains no rows")
		return &importPlan{report: b.report}, nil
	}
	if len(rows) > v.maxRows {
		b.errorf("", "rows", CodeInvalid, "batch has %d rows, the limit is %d", len(rows), v.maxRows)
		return &importPlan{report: b.report}, nil
	}

	groups, groupErrs, groupWarnings := groupRows(rows)
	b.report.Errors = append(b.report.Errors, groupErrs...)
	b.report.Warnings = append(b.report.Warnings, groupWarnings...)

	snap, err := v.loader.load(ctx, groups)
	if err != nil {
		return nil, err
	}
	plan := &importPlan{report: b.report, snapshot: snap, groups: groups}
	resolver := NewVariantResolver(snap.registry)

	var (
		skuUses     = make(map[string][]identifierUse)
		skuOrder    []string
		extUses     = make(map[string][]identifierUse)
		extOrder    []string
		urlKeyUses  = make(map[string][]identifierUse)
		urlKeyOrder []string
	)
	addUse := func(uses map[string][]identifierUse, order *[]string, value string, use identifierUse) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := uses[value]; !ok {
			*order = append(*order, value)
		}
		uses[value] = append(uses[value], use)
	}

	for _, g := range groups {
		p := v.checkProduct(b, snap, g)
		owner := p.ID
		addUse(skuUses, &skuOrder, g.Row.SKU, identifierUse{ref: g.Ref, field: "sku", owner: owner})
		addUse(extUses, &extOrder, g.Row.ExternalID, identifierUse{ref: g.Ref, field: "external_id", owner: owner})
		addUse(urlKeyUses, &urlKeyOrder, g.Row.URLKey, identifierUse{ref: g.Ref, field: "url_key", owner: owner})

		tracker := NewDuplicateTracker()
		for _, entry := range g.Variants {
			b.report.Stats.TotalVariants++
			pv := v.checkVariant(b, resolver, tracker, p, entry)
			if !entry.Self {
				addUse(skuUses, &skuOrder, entry.Row.SKU, identifierUse{ref: entry.Ref, field: "sku", owner: owner})
			}
			if pv != nil {
				p.Variants = append(p.Variants, pv)
			}
		}
		if p.isNew() {
			b.report.Stats.CreateCount++
		} else {
			b.report.Stats.UpdateCount++
		}
		plan.products = append(plan.products, p)
	}
	for i, row := range rows {
		if row.IsPureVariant() {
			addUse(extUses, &extOrder, row.ExternalID, identifierUse{ref: rowRef(row, i), field: "external_id"})
		}
	}

	reportBatchDuplicates(b, "SKU", skuOrder, skuUses)
	reportBatchDuplicates(b, "external id", extOrder, extUses)
	reportBatchDuplicates(b, "URL key", urlKeyOrder, urlKeyUses)

	v.checkStagedAssets(b, snap, groups)

	if err := v.checkPersistedIdentifiers(ctx, b, skuOrder, skuUses, urlKeyOrder, urlKeyUses); err != nil {
		return nil, err
	}

	b.report.Valid = len(b.report.Errors) == 0
	v.logger.Debug("import batch validated",
		zap.Int("rows", len(rows)),
		zap.Int("errors", len(b.report.Errors)),
		zap.Int("warnings", len(b.report.Warnings)),
	)
	return plan, nil
}

func (v *Validator) checkProduct(b *reportBuilder, snap *importSnapshot, g *productGroup) *plannedProduct {
	row := g.Row
	p := &plannedProduct{Ref: g.Ref, Row: row, Images: uniqueStrings(row.Images)}

	if strings.TrimSpace(row.Title) == "" {
		b.errorf(g.Ref, "title", CodeRequired, "title is required")
	}
	if !row.IsNew() {
		id, err := primitive.ObjectIDFromHex(row.ID)
		if err != nil {
			b.errorf(g.Ref, "id", CodeInvalid, "id '%s' is not a valid product id", row.ID)
		} else if existing, ok := snap.existing[id]; !ok {
			p.ID = id
			b.errorf(g.Ref, "id", CodeUnknownProduct, "product %s does not exist", row.ID)
		} else {
			p.ID = id
			p.Existing = &existing
		}
		if strings.TrimSpace(row.SKU) == "" {
			b.errorf(g.Ref, "sku", CodeRequired, "sku is required when updating a product")
		}
	}

	switch ref := strings.TrimSpace(row.Category); {
	case ref == "" && p.Existing != nil:
		// updates keep their current category
		p.Category = models.Category{ID: p.Existing.CategoryID, IsActive: true}
	case ref == "":
		b.errorf(g.Ref, "category", CodeRequired, "category is required")
	default:
		c, ok := snap.category(ref)
		switch {
		case !ok:
			b.errorf(g.Ref, "category", CodeUnknownCategory, "category '%s' not found", ref)
		case !c.IsActive:
			b.errorf(g.Ref, "category", CodeInactiveCategory, "category '%s' is not active", ref)
		default:
			p.Category = c
		}
	}

	member := make(map[string]struct{})
	for _, slug := range row.Collections {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			continue
		}
		c := snap.collection(slug)
		if c == nil {
			b.errorf(g.Ref, "collections", CodeUnknownCollection, "collection '%s' not found", slug)
			continue
		}
		if _, dup := member[strings.ToLower(slug)]; dup {
			continue
		}
		member[strings.ToLower(slug)] = struct{}{}
		p.Collections = append(p.Collections, *c)
	}
	if badge := strings.TrimSpace(row.Badge); badge != "" {
		c := snap.collection(badge)
		_, inSet := member[strings.ToLower(badge)]
		switch {
		case c == nil:
			b.errorf(g.Ref, "badge", CodeUnknownCollection, "badge collection '%s' not found", badge)
		case !inSet:
			b.errorf(g.Ref, "badge", CodeBadgeNotInCollections, "badge '%s' must be one of the row's collections", badge)
		default:
			p.Badge = c
		}
	}
	return p
}

func (v *Validator) checkVariant(b *reportBuilder, resolver *VariantResolver, tracker *DuplicateTracker, p *plannedProduct, entry variantEntry) *plannedVariant {
	row := entry.Row
	pv := &plannedVariant{Ref: entry.Ref, Row: row, Self: entry.Self, Images: uniqueStrings(row.Images)}
	before := len(b.report.Errors)

	if row.ID != "" && !entry.Self {
		id, err := primitive.ObjectIDFromHex(row.ID)
		switch {
		case err != nil:
			b.errorf(entry.Ref, "id", CodeInvalid, "variant id '%s' is not valid", row.ID)
		case p.Existing == nil:
			b.errorf(entry.Ref, "id", CodeInvalid, "variant id '%s' given for a new product", row.ID)
		case findVariant(p.Existing, id) == nil:
			b.errorf(entry.Ref, "id", CodeUnknownProduct, "variant %s does not belong to product %s", row.ID, p.Existing.ID.Hex())
		default:
			pv.ID = id
		}
		if strings.TrimSpace(row.SKU) == "" {
			b.errorf(entry.Ref, "sku", CodeRequired, "sku is required when updating a variant")
		}
	}

	if price, ok := parseMoney(b, entry.Ref, "price", row.Price.String(), true); ok {
		pv.Price = price
	}
	if s := strings.TrimSpace(row.Stock.String()); s == "" {
		b.errorf(entry.Ref, "stock", CodeRequired, "stock is required")
	} else if n, err := strconv.Atoi(s); err != nil {
		b.errorf(entry.Ref, "stock", CodeInvalid, "stock '%s' is not a whole number", s)
	} else if n < 0 {
		b.errorf(entry.Ref, "stock", CodeInvalid, "stock must not be negative")
	} else {
		pv.Stock = n
	}

	if offer, ok := parseMoney(b, entry.Ref, "offer_price", row.OfferPrice.String(), false); ok && strings.TrimSpace(row.OfferPrice.String()) != "" {
		pv.OfferPrice = &offer
		if !pv.Price.IsZero() && offer.GreaterThanOrEqual(pv.Price) {
			b.warnf(entry.Ref, "offer_price", CodeOfferNotDiscounted, "offer price %s is not below price %s", offer, pv.Price)
		}
	}
	pv.OfferStart = parseOfferTime(b, entry.Ref, "offer_start", row.OfferStart)
	pv.OfferEnd = parseOfferTime(b, entry.Ref, "offer_end", row.OfferEnd)
	if pv.OfferStart != nil && pv.OfferEnd != nil && pv.OfferEnd.Before(*pv.OfferStart) {
		b.errorf(entry.Ref, "offer_end", CodeInvalid, "offer_end is before offer_start")
	}

	resolved, issues := resolver.Resolve(row.Attributes)
	for _, issue := range issues {
		b.errorf(entry.Ref, "attributes."+issue.Key, issue.Code, "%s", issue.Err.Error())
	}
	if len(issues) == 0 {
		pv.Resolved = resolved
		if err := tracker.Check(resolved.Hash, entry.Ref); err != nil {
			b.errorf(entry.Ref, "attributes", CodeDuplicateConfiguration, "%s", err.Error())
		}
	}

	if len(b.report.Errors) > before {
		return nil
	}
	return pv
}

func parseMoney(b *reportBuilder, ref, field, raw string, required bool) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			b.errorf(ref, field, CodeRequired, "%s is required", field)
			return decimal.Zero, false
		}
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		b.errorf(ref, field, CodeInvalid, "%s '%s' is not a valid amount", field, raw)
		return decimal.Zero, false
	}
	if d.IsNegative() {
		b.errorf(ref, field, CodeInvalid, "%s must not be negative", field)
		return decimal.Zero, false
	}
	return d, true
}

var offerTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseOfferTime(b *reportBuilder, ref, field, raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range offerTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	b.errorf(ref, field, CodeInvalid, "%s '%s' is not a valid date", field, raw)
	return nil
}

func reportBatchDuplicates(b *reportBuilder, label string, order []string, uses map[string][]identifierUse) {
	for _, value := range order {
		occ := uses[value]
		if len(occ) < 2 {
			continue
		}
		for i, use := range occ {
			others := make([]string, 0, len(occ)-1)
			for j, o := range occ {
				if j != i {
					others = append(others, o.ref)
				}
			}
			b.errorf(use.ref, use.field, CodeDuplicateIdentifier, "%s '%s' is also used in row %s", label, value, strings.Join(others, ", "))
		}
	}
}

func (v *Validator) checkStagedAssets(b *reportBuilder, snap *importSnapshot, groups []*productGroup) {
	keys := stagedKeys(groups)
	b.report.Stats.StagedAssetCount = len(keys)
	var missing []string
	for _, k := range keys {
		if _, ok := snap.staged[k]; !ok {
			missing = append(missing, k)
		}
	}
	b.report.Stats.MissingAssetCount = len(missing)
	if len(missing) == 0 {
		return
	}
	b.report.MissingImages = missing
	b.errorf("", "images", CodeMissingImages, "staged images not found: %s", strings.Join(missing, ", "))
}

// checkPersistedIdentifiers runs one batched query for every supplied SKU
// and URL key. A match owned by a different product than the row's own is
// a collision.
func (v *Validator) checkPersistedIdentifiers(ctx context.Context, b *reportBuilder, skuOrder []string, skuUses map[string][]identifierUse, urlOrder []string, urlUses map[string][]identifierUse) error {
	if len(skuOrder) == 0 && len(urlOrder) == 0 {
		return nil
	}
	matches, err := v.loader.catalog.FindByIdentifiers(ctx, skuOrder, urlOrder)
	if err != nil {
		return fmt.Errorf("check persisted identifiers: %w", err)
	}
	reported := make(map[string]struct{})
	for _, m := range matches {
		uses, label := skuUses[m.Value], "SKU"
		if m.Kind == models.IdentifierKindURLKey {
			uses, label = urlUses[m.Value], "URL key"
		}
		for _, use := range uses {
			if use.owner == m.ProductID {
				continue
			}
			key := use.ref + "|" + use.field + "|" + m.Value
			if _, dup := reported[key]; dup {
				continue
			}
			reported[key] = struct{}{}
			b.errorf(use.ref, use.field, CodeIdentifierExists, "%s '%s' already exists in the catalog", label, m.Value)
		}
	}
	return nil
}

func findVariant(p *models.Product, id primitive.ObjectID) *models.Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}
