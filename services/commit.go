package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type CommitState string

const (
	StateStart                CommitState = "START"
	StateTransactionAttempted CommitState = "TRANSACTION_ATTEMPTED"
	StateNoTransaction        CommitState = "NO_TRANSACTION"
	StateAssetsPromoted       CommitState = "ASSETS_PROMOTED"
	StateEntitiesWritten      CommitState = "ENTITIES_WRITTEN"
	StateTempCleaned          CommitState = "TEMP_CLEANED"
	StateCommitted            CommitState = "COMMITTED"
	StateFailed               CommitState = "FAILED"
	StateCompensating         CommitState = "COMPENSATING"
	StateCompensated          CommitState = "COMPENSATED"
)

var commitTransitions = map[CommitState][]CommitState{
	StateStart:                {StateTransactionAttempted, StateNoTransaction},
	StateTransactionAttempted: {StateAssetsPromoted, StateNoTransaction, StateFailed},
	StateNoTransaction:        {StateAssetsPromoted, StateFailed},
	StateAssetsPromoted:       {StateEntitiesWritten, StateFailed},
	StateEntitiesWritten:      {StateTempCleaned, StateFailed},
	StateTempCleaned:          {StateCommitted, StateFailed},
	StateFailed:               {StateCompensating},
	StateCompensating:         {StateCompensated},
}

const defaultCompensationTimeout = 30 * time.Second

// Committer runs the write phase of an import as a saga: every side effect
// is recorded in a ledger and reversed if the commit fails before the
// transaction (when there is one) commits.
type Committer struct {
	validator           *Validator
	catalog             repository.CatalogRepo
	attributes          repository.AttributeRepo
	staged              repository.StagedAssetRepo
	assets              repository.AssetStore
	transactor          repository.Transactor
	logger              *zap.Logger
	maxAttempts         int
	compensationTimeout time.Duration
	now                 func() time.Time
}

type CommitterDeps struct {
	Validator   *Validator
	Catalog     repository.CatalogRepo
	Attributes  repository.AttributeRepo
	Staged      repository.StagedAssetRepo
	Assets      repository.AssetStore
	Transactor  repository.Transactor
	Logger      *zap.Logger
	MaxAttempts int
}

func NewCommitter(d CommitterDeps) *Committer {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{
		validator:           d.Validator,
		catalog:             d.Catalog,
		attributes:          d.Attributes,
		staged:              d.Staged,
		assets:              d.Assets,
		transactor:          d.Transactor,
		logger:              logger,
		maxAttempts:         d.MaxAttempts,
		compensationTimeout: defaultCompensationTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// commitRun is the state of one commit call. It is never shared.
type commitRun struct {
	c        *Committer
	state    CommitState
	history  []CommitState
	tx       repository.Tx
	writeCtx context.Context
	ledger   *CommitLedger
	assets   *AssetManager
	result   *models.CommitResult
	log      *zap.Logger
}

func (r *commitRun) transition(next CommitState) {
	allowed := false
	for _, s := range commitTransitions[r.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		r.log.Error("illegal commit state transition", zap.String("from", string(r.state)), zap.String("to", string(next)))
	}
	r.log.Debug("commit state", zap.String("from", string(r.state)), zap.String("to", string(next)))
	r.state = next
	r.history = append(r.history, next)
}

// Commit validates rows against a fresh snapshot and writes them. An invalid
// batch is refused with a ValidationFailure before any side effect.
func (c *Committer) Commit(ctx context.Context, rows []models.ImportRow) (*models.CommitResult, error) {
	result, _, err := c.commit(ctx, rows)
	return result, err
}

func (c *Committer) commit(ctx context.Context, rows []models.ImportRow) (*models.CommitResult, *commitRun, error) {
	plan, err := c.validator.evaluate(ctx, rows)
	if err != nil {
		return nil, nil, err
	}
	if !plan.report.Valid {
		return nil, nil, &ValidationFailure{Report: plan.report}
	}

	run := &commitRun{
		c:        c,
		state:    StateStart,
		history:  []CommitState{StateStart},
		writeCtx: ctx,
		ledger:   &CommitLedger{},
		assets:   NewAssetManager(c.assets),
		result:   &models.CommitResult{},
		log:      c.logger.With(zap.Int("rows", len(rows))),
	}

	run.begin(ctx)

	if err := run.promoteAssets(ctx, plan); err != nil {
		return nil, run, run.fail(ctx, err)
	}
	run.transition(StateAssetsPromoted)

	superseded, err := run.writeProducts(ctx, plan)
	if err != nil {
		return nil, run, run.fail(ctx, err)
	}
	run.transition(StateEntitiesWritten)

	if err := run.cleanupStaged(ctx, plan); err != nil {
		return nil, run, run.fail(ctx, err)
	}
	run.transition(StateTempCleaned)

	if run.tx != nil {
		if err := run.tx.Commit(ctx); err != nil {
			// replication durability is trusted past this point
			run.log.Error("import transaction commit reported an error", zap.Error(err))
			run.result.Warnings = append(run.result.Warnings, fmt.Sprintf("transaction commit reported: %v", err))
		}
	}
	run.transition(StateCommitted)

	run.releaseSuperseded(ctx, superseded)
	run.log.Info("import committed",
		zap.Int("created", run.result.Created.Products),
		zap.Int("updated", run.result.Updated.Products),
		zap.Int("assets_promoted", run.result.AssetsPromoted),
		zap.Bool("transactional", run.result.Transactional),
	)
	return run.result, run, nil
}

// begin probes the store on every call since topology can change between
// deployments.
func (r *commitRun) begin(ctx context.Context) {
	supported, err := r.c.transactor.SupportsTransactions(ctx)
	if err != nil {
		r.log.Warn("transaction capability probe failed, writing without a transaction", zap.Error(err))
		supported = false
	}
	if !supported {
		r.transition(StateNoTransaction)
		return
	}
	r.transition(StateTransactionAttempted)
	tx, err := r.c.transactor.Begin(ctx)
	if err != nil {
		r.log.Warn("could not open a transaction, degrading to compensated writes", zap.Error(err))
		r.transition(StateNoTransaction)
		return
	}
	r.tx = tx
	r.writeCtx = tx.Context()
	r.result.Transactional = true
}

func (r *commitRun) promoteAssets(ctx context.Context, plan *importPlan) error {
	for _, key := range stagedKeys(plan.groups) {
		staged := plan.snapshot.staged[key]
		asset, fresh, err := r.assets.Promote(ctx, staged)
		if err != nil {
			return err
		}
		if fresh {
			r.ledger.RecordPromotion(AssetPromotion{TempKey: key, OldLocator: staged.Locator, NewLocator: asset.Locator})
			r.result.AssetsPromoted++
		}
	}
	return nil
}

// supersededAssets pairs an updated product with the locators it dropped.
type supersededAssets struct {
	productID primitive.ObjectID
	locators  []string
}

func (r *commitRun) writeProducts(ctx context.Context, plan *importPlan) ([]supersededAssets, error) {
	gen := NewIdentifierGenerator(r.c.catalog, r.c.maxAttempts)
	for _, p := range plan.products {
		gen.Reserve(models.IdentifierKindSKU, p.Row.SKU)
		gen.Reserve(models.IdentifierKindURLKey, p.Row.URLKey)
		for _, v := range p.Variants {
			if !v.Self {
				gen.Reserve(models.IdentifierKindSKU, v.Row.SKU)
			}
		}
	}

	var (
		superseded []supersededAssets
		usedAttrs  = make(map[primitive.ObjectID]struct{})
	)
	for _, p := range plan.products {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("commit interrupted before row %s: %w", p.Ref, err)
		}
		product, newVariants, err := r.assemble(ctx, gen, p)
		if err != nil {
			return nil, err
		}

		if p.isNew() {
			r.ledger.RecordCreated(product.ID, r.tx != nil)
			if err := r.c.catalog.Insert(r.writeCtx, product); err != nil {
				return nil, conflictOrError(err, product, p.Ref)
			}
			r.result.Created.Products++
		} else {
			r.ledger.RecordReplaced(*p.Existing, r.tx != nil)
			if err := r.c.catalog.Replace(r.writeCtx, product.ID, product); err != nil {
				return nil, conflictOrError(err, product, p.Ref)
			}
			r.result.Updated.Products++
			if dropped := droppedLocators(p.Existing, product); len(dropped) > 0 {
				superseded = append(superseded, supersededAssets{productID: product.ID, locators: dropped})
			}
		}
		r.result.Created.Variants += newVariants
		r.result.ProductIDs = append(r.result.ProductIDs, product.ID.Hex())

		var firstUse []primitive.ObjectID
		for _, opt := range product.AttributeOptions {
			if _, seen := usedAttrs[opt.AttributeID]; !seen {
				usedAttrs[opt.AttributeID] = struct{}{}
				firstUse = append(firstUse, opt.AttributeID)
			}
		}
		if len(firstUse) > 0 {
			r.ledger.RecordUsage(firstUse, r.tx != nil)
			if err := r.c.attributes.IncrementUsage(r.writeCtx, firstUse); err != nil {
				return nil, fmt.Errorf("row %s: %w", p.Ref, err)
			}
		}
	}
	return superseded, nil
}

// assemble builds the catalog entity for one planned product and returns
// how many of its variants are new.
func (r *commitRun) assemble(ctx context.Context, gen *IdentifierGenerator, p *plannedProduct) (*models.Product, int, error) {
	now := r.c.now()
	ic := IdentifierContext{Title: p.Row.Title, CategoryCode: p.Category.Code, ExcludeID: p.ID}

	sku, err := gen.EnsureUniqueSKU(ctx, p.Row.SKU, ic)
	if err != nil {
		return nil, 0, fmt.Errorf("row %s: %w", p.Ref, err)
	}
	urlCandidate := p.Row.URLKey
	if urlCandidate == "" && p.Existing != nil {
		urlCandidate = p.Existing.URLKey
	}
	urlKey, err := gen.EnsureUniqueURLKey(ctx, urlCandidate, ic)
	if err != nil {
		return nil, 0, fmt.Errorf("row %s: %w", p.Ref, err)
	}

	product := &models.Product{
		ID:          p.ID,
		ExternalID:  p.Row.ExternalID,
		Title:       p.Row.Title,
		Description: p.Row.Description,
		SKU:         sku,
		URLKey:      urlKey,
		CategoryID:  p.Category.ID,
		Images:      r.images(p.Images),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, c := range p.Collections {
		product.CollectionIDs = append(product.CollectionIDs, c.ID)
	}
	if p.Badge != nil {
		id := p.Badge.ID
		product.BadgeID = &id
	}
	if p.Existing != nil {
		product.CreatedAt = p.Existing.CreatedAt
		if len(p.Images) == 0 {
			product.Images = p.Existing.Images
		}
		if product.ExternalID == "" {
			product.ExternalID = p.Existing.ExternalID
		}
	} else {
		product.ID = primitive.NewObjectID()
	}

	var (
		resolved    []ResolvedVariant
		newVariants int
		claimed     = make(map[primitive.ObjectID]struct{})
	)
	for _, pv := range p.Variants {
		var match *models.Variant
		if p.Existing != nil {
			match = matchVariant(p.Existing, pv, claimed)
		}
		variant, err := r.variant(ctx, gen, product, pv, match)
		if err != nil {
			return nil, 0, fmt.Errorf("row %s: %w", pv.Ref, err)
		}
		if match == nil {
			newVariants++
		} else {
			claimed[match.ID] = struct{}{}
		}
		product.Variants = append(product.Variants, variant)
		resolved = append(resolved, pv.Resolved)
	}
	product.AttributeOptions = AttributeOptions(resolved)
	return product, newVariants, nil
}

func (r *commitRun) variant(ctx context.Context, gen *IdentifierGenerator, product *models.Product, pv *plannedVariant, match *models.Variant) (models.Variant, error) {
	v := models.Variant{
		ID:         primitive.NewObjectID(),
		Stock:      pv.Stock,
		OfferStart: pv.OfferStart,
		OfferEnd:   pv.OfferEnd,
		ConfigHash: pv.Resolved.Hash.String(),
		Images:     r.images(pv.Images),
	}
	if match != nil {
		v.ID = match.ID
		if len(pv.Images) == 0 {
			v.Images = match.Images
		}
	}

	switch {
	case pv.Self:
		v.SKU = product.SKU
	default:
		candidate := pv.Row.SKU
		if candidate == "" && match != nil {
			candidate = match.SKU
		}
		sku, err := gen.EnsureUniqueSKU(ctx, candidate, IdentifierContext{
			ParentSKU:  product.SKU,
			Attributes: pv.Resolved.Attributes,
			ExcludeID:  product.ID,
		})
		if err != nil {
			return models.Variant{}, err
		}
		v.SKU = sku
	}

	price, err := toDecimal128(pv.Price)
	if err != nil {
		return models.Variant{}, fmt.Errorf("price: %w", err)
	}
	v.Price = price
	if pv.OfferPrice != nil {
		offer, err := toDecimal128(*pv.OfferPrice)
		if err != nil {
			return models.Variant{}, fmt.Errorf("offer price: %w", err)
		}
		v.OfferPrice = &offer
	}
	for _, a := range pv.Resolved.Attributes {
		v.Attributes = append(v.Attributes, models.VariantAttribute{AttributeID: a.AttributeID, Code: a.Code, Value: a.Value, Label: a.Label})
	}
	return v, nil
}

func (r *commitRun) images(keys []string) []models.Image {
	out := []models.Image{}
	for _, k := range keys {
		if a, ok := r.assets.Lookup(k); ok {
			out = append(out, models.Image{Locator: a.Locator, URL: a.URL})
		}
	}
	return out
}

// matchVariant finds the stored variant an incoming one updates: by id,
// then SKU, then attribute configuration.
func matchVariant(existing *models.Product, pv *plannedVariant, claimed map[primitive.ObjectID]struct{}) *models.Variant {
	free := func(v *models.Variant) bool {
		_, taken := claimed[v.ID]
		return !taken
	}
	if !pv.ID.IsZero() {
		if v := findVariant(existing, pv.ID); v != nil && free(v) {
			return v
		}
	}
	sku := pv.Row.SKU
	if pv.Self {
		sku = existing.SKU
		if pv.Row.SKU != "" {
			sku = pv.Row.SKU
		}
	}
	if sku != "" {
		for i := range existing.Variants {
			if v := &existing.Variants[i]; v.SKU == sku && free(v) {
				return v
			}
		}
	}
	hash := pv.Resolved.Hash.String()
	for i := range existing.Variants {
		if v := &existing.Variants[i]; v.ConfigHash == hash && free(v) {
			return v
		}
	}
	return nil
}

func (r *commitRun) cleanupStaged(ctx context.Context, plan *importPlan) error {
	keys := stagedKeys(plan.groups)
	if len(keys) == 0 {
		return nil
	}
	consumed := make([]models.StagedAsset, 0, len(keys))
	for _, k := range keys {
		consumed = append(consumed, plan.snapshot.staged[k])
	}
	r.ledger.RecordStagedConsumed(consumed)
	if err := r.c.staged.DeleteMany(ctx, keys); err != nil {
		return fmt.Errorf("delete consumed staged records: %w", err)
	}
	return nil
}

// releaseSuperseded deletes images an update dropped, unless another entity
// still references them. Failures only produce warnings.
func (r *commitRun) releaseSuperseded(ctx context.Context, superseded []supersededAssets) {
	for _, s := range superseded {
		for _, loc := range s.locators {
			refs, err := r.c.catalog.CountAssetReferences(ctx, loc)
			if err != nil {
				r.log.Warn("could not count asset references", zap.String("locator", loc), zap.Error(err))
				continue
			}
			if refs > 0 {
				conflict := &SharedResourceConflict{Locator: loc, References: refs}
				r.log.Info("superseded asset still referenced, keeping it", zap.String("product_id", s.productID.Hex()), zap.Error(conflict))
				r.result.Warnings = append(r.result.Warnings, conflict.Error())
				continue
			}
			if err := r.c.assets.Delete(ctx, loc); err != nil {
				r.log.Warn("could not delete superseded asset", zap.String("locator", loc), zap.Error(err))
			}
		}
	}
}

func (r *commitRun) fail(ctx context.Context, cause error) error {
	failedAt := r.state
	r.log.Warn("import commit failed, compensating", zap.String("state", string(failedAt)), zap.Error(cause))
	r.transition(StateFailed)
	r.transition(StateCompensating)

	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.c.compensationTimeout)
	defer cancel()
	partial := r.compensate(compCtx)
	r.transition(StateCompensated)

	if partial != nil {
		r.log.Error("import rollback incomplete, manual reconciliation required",
			zap.String("state", string(failedAt)),
			zap.Errors("failures", partial.Failures),
		)
	}
	return &CommitFailure{State: failedAt, Err: cause, Compensation: partial}
}

// compensate replays the ledger in reverse. Store writes made inside an
// aborted transaction are discarded by the abort and are not replayed,
// except entity deletion which is idempotent. Every other failure is
// collected and reversal continues.
func (r *commitRun) compensate(ctx context.Context) *PartialCompensationFailure {
	var failures []error
	if r.tx != nil {
		if err := r.tx.Abort(ctx); err != nil {
			failures = append(failures, err)
		}
	}

	if ids := r.ledger.CreatedIDs(); len(ids) > 0 {
		if _, err := r.c.catalog.DeleteMany(ctx, ids); err != nil {
			failures = append(failures, fmt.Errorf("delete %d created products: %w", len(ids), err))
		}
	}

	entries := r.ledger.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Kind {
		case EntryEntityReplaced:
			if e.Transactional {
				continue
			}
			if err := r.c.catalog.Replace(ctx, e.ProductID, e.Previous); err != nil {
				failures = append(failures, fmt.Errorf("restore product %s: %w", e.ProductID.Hex(), err))
			}
		case EntryUsageIncremented:
			if e.Transactional {
				continue
			}
			if err := r.c.attributes.DecrementUsage(ctx, e.AttributeIDs); err != nil {
				failures = append(failures, err)
			}
		case EntryStagedConsumed:
			if err := r.c.staged.PutMany(ctx, e.Staged); err != nil {
				failures = append(failures, fmt.Errorf("restore staged records: %w", err))
			}
		case EntryAssetPromoted:
			if err := r.assets.Demote(ctx, e.Promotion.NewLocator, e.Promotion.OldLocator); err != nil {
				r.log.Warn("asset could not be moved back to staging", zap.String("temp_key", e.Promotion.TempKey), zap.Error(err))
				failures = append(failures, err)
			}
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &PartialCompensationFailure{Failures: failures}
}

// conflictOrError turns a unique index violation into an identifier
// collision so a concurrent import is reported as a conflict.
func conflictOrError(err error, product *models.Product, ref string) error {
	if index, value, ok := repository.DuplicateKey(err); ok {
		collision := &IdentifierCollisionError{Kind: "identifier", Value: value}
		switch index {
		case repository.IndexSKU:
			collision.Kind = models.IdentifierKindSKU
			if collision.Value == "" {
				collision.Value = product.SKU
			}
		case repository.IndexURLKey:
			collision.Kind = models.IdentifierKindURLKey
			if collision.Value == "" {
				collision.Value = product.URLKey
			}
		case repository.IndexVariantSKU:
			collision.Kind = "variant " + models.IdentifierKindSKU
		}
		return fmt.Errorf("row %s: %w", ref, collision)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("row %s: product %s disappeared before it could be replaced", ref, product.ID.Hex())
	}
	return fmt.Errorf("row %s: %w", ref, err)
}

func droppedLocators(previous, next *models.Product) []string {
	kept := make(map[string]struct{})
	for _, img := range next.Images {
		kept[img.Locator] = struct{}{}
	}
	for _, v := range next.Variants {
		for _, img := range v.Images {
			kept[img.Locator] = struct{}{}
		}
	}
	var dropped []string
	seen := make(map[string]struct{})
	collect := func(imgs []models.Image) {
		for _, img := range imgs {
			if _, ok := kept[img.Locator]; ok {
				continue
			}
			if _, ok := seen[img.Locator]; ok {
				continue
			}
			seen[img.Locator] = struct{}{}
			dropped = append(dropped, img.Locator)
		}
	}
	collect(previous.Images)
	for _, v := range previous.Variants {
		collect(v.Images)
	}
	return dropped
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}
