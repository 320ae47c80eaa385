package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory catalog, attribute, category and collection store.
type memStore struct {
	mu          sync.Mutex
	products    map[primitive.ObjectID]models.Product
	attrs       []models.AttributeDefinition
	categories  []models.Category
	collections map[string]models.Collection

	insertCalls     int
	failInsertAt    int
	replaceErr      error
	deleteErr       error
	decrementErr    error
	identifierCalls int
}

func newMemStore() *memStore {
	return &memStore{
		products:    make(map[primitive.ObjectID]models.Product),
		collections: make(map[string]models.Collection),
	}
}

func (m *memStore) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) FindByIdentifiers(ctx context.Context, skus, urlKeys []string) ([]models.IdentifierMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identifierCalls++
	skuSet := make(map[string]bool)
	for _, s := range skus {
		skuSet[s] = true
	}
	urlSet := make(map[string]bool)
	for _, u := range urlKeys {
		urlSet[u] = true
	}
	var out []models.IdentifierMatch
	for _, p := range m.products {
		seen := make(map[string]bool)
		add := func(kind, value string) {
			if seen[kind+value] {
				return
			}
			seen[kind+value] = true
			out = append(out, models.IdentifierMatch{ProductID: p.ID, Kind: kind, Value: value})
		}
		if skuSet[p.SKU] {
			add(models.IdentifierKindSKU, p.SKU)
		}
		for _, v := range p.Variants {
			if skuSet[v.SKU] {
				add(models.IdentifierKindSKU, v.SKU)
			}
		}
		if urlSet[p.URLKey] {
			add(models.IdentifierKindURLKey, p.URLKey)
		}
	}
	return out, nil
}

func (m *memStore) Insert(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.failInsertAt > 0 && m.insertCalls == m.failInsertAt {
		return errStoreDown
	}
	m.products[product.ID] = *product
	return nil
}

func (m *memStore) Replace(ctx context.Context, id primitive.ObjectID, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	if _, ok := m.products[id]; !ok {
		return repository.ErrNotFound
	}
	m.products[id] = *product
	return nil
}

func (m *memStore) DeleteMany(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var n int64
	for _, id := range ids {
		if _, ok := m.products[id]; ok {
			delete(m.products, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountAssetReferences(ctx context.Context, locator string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.products {
		refs := false
		for _, img := range p.Images {
			refs = refs || img.Locator == locator
		}
		for _, v := range p.Variants {
			for _, img := range v.Images {
				refs = refs || img.Locator == locator
			}
		}
		if refs {
			n++
		}
	}
	return n, nil
}

func (m *memStore) EnsureIndexes(ctx context.Context) error { return nil }

func (m *memStore) FindAll(ctx context.Context) ([]models.AttributeDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AttributeDefinition(nil), m.attrs...), nil
}

func (m *memStore) IncrementUsage(ctx context.Context, ids []primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i := range m.attrs {
			if m.attrs[i].ID == id {
				m.attrs[i].UsageCount++
				m.attrs[i].IsLocked = true
			}
		}
	}
	return nil
}

func (m *memStore) DecrementUsage(ctx context.Context, ids []primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decrementErr != nil {
		return m.decrementErr
	}
	for _, id := range ids {
		for i := range m.attrs {
			if m.attrs[i].ID == id && m.attrs[i].UsageCount > 0 {
				m.attrs[i].UsageCount--
				m.attrs[i].IsLocked = m.attrs[i].UsageCount > 0
			}
		}
	}
	return nil
}

func (m *memStore) FindByAnyOf(ctx context.Context, refs []string) ([]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Category
	for _, c := range m.categories {
		for _, ref := range refs {
			if strings.EqualFold(c.Code, ref) || strings.EqualFold(c.Slug, ref) || c.ID.Hex() == ref {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) FindBySlug(ctx context.Context, slug string) (*models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[strings.ToLower(slug)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memStore) attribute(code string) models.AttributeDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attrs {
		if a.Code == code {
			return a
		}
	}
	return models.AttributeDefinition{}
}

func (m *memStore) productBySKU(sku string) (models.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.SKU == sku {
			return p, true
		}
	}
	return models.Product{}, false
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

// snapshot and restore model what an aborted transaction discards.
func (m *memStore) snapshot() (map[primitive.ObjectID]models.Product, []models.AttributeDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := make(map[primitive.ObjectID]models.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	return products, append([]models.AttributeDefinition(nil), m.attrs...)
}

func (m *memStore) restore(products map[primitive.ObjectID]models.Product, attrs []models.AttributeDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
	m.attrs = attrs
}

type memStaged struct {
	mu         sync.Mutex
	records    map[string]models.StagedAsset
	deleteErr  error
	putManyErr error
}

func newMemStaged() *memStaged {
	return &memStaged{records: make(map[string]models.StagedAsset)}
}

func (s *memStaged) FindByKeys(ctx context.Context, keys []string) ([]models.StagedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StagedAsset
	for _, k := range keys {
		if a, ok := s.records[k]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStaged) Put(ctx context.Context, asset models.StagedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[asset.TempKey] = asset
	return nil
}

func (s *memStaged) PutMany(ctx context.Context, assets []models.StagedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putManyErr != nil {
		return s.putManyErr
	}
	for _, a := range assets {
		s.records[a.TempKey] = a
	}
	return nil
}

func (s *memStaged) DeleteMany(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, k := range keys {
		delete(s.records, k)
	}
	return nil
}

func (s *memStaged) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

// memAssets keeps object keys in two namespaces like the S3 store.
type memAssets struct {
	mu           sync.Mutex
	objects      map[string]bool
	failPromote  map[string]bool
	demoteErr    error
	promoteCalls int
	deleted      []string
}

func newMemAssets() *memAssets {
	return &memAssets{objects: make(map[string]bool), failPromote: make(map[string]bool)}
}

func permanentLocator(staging string) string {
	return "products/" + strings.TrimPrefix(staging, "staging/")
}

func (a *memAssets) Promote(ctx context.Context, locator string) (models.PermanentAsset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.promoteCalls++
	if a.failPromote[locator] {
		return models.PermanentAsset{}, errStoreDown
	}
	if !a.objects[locator] {
		return models.PermanentAsset{}, repository.ErrNotFound
	}
	perm := permanentLocator(locator)
	delete(a.objects, locator)
	a.objects[perm] = true
	return models.PermanentAsset{Locator: perm, URL: "https://cdn.test/" + perm}, nil
}

func (a *memAssets) Demote(ctx context.Context, permanent, original string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.demoteErr != nil {
		return a.demoteErr
	}
	delete(a.objects, permanent)
	a.objects[original] = true
	return nil
}

func (a *memAssets) Delete(ctx context.Context, locator string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, locator)
	a.deleted = append(a.deleted, locator)
	return nil
}

func (a *memAssets) has(locator string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.objects[locator]
}

type memTransactor struct {
	store     *memStore
	supported bool
	probeErr  error
	beginErr  error
	commitErr error
	tx        *memTx
}

func (t *memTransactor) SupportsTransactions(ctx context.Context) (bool, error) {
	return t.supported, t.probeErr
}

func (t *memTransactor) Begin(ctx context.Context) (repository.Tx, error) {
	if t.beginErr != nil {
		return nil, t.beginErr
	}
	products, attrs := t.store.snapshot()
	t.tx = &memTx{ctx: ctx, store: t.store, products: products, attrs: attrs, commitErr: t.commitErr}
	return t.tx, nil
}

type memTx struct {
	ctx       context.Context
	store     *memStore
	products  map[primitive.ObjectID]models.Product
	attrs     []models.AttributeDefinition
	commitErr error
	committed bool
	aborted   bool
}

func (t *memTx) Context() context.Context { return t.ctx }

func (t *memTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *memTx) Abort(ctx context.Context) error {
	t.aborted = true
	t.store.restore(t.products, t.attrs)
	return nil
}

// fixture wires a validator and committer over the in-memory stores with a
// small attribute registry and category tree.
type fixture struct {
	store      *memStore
	staged     *memStaged
	assets     *memAssets
	transactor *memTransactor
	validator  *Validator
	committer  *Committer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.attrs = []models.AttributeDefinition{
		{ID: primitive.NewObjectID(), Code: "color", Label: "Colour"},
		{ID: primitive.NewObjectID(), Code: "size", Label: "Size"},
		{ID: primitive.NewObjectID(), Code: "material", Label: "Material"},
	}
	store.categories = []models.Category{
		{ID: primitive.NewObjectID(), Code: "clothing", Slug: "clothing", Name: "Clothing", IsActive: true},
		{ID: primitive.NewObjectID(), Code: "archive", Slug: "archive", Name: "Archive", IsActive: false},
	}
	store.collections["summer"] = models.Collection{ID: primitive.NewObjectID(), Slug: "summer", Title: "Summer"}
	store.collections["sale"] = models.Collection{ID: primitive.NewObjectID(), Slug: "sale", Title: "Sale"}

	fx := &fixture{
		store:      store,
		staged:     newMemStaged(),
		assets:     newMemAssets(),
		transactor: &memTransactor{store: store},
	}
	fx.validator = NewValidator(ValidatorDeps{
		Catalog:     store,
		Categories:  store,
		Collections: store,
		Attributes:  store,
		Staged:      fx.staged,
		Logger:      zap.NewNop(),
	})
	fx.committer = NewCommitter(CommitterDeps{
		Validator:  fx.validator,
		Catalog:    store,
		Attributes: store,
		Staged:     fx.staged,
		Assets:     fx.assets,
		Transactor: fx.transactor,
		Logger:     zap.NewNop(),
	})
	return fx
}

// stage registers an uploaded binary under key.
func (fx *fixture) stage(keys ...string) {
	for _, key := range keys {
		locator := "staging/" + key + ".jpg"
		fx.staged.records[key] = models.StagedAsset{TempKey: key, Locator: locator}
		fx.assets.objects[locator] = true
	}
}

// seed stores an existing product and returns it.
func (fx *fixture) seed(p models.Product) models.Product {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	fx.store.products[p.ID] = p
	return p
}

func variantRow(sku, price, stock string, attrs map[string]string) models.VariantRow {
	return models.VariantRow{
		SKU:        sku,
		Price:      models.FlexString(price),
		Stock:      models.FlexString(stock),
		Attributes: models.Attributes(attrs),
	}
}

func issueCodes(issues []models.ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	return codes
}

func findIssue(issues []models.ValidationIssue, code string) (models.ValidationIssue, bool) {
	for _, i := range issues {
		if i.Code == code {
			return i, true
		}
	}
	return models.ValidationIssue{}, false
}
