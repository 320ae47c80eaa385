package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// importSnapshot holds every lookup one validate or commit call needs,
// loaded once up front and treated as immutable for the rest of the call.
type importSnapshot struct {
	registry    *AttributeRegistry
	categories  []models.Category
	collections map[string]*models.Collection
	staged      map[string]models.StagedAsset
	existing    map[primitive.ObjectID]models.Product
}

func (s *importSnapshot) category(ref string) (models.Category, bool) {
	ref = strings.TrimSpace(ref)
	for _, c := range s.categories {
		if strings.EqualFold(c.Code, ref) || strings.EqualFold(c.Slug, ref) || c.ID.Hex() == ref {
			return c, true
		}
	}
	return models.Category{}, false
}

func (s *importSnapshot) collection(slug string) *models.Collection {
	return s.collections[strings.ToLower(strings.TrimSpace(slug))]
}

type snapshotLoader struct {
	catalog     repository.CatalogRepo
	categories  repository.CategoryRepo
	collections repository.CollectionRepo
	attributes  repository.AttributeRepo
	staged      repository.StagedAssetRepo
}

func (l *snapshotLoader) load(ctx context.Context, groups []*productGroup) (*importSnapshot, error) {
	registry, err := LoadAttributeRegistry(ctx, l.attributes)
	if err != nil {
		return nil, err
	}
	snap := &importSnapshot{
		registry:    registry,
		collections: make(map[string]*models.Collection),
		staged:      make(map[string]models.StagedAsset),
		existing:    make(map[primitive.ObjectID]models.Product),
	}

	var (
		categoryRefs []string
		slugs        []string
		ids          []primitive.ObjectID
		seenSlug     = make(map[string]struct{})
	)
	for _, g := range groups {
		if c := strings.TrimSpace(g.Row.Category); c != "" {
			categoryRefs = append(categoryRefs, c)
		}
		for _, slug := range append(append([]string{}, g.Row.Collections...), g.Row.Badge) {
			key := strings.ToLower(strings.TrimSpace(slug))
			if key == "" {
				continue
			}
			if _, ok := seenSlug[key]; !ok {
				seenSlug[key] = struct{}{}
				slugs = append(slugs, key)
			}
		}
		if id, err := primitive.ObjectIDFromHex(g.Row.ID); err == nil {
			ids = append(ids, id)
		}
	}

	if len(categoryRefs) > 0 {
		cats, err := l.categories.FindByAnyOf(ctx, uniqueStrings(categoryRefs))
		if err != nil {
			return nil, fmt.Errorf("load categories: %w", err)
		}
		snap.categories = cats
	}

	for _, slug := range slugs {
		c, err := l.collections.FindBySlug(ctx, slug)
		if errors.Is(err, repository.ErrNotFound) {
			snap.collections[slug] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load collections: %w", err)
		}
		snap.collections[slug] = c
	}

	if keys := stagedKeys(groups); len(keys) > 0 {
		assets, err := l.staged.FindByKeys(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("load staged assets: %w", err)
		}
		for _, a := range assets {
			snap.staged[a.TempKey] = a
		}
	}

	if len(ids) > 0 {
		products, err := l.catalog.FindByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load products to update: %w", err)
		}
		for _, p := range products {
			snap.existing[p.ID] = p
		}
	}
	return snap, nil
}

// stagedKeys lists every referenced temp key once, in order of appearance.
func stagedKeys(groups []*productGroup) []string {
	var keys []string
	for _, g := range groups {
		keys = append(keys, g.Row.Images...)
		for _, v := range g.Variants {
			keys = append(keys, v.Row.Images...)
		}
	}
	return uniqueStrings(keys)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
