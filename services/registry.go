package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
	"golang.org/x/text/cases"
)

// AttributeRegistry is a read-only snapshot of the global attribute
// definitions, looked up case-insensitively by code or label. Attributes
// created after the snapshot was taken are not visible to it.
type AttributeRegistry struct {
	byKey map[string]models.AttributeDefinition
}

func registryKey(s string) string {
	// a Caser is stateful, never share one across goroutines
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

func NewAttributeRegistry(defs []models.AttributeDefinition) *AttributeRegistry {
	r := &AttributeRegistry{byKey: make(map[string]models.AttributeDefinition, len(defs)*2)}
	// codes win over labels when a label happens to equal another code
	for _, d := range defs {
		if d.Label != "" {
			r.byKey[registryKey(d.Label)] = d
		}
	}
	for _, d := range defs {
		r.byKey[registryKey(d.Code)] = d
	}
	return r
}

// LoadAttributeRegistry reads every definition once.
func LoadAttributeRegistry(ctx context.Context, repo repository.AttributeRepo) (*AttributeRegistry, error) {
	defs, err := repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load attribute registry: %w", err)
	}
	return NewAttributeRegistry(defs), nil
}

func (r *AttributeRegistry) Resolve(key string) (models.AttributeDefinition, bool) {
	d, ok := r.byKey[registryKey(key)]
	return d, ok
}
