package services

import (
	"context"
	"fmt"

	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/repository"
)

// AssetManager promotes staged assets for a single commit. Asking for the
// same temp key twice returns the first result without moving anything.
type AssetManager struct {
	store    repository.AssetStore
	promoted map[string]models.PermanentAsset
}

func NewAssetManager(store repository.AssetStore) *AssetManager {
	return &AssetManager{store: store, promoted: make(map[string]models.PermanentAsset)}
}

// Promote reports fresh=false when the key was already promoted by this
// manager.
func (m *AssetManager) Promote(ctx context.Context, staged models.StagedAsset) (asset models.PermanentAsset, fresh bool, err error) {
	if cached, ok := m.promoted[staged.TempKey]; ok {
		return cached, false, nil
	}
	asset, err = m.store.Promote(ctx, staged.Locator)
	if err != nil {
		return models.PermanentAsset{}, false, &AssetPromotionFailure{TempKey: staged.TempKey, Locator: staged.Locator, Err: err}
	}
	m.promoted[staged.TempKey] = asset
	return asset, true, nil
}

// Lookup returns the asset a temp key was promoted to.
func (m *AssetManager) Lookup(tempKey string) (models.PermanentAsset, bool) {
	a, ok := m.promoted[tempKey]
	return a, ok
}

// Demote moves a promoted asset back to its staging locator. Callers treat
// failures as best-effort.
func (m *AssetManager) Demote(ctx context.Context, permanentLocator, originalLocator string) error {
	if err := m.store.Demote(ctx, permanentLocator, originalLocator); err != nil {
		return fmt.Errorf("demote %s to %s: %w", permanentLocator, originalLocator, err)
	}
	return nil
}
