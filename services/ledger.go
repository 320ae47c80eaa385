package services

import (
	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LedgerEntryKind string

const (
	EntryAssetPromoted    LedgerEntryKind = "asset_promoted"
	EntryEntityCreated    LedgerEntryKind = "entity_created"
	EntryEntityReplaced   LedgerEntryKind = "entity_replaced"
	EntryUsageIncremented LedgerEntryKind = "usage_incremented"
	EntryStagedConsumed   LedgerEntryKind = "staged_consumed"
)

// AssetPromotion is one staged-to-durable move.
type AssetPromotion struct {
	TempKey    string
	OldLocator string
	NewLocator string
}

// LedgerEntry is one side effect of a commit, carrying what is needed to
// undo it. Transactional entries were written inside the open transaction.
type LedgerEntry struct {
	Kind          LedgerEntryKind
	Transactional bool
	ProductID     primitive.ObjectID
	Previous      *models.Product
	Promotion     AssetPromotion
	AttributeIDs  []primitive.ObjectID
	Staged        []models.StagedAsset
}

// CommitLedger is the ordered compensation log of one commit attempt.
// Store writes are recorded before they are attempted, so a write whose
// outcome is unknown is still undone. Promotions are recorded once the move
// succeeded.
type CommitLedger struct {
	entries []LedgerEntry
}

func (l *CommitLedger) RecordPromotion(p AssetPromotion) {
	l.entries = append(l.entries, LedgerEntry{Kind: EntryAssetPromoted, Promotion: p})
}

func (l *CommitLedger) RecordCreated(id primitive.ObjectID, transactional bool) {
	l.entries = append(l.entries, LedgerEntry{Kind: EntryEntityCreated, ProductID: id, Transactional: transactional})
}

func (l *CommitLedger) RecordReplaced(previous models.Product, transactional bool) {
	prev := previous
	l.entries = append(l.entries, LedgerEntry{Kind: EntryEntityReplaced, ProductID: previous.ID, Previous: &prev, Transactional: transactional})
}

func (l *CommitLedger) RecordUsage(ids []primitive.ObjectID, transactional bool) {
	l.entries = append(l.entries, LedgerEntry{Kind: EntryUsageIncremented, AttributeIDs: ids, Transactional: transactional})
}

func (l *CommitLedger) RecordStagedConsumed(assets []models.StagedAsset) {
	l.entries = append(l.entries, LedgerEntry{Kind: EntryStagedConsumed, Staged: assets})
}

// Entries returns the log in the order effects were performed.
func (l *CommitLedger) Entries() []LedgerEntry {
	return append([]LedgerEntry(nil), l.entries...)
}

func (l *CommitLedger) CreatedIDs() []primitive.ObjectID {
	var ids []primitive.ObjectID
	for _, e := range l.entries {
		if e.Kind == EntryEntityCreated {
			ids = append(ids, e.ProductID)
		}
	}
	return ids
}
