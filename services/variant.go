package services

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Keys carrying variant fields rather than attributes.
var reservedAttributeKeys = map[string]struct{}{
	"sku":    {},
	"price":  {},
	"stock":  {},
	"image":  {},
	"images": {},
}

// ResolvedAttribute pairs a registry attribute with a normalized value.
type ResolvedAttribute struct {
	AttributeID primitive.ObjectID
	Code        string
	Value       string
	Label       string
}

// ConfigHash fingerprints a resolved attribute set. It is computed over the
// sorted (attribute id, value) pairs with length-prefixed fields, so no
// choice of value can make two different sets encode alike.
type ConfigHash [sha256.Size]byte

func (h ConfigHash) String() string { return hex.EncodeToString(h[:]) }

// ResolvedVariant is a variant whose attributes all resolved.
type ResolvedVariant struct {
	Attributes []ResolvedAttribute
	Hash       ConfigHash
}

// AttributeIssue is a per-key resolution problem.
type AttributeIssue struct {
	Key  string
	Code string
	Err  error
}

// VariantResolver maps free-form attribute maps onto a registry snapshot.
type VariantResolver struct {
	registry *AttributeRegistry
}

func NewVariantResolver(registry *AttributeRegistry) *VariantResolver {
	return &VariantResolver{registry: registry}
}

// NormalizeAttributeValue applies NFKC, case folding and whitespace
// collapsing.
func NormalizeAttributeValue(v string) string {
	v = norm.NFKC.String(v)
	v = cases.Fold().String(v)
	return strings.Join(strings.Fields(v), " ")
}

func displayValue(v string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(v)), " ")
}

// Resolve returns the resolved variant, or every per-key problem found. Keys
// are visited in sorted order so issues are reported deterministically.
func (r *VariantResolver) Resolve(attrs map[string]string) (ResolvedVariant, []AttributeIssue) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		issues   []AttributeIssue
		resolved []ResolvedAttribute
		seen     = make(map[primitive.ObjectID]string)
	)
	for _, key := range keys {
		if _, reserved := reservedAttributeKeys[strings.ToLower(strings.TrimSpace(key))]; reserved {
			continue
		}
		def, ok := r.registry.Resolve(key)
		if !ok {
			issues = append(issues, AttributeIssue{Key: key, Code: CodeUnknownAttribute, Err: &UnknownAttributeError{Key: key}})
			continue
		}
		if prev, dup := seen[def.ID]; dup {
			issues = append(issues, AttributeIssue{
				Key:  key,
				Code: CodeDuplicateAttribute,
				Err:  &duplicateAttributeError{Key: key, Other: prev, Code: def.Code},
			})
			continue
		}
		seen[def.ID] = key

		value := NormalizeAttributeValue(attrs[key])
		if value == "" {
			issues = append(issues, AttributeIssue{Key: key, Code: CodeRequired, Err: &emptyAttributeValueError{Key: key}})
			continue
		}
		resolved = append(resolved, ResolvedAttribute{
			AttributeID: def.ID,
			Code:        def.Code,
			Value:       value,
			Label:       displayValue(attrs[key]),
		})
	}
	if len(issues) > 0 {
		return ResolvedVariant{}, issues
	}

	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].AttributeID.Hex() < resolved[j].AttributeID.Hex()
	})
	return ResolvedVariant{Attributes: resolved, Hash: HashConfiguration(resolved)}, nil
}

// HashConfiguration hashes pairs that are already sorted by attribute id.
func HashConfiguration(pairs []ResolvedAttribute) ConfigHash {
	h := sha256.New()
	buf := make([]byte, 0, 64)
	buf = binary.AppendUvarint(buf, uint64(len(pairs)))
	h.Write(buf)
	for _, p := range pairs {
		buf = buf[:0]
		buf = append(buf, p.AttributeID[:]...)
		buf = binary.AppendUvarint(buf, uint64(len(p.Value)))
		buf = append(buf, p.Value...)
		h.Write(buf)
	}
	var out ConfigHash
	copy(out[:], h.Sum(nil))
	return out
}

// DuplicateTracker detects repeated configurations under one parent.
type DuplicateTracker struct {
	first map[ConfigHash]string
}

func NewDuplicateTracker() *DuplicateTracker {
	return &DuplicateTracker{first: make(map[ConfigHash]string)}
}

// Check records row as having produced hash. When an earlier row already
// did, it returns a DuplicateConfigurationError naming that row.
func (t *DuplicateTracker) Check(hash ConfigHash, row string) error {
	if first, ok := t.first[hash]; ok {
		return &DuplicateConfigurationError{Row: row, FirstRow: first}
	}
	t.first[hash] = row
	return nil
}

// AttributeOptions builds the per-product registry of offered values from
// the resolved variants, ordered by first appearance.
func AttributeOptions(variants []ResolvedVariant) []models.AttributeOption {
	var (
		options []models.AttributeOption
		index   = make(map[primitive.ObjectID]int)
		values  = make(map[primitive.ObjectID]map[string]struct{})
	)
	for _, v := range variants {
		for _, a := range v.Attributes {
			i, ok := index[a.AttributeID]
			if !ok {
				i = len(options)
				index[a.AttributeID] = i
				values[a.AttributeID] = make(map[string]struct{})
				options = append(options, models.AttributeOption{AttributeID: a.AttributeID, Code: a.Code})
			}
			if _, dup := values[a.AttributeID][a.Value]; dup {
				continue
			}
			values[a.AttributeID][a.Value] = struct{}{}
			options[i].Values = append(options[i].Values, a.Label)
		}
	}
	return options
}

type duplicateAttributeError struct {
	Key, Other, Code string
}

func (e *duplicateAttributeError) Error() string {
	return fmt.Sprintf("attributes %q and %q both resolve to %q", e.Other, e.Key, e.Code)
}

type emptyAttributeValueError struct {
	Key string
}

func (e *emptyAttributeValueError) Error() string {
	return fmt.Sprintf("attribute %q has an empty value", e.Key)
}
