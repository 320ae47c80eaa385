package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/yashrajoria/catalog-service/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultIdentifierAttempts = 50
	maxSlugLength             = 80
)

// IdentifierLookup is the persisted side of the uniqueness check.
type IdentifierLookup interface {
	FindByIdentifiers(ctx context.Context, skus, urlKeys []string) ([]models.IdentifierMatch, error)
}

// IdentifierContext describes the entity an identifier is minted for.
type IdentifierContext struct {
	Title        string
	CategoryCode string
	// ParentSKU is set when minting a variant SKU.
	ParentSKU  string
	Attributes []ResolvedAttribute
	// ExcludeID is the product being updated; its own identifiers never
	// count as collisions.
	ExcludeID primitive.ObjectID
}

// IdentifierGenerator hands out SKUs and URL keys that are unique across the
// batch and the persisted catalog. One generator serves one batch.
type IdentifierGenerator struct {
	lookup      IdentifierLookup
	maxAttempts int
	working     map[string]map[string]struct{}
	// reserved holds identifiers supplied later in the batch; derived values
	// steer clear of them.
	reserved map[string]map[string]struct{}
}

func NewIdentifierGenerator(lookup IdentifierLookup, maxAttempts int) *IdentifierGenerator {
	if maxAttempts <= 0 {
		maxAttempts = defaultIdentifierAttempts
	}
	return &IdentifierGenerator{
		lookup:      lookup,
		maxAttempts: maxAttempts,
		working: map[string]map[string]struct{}{
			models.IdentifierKindSKU:    {},
			models.IdentifierKindURLKey: {},
		},
		reserved: map[string]map[string]struct{}{
			models.IdentifierKindSKU:    {},
			models.IdentifierKindURLKey: {},
		},
	}
}

// Reserve marks a supplied identifier that will be claimed later in the
// batch, so no derived identifier takes it first.
func (g *IdentifierGenerator) Reserve(kind, value string) {
	if value = strings.TrimSpace(value); value != "" {
		g.reserved[kind][value] = struct{}{}
	}
}

// EnsureUniqueSKU claims candidate, or a SKU derived from ic when candidate
// is blank. A supplied candidate is never rewritten: if it is taken the call
// fails. Derived values get a numeric suffix until one is free.
func (g *IdentifierGenerator) EnsureUniqueSKU(ctx context.Context, candidate string, ic IdentifierContext) (string, error) {
	if c := strings.TrimSpace(candidate); c != "" {
		return g.claim(ctx, models.IdentifierKindSKU, c, ic.ExcludeID, true)
	}
	return g.claim(ctx, models.IdentifierKindSKU, DeriveSKU(ic), ic.ExcludeID, false)
}

func (g *IdentifierGenerator) EnsureUniqueURLKey(ctx context.Context, candidate string, ic IdentifierContext) (string, error) {
	if c := strings.TrimSpace(candidate); c != "" {
		return g.claim(ctx, models.IdentifierKindURLKey, c, ic.ExcludeID, true)
	}
	return g.claim(ctx, models.IdentifierKindURLKey, DeriveURLKey(ic), ic.ExcludeID, false)
}

func (g *IdentifierGenerator) claim(ctx context.Context, kind, base string, exclude primitive.ObjectID, supplied bool) (string, error) {
	attempts := g.maxAttempts
	if supplied {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		if _, ok := g.reserved[kind][candidate]; ok && !supplied {
			continue
		}
		taken, err := g.taken(ctx, kind, candidate, exclude)
		if err != nil {
			return "", err
		}
		if !taken {
			g.working[kind][candidate] = struct{}{}
			return candidate, nil
		}
	}
	return "", &IdentifierCollisionError{Kind: kind, Value: base, Attempts: attempts}
}

func (g *IdentifierGenerator) taken(ctx context.Context, kind, value string, exclude primitive.ObjectID) (bool, error) {
	if _, ok := g.working[kind][value]; ok {
		return true, nil
	}
	var skus, urlKeys []string
	if kind == models.IdentifierKindSKU {
		skus = []string{value}
	} else {
		urlKeys = []string{value}
	}
	matches, err := g.lookup.FindByIdentifiers(ctx, skus, urlKeys)
	if err != nil {
		return false, fmt.Errorf("check %s %q: %w", kind, value, err)
	}
	for _, m := range matches {
		if m.Kind == kind && m.Value == value && m.ProductID != exclude {
			return true, nil
		}
	}
	return false, nil
}

// DeriveSKU builds the base SKU: the parent SKU plus attribute values for a
// variant, otherwise the title plus the category code.
func DeriveSKU(ic IdentifierContext) string {
	if ic.ParentSKU != "" {
		parts := []string{ic.ParentSKU}
		for _, a := range ic.Attributes {
			if s := Slugify(a.Value); s != "" {
				parts = append(parts, strings.ToUpper(s))
			}
		}
		return strings.Join(parts, "-")
	}
	parts := []string{}
	if s := Slugify(ic.Title); s != "" {
		parts = append(parts, s)
	}
	if s := Slugify(ic.CategoryCode); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "SKU"
	}
	return strings.ToUpper(strings.Join(parts, "-"))
}

func DeriveURLKey(ic IdentifierContext) string {
	if s := Slugify(ic.Title); s != "" {
		return s
	}
	return "product"
}

// Slugify lowercases s, strips diacritics and joins alphanumeric runs with
// single hyphens.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	out := b.String()
	if r := []rune(out); len(r) > maxSlugLength {
		out = strings.TrimRight(string(r[:maxSlugLength]), "-")
	}
	return out
}
