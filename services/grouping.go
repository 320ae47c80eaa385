package services

import (
	"fmt"
	"strconv"

	"github.com/yashrajoria/catalog-service/models"
)

// variantEntry is one variant of a product group together with the row
// address it is reported under.
type variantEntry struct {
	Ref string
	Row models.VariantRow
	// Self marks the variant described by a parent row's own fields. It
	// shares the product SKU and images.
	Self bool
}

// productGroup is a parent or standalone row plus every variant that
// belongs to it, including pure-variant rows that reference it.
type productGroup struct {
	Ref      string
	Row      models.ImportRow
	Variants []variantEntry
}

// rowRef addresses a row by its source line when it came from a file and by
// its 1-based position otherwise.
func rowRef(row models.ImportRow, i int) string {
	if row.Line > 0 {
		return strconv.Itoa(row.Line)
	}
	return strconv.Itoa(i + 1)
}

func nestedRef(row models.ImportRow, i, j int) string {
	return rowRef(row, i) + "." + strconv.Itoa(j+1)
}

// groupRows folds pure-variant rows into the row they reference. Parent
// references resolve against the SKU or external id of parent rows.
func groupRows(rows []models.ImportRow) ([]*productGroup, []models.ValidationIssue, []models.ValidationIssue) {
	var (
		groups   []*productGroup
		errs     []models.ValidationIssue
		warnings []models.ValidationIssue
		byRef    = make(map[string]*productGroup)
	)
	for i, row := range rows {
		if row.IsPureVariant() {
			continue
		}
		g := &productGroup{Ref: rowRef(row, i), Row: row}
		if len(row.Variants) > 0 {
			for j, v := range row.Variants {
				g.Variants = append(g.Variants, variantEntry{Ref: nestedRef(row, i, j), Row: v})
			}
			if row.ParentRef != "" {
				warnings = append(warnings, models.ValidationIssue{
					Row: g.Ref, Field: "parent_ref", Code: CodeIgnoredField,
					Message: "parent_ref is ignored on a row with nested variants",
				})
			}
			if row.Price != "" || row.Stock != "" {
				warnings = append(warnings, models.ValidationIssue{
					Row: g.Ref, Field: "price", Code: CodeIgnoredField,
					Message: "row-level price and stock are ignored when variants are nested",
				})
			}
		} else {
			self := row.SelfVariant()
			self.Images = nil
			g.Variants = append(g.Variants, variantEntry{Ref: g.Ref, Row: self, Self: true})
		}
		groups = append(groups, g)
		for _, key := range []string{row.SKU, row.ExternalID} {
			if key == "" {
				continue
			}
			if _, taken := byRef[key]; !taken {
				byRef[key] = g
			}
		}
	}

	for i, row := range rows {
		if !row.IsPureVariant() {
			continue
		}
		parent, ok := byRef[row.ParentRef]
		if !ok {
			errs = append(errs, models.ValidationIssue{
				Row: rowRef(row, i), Field: "parent_ref", Code: CodeUnknownParent,
				Message: fmt.Sprintf("parent_ref '%s' does not match the SKU or external id of a parent row in this batch", row.ParentRef),
			})
			continue
		}
		v := row.SelfVariant()
		v.ID = row.ID
		parent.Variants = append(parent.Variants, variantEntry{Ref: rowRef(row, i), Row: v})
	}

	// a referenced parent row without a price only carries product fields
	for _, g := range groups {
		if len(g.Variants) > 1 && g.Variants[0].Self && g.Row.Price == "" {
			g.Variants = g.Variants[1:]
		}
	}
	return groups, errs, warnings
}
