package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/yashrajoria/catalog-service/models"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

const (
	listSeparator   = "|"
	attributePrefix = "attr:"
	templateSheet   = "Products"
)

// ErrEmptyImportFile is returned for files without a header row.
var ErrEmptyImportFile = errors.New("import file must include a header row")

// templateColumns is the column order of downloadable templates.
var templateColumns = []string{
	"id", "external_id", "parent_sku", "title", "sku", "url_key", "description",
	"category", "collections", "badge", "images", "price", "stock",
	"offer_price", "offer_start", "offer_end",
}

// FormatFromFilename picks the parser for an uploaded file name.
func FormatFromFilename(name string) (FileFormat, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".txt"):
		return FormatCSV, nil
	case strings.HasSuffix(lower, ".xlsx"):
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported import file %q: expected .csv, .txt or .xlsx", name)
}

// ParseImportFile turns a CSV or XLSX upload into import rows. Rows that are
// entirely blank are skipped but still count towards the Line of later rows.
func ParseImportFile(r io.Reader, format FileFormat) ([]models.ImportRow, error) {
	var records [][]string
	var err error
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatXLSX:
		records, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyImportFile
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = normalizeHeader(h)
	}

	rows := make([]models.ImportRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if blankRecord(record) {
			continue
		}
		row := rowFromRecord(header, record)
		row.Line = i + 1
		rows = append(rows, row)
	}
	return rows, nil
}

// readCSV keeps a nil record for every blank line the csv reader skips, so
// record positions match the rows a spreadsheet shows.
func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records [][]string
	lastLine := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		start, _ := reader.FieldPos(0)
		if len(records) > 0 {
			for line := lastLine + 1; line < start; line++ {
				records = append(records, nil)
			}
		}
		end, _ := reader.FieldPos(len(record) - 1)
		lastLine = end + strings.Count(record[len(record)-1], "\n")
		records = append(records, record)
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyImportFile
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, templateSheet) {
			sheet = name
			break
		}
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return records, nil
}

// normalizeHeader lowercases a header and drops the " *" marker templates
// put on required columns. Attribute keys keep their case.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(h), "*"))
	if len(h) >= len(attributePrefix) && strings.EqualFold(h[:len(attributePrefix)], attributePrefix) {
		return attributePrefix + strings.TrimSpace(h[len(attributePrefix):])
	}
	return strings.ToLower(h)
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func rowFromRecord(header, record []string) models.ImportRow {
	var row models.ImportRow
	for i, col := range header {
		if i >= len(record) {
			break
		}
		v := strings.TrimSpace(record[i])
		if v == "" {
			continue
		}
		switch col {
		case "id":
			row.ID = v
		case "external_id":
			row.ExternalID = v
		case "parent_sku", "parent_ref":
			row.ParentRef = v
		case "title":
			row.Title = v
		case "sku":
			row.SKU = v
		case "url_key":
			row.URLKey = v
		case "description":
			row.Description = v
		case "category":
			row.Category = v
		case "collections":
			row.Collections = splitList(v)
		case "badge":
			row.Badge = v
		case "images":
			row.Images = splitList(v)
		case "price":
			row.Price = models.FlexString(v)
		case "stock":
			row.Stock = models.FlexString(v)
		case "offer_price":
			row.OfferPrice = models.FlexString(v)
		case "offer_start":
			row.OfferStart = v
		case "offer_end":
			row.OfferEnd = v
		default:
			key, ok := strings.CutPrefix(col, attributePrefix)
			if !ok || key == "" {
				continue
			}
			if row.Attributes == nil {
				row.Attributes = models.Attributes{}
			}
			row.Attributes[key] = v
		}
	}
	return row
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, listSeparator) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteTemplate renders an empty import template. Attribute codes become
// "attr:<code>" columns after the fixed ones.
func WriteTemplate(w io.Writer, format FileFormat, attributeCodes []string) error {
	header := append([]string(nil), templateColumns...)
	for _, code := range attributeCodes {
		header = append(header, attributePrefix+code)
	}

	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	case FormatXLSX:
		return writeXLSXTemplate(w, header)
	}
	return fmt.Errorf("unsupported template format %q", format)
}

func writeXLSXTemplate(w io.Writer, header []string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	for i, col := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if col == "title" {
			col += " *"
		}
		if err := f.SetCellValue(templateSheet, cell, col); err != nil {
			return err
		}
		if err := f.SetCellStyle(templateSheet, cell, cell, style); err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return err
}
