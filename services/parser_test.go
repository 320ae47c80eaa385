package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/yashrajoria/catalog-service/models"
)

const sampleCSV = `Title *,SKU,Category,Collections,Badge,Images,Price,Stock,parent_sku,attr:Color,attr:Size
Infant Jumpsuit,JMP,clothing,summer | sale,sale,img-a|img-b,,,,,
,JMP-RED-S,,,,img-c,24.00,3,JMP,Red,S

,JMP-BLUE-S,,,,,24,5,JMP,Blue,S
`

func TestParseImportFile_CSV(t *testing.T) {
	rows, err := ParseImportFile(strings.NewReader(sampleCSV), FormatCSV)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	parent := rows[0]
	assert.Equal(t, "Infant Jumpsuit", parent.Title)
	assert.Equal(t, "JMP", parent.SKU)
	assert.Equal(t, []string{"summer", "sale"}, parent.Collections)
	assert.Equal(t, "sale", parent.Badge)
	assert.Equal(t, []string{"img-a", "img-b"}, parent.Images)
	assert.Empty(t, parent.Attributes)
	assert.False(t, parent.IsPureVariant())

	red := rows[1]
	assert.True(t, red.IsPureVariant())
	assert.Equal(t, "JMP", red.ParentRef)
	assert.Equal(t, models.FlexString("24.00"), red.Price)
	assert.Equal(t, models.Attributes{"Color": "Red", "Size": "S"}, red.Attributes)

	assert.Equal(t, "JMP-BLUE-S", rows[2].SKU)
	assert.Equal(t, []int{1, 2, 4}, []int{parent.Line, red.Line, rows[2].Line})
}

func TestParseImportFile_CSVWithByteOrderMark(t *testing.T) {
	file := "\ufeffid,title,sku,category,price,stock\n64b000000000000000000001,Tee,TEE-1,clothing,19.5,4\n"

	rows, err := ParseImportFile(strings.NewReader(file), FormatCSV)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "64b000000000000000000001", rows[0].ID)
	assert.False(t, rows[0].IsNew())
	assert.Equal(t, "Tee", rows[0].Title)
}

func TestParseImportFile_LineSurvivesQuotedNewlines(t *testing.T) {
	file := "title,description\nShirt,\"two\nlines\"\n\nHat,plain\n"

	rows, err := ParseImportFile(strings.NewReader(file), FormatCSV)

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "two\nlines", rows[0].Description)
	assert.Equal(t, 1, rows[0].Line)
	assert.Equal(t, 3, rows[1].Line)
}

func TestParseImportFile_XLSXPrefersProductsSheet(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Products")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"notes"}))
	require.NoError(t, f.SetSheetRow("Products", "A1", &[]interface{}{"title", "sku", "category", "price", "stock", "attr:color"}))
	require.NoError(t, f.SetSheetRow("Products", "A2", &[]interface{}{"Tee", "TEE-1", "clothing", 19.5, 4, "white"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := ParseImportFile(buf, FormatXLSX)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Tee", rows[0].Title)
	assert.Equal(t, models.FlexString("19.5"), rows[0].Price)
	assert.Equal(t, models.FlexString("4"), rows[0].Stock)
	assert.Equal(t, "white", rows[0].Attributes["color"])
}

func TestParseImportFile_Errors(t *testing.T) {
	_, err := ParseImportFile(strings.NewReader(""), FormatCSV)
	assert.ErrorIs(t, err, ErrEmptyImportFile)

	_, err = ParseImportFile(strings.NewReader("x"), FileFormat("json"))
	assert.Error(t, err)

	_, err = ParseImportFile(strings.NewReader("not a zip"), FormatXLSX)
	assert.Error(t, err)
}

func TestFormatFromFilename(t *testing.T) {
	f, err := FormatFromFilename("Catalog.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = FormatFromFilename("export.txt")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = FormatFromFilename("catalog.xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = FormatFromFilename("catalog.numbers")
	assert.Error(t, err)
}

func TestWriteTemplate(t *testing.T) {
	var csvBuf bytes.Buffer
	require.NoError(t, WriteTemplate(&csvBuf, FormatCSV, []string{"color", "size"}))
	header := strings.TrimSpace(csvBuf.String())
	assert.True(t, strings.HasPrefix(header, "id,external_id,parent_sku,title,"))
	assert.True(t, strings.HasSuffix(header, "attr:color,attr:size"))

	var xlsxBuf bytes.Buffer
	require.NoError(t, WriteTemplate(&xlsxBuf, FormatXLSX, []string{"color"}))
	rows, err := ParseImportFile(&xlsxBuf, FormatXLSX)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
