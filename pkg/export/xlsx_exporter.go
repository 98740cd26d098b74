package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Sheet is one named worksheet of a workbook export.
type Sheet struct {
	Name string
	Data Dataset
}

// XLSXExporter renders worksheets into an .xlsx workbook.
type XLSXExporter struct {
	columnWidth float64
}

// NewXLSXExporter builds an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{columnWidth: 20}
}

// Render writes every sheet in order; the first one is active.
func (e *XLSXExporter) Render(sheets []Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one sheet")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	headStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E6E6E6"}},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx header style: %w", err)
	}

	for i, sheet := range sheets {
		if len(sheet.Data.Headers) == 0 {
			return nil, fmt.Errorf("sheet %q requires at least one header", sheet.Name)
		}
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet.Name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return nil, fmt.Errorf("create sheet %q: %w", sheet.Name, err)
		}
		if err := e.writeSheet(f, sheet, headStyle); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *XLSXExporter) writeSheet(f *excelize.File, sheet Sheet, headStyle int) error {
	header := make([]interface{}, len(sheet.Data.Headers))
	for i, h := range sheet.Data.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet.Name, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet.Name, err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(sheet.Data.Headers))
	if err != nil {
		return fmt.Errorf("column name: %w", err)
	}
	if err := f.SetCellStyle(sheet.Name, "A1", lastCol+"1", headStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet.Name, err)
	}
	if err := f.SetColWidth(sheet.Name, "A", lastCol, e.columnWidth); err != nil {
		return fmt.Errorf("size %s columns: %w", sheet.Name, err)
	}

	for r, record := range sheet.Data.Records() {
		row := make([]interface{}, len(record))
		for i, v := range record {
			row[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet.Name, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet.Name, r+1, err)
		}
	}
	return nil
}
