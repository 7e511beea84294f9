package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/receipt-extractor/internal/batch"
)

const (
	// SheetName is the worksheet holding the receipts
	SheetName = "Receipts"

	// ErrorsSheetName is the worksheet listing failed files
	ErrorsSheetName = "Errors"

	// XLSXContentType is the MIME type of the workbook
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// WriteXLSX renders table on the Receipts sheet. When failures is not empty they
// are listed on a second Errors sheet as filename,error rows.
func WriteXLSX(w io.Writer, table *batch.Table, failures []batch.FileError) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := writeRows(f, SheetName, table.Records()); err != nil {
		return err
	}

	sheets := []string{SheetName}
	if len(failures) > 0 {
		if _, err := f.NewSheet(ErrorsSheetName); err != nil {
			return fmt.Errorf("creating errors sheet: %w", err)
		}
		records := [][]string{{"filename", "error"}}
		for _, fe := range failures {
			records = append(records, []string{fe.Filename, fe.Error})
		}
		if err := writeRows(f, ErrorsSheetName, records); err != nil {
			return err
		}
		sheets = append(sheets, ErrorsSheetName)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	for _, sheet := range sheets {
		if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
			return fmt.Errorf("styling %s header: %w", sheet, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// writeRows writes records to sheet starting at A1
func writeRows(f *excelize.File, sheet string, records [][]string) error {
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("locating row %d: %w", i+1, err)
		}
		values := make([]interface{}, len(record))
		for j, v := range record {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
