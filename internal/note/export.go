package note

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// exportHeaders are the column titles shared by every export format
var exportHeaders = []string{"Supplier", "Reference", "Date", "Product Code", "Quantity"}

// exportRow returns the exported columns of n; the ID is never exported
func exportRow(n Note) []string {
	return []string{n.Supplier, n.Reference, n.Date, n.ProductCode, n.Quantity}
}

// ExportCSV writes the collection as RFC 4180 CSV, newest first
func (s *Store) ExportCSV(w io.Writer) error {
	notes := s.List()

	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(exportHeaders); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, n := range notes {
		if err := cw.Write(exportRow(n)); err != nil {
			return fmt.Errorf("writing csv row %s: %w", n.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	s.logger.Info("Exported notes", "format", "csv", "rows", len(notes))
	return nil
}

// ExportXLSX returns an XLSX workbook (as bytes) with the same columns as ExportCSV
func (s *Store) ExportXLSX() ([]byte, error) {
	notes := s.List()

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Delivery Notes"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellStr(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	for r, n := range notes {
		// quantities and dates stay text, exactly as recognized
		for c, v := range exportRow(n) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellStr(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("writing row %d: %w", r+1, err)
			}
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 32) // supplier
	_ = f.SetColWidth(sheet, "B", "B", 18) // reference
	_ = f.SetColWidth(sheet, "C", "C", 12) // date
	_ = f.SetColWidth(sheet, "D", "D", 18) // product code
	_ = f.SetColWidth(sheet, "E", "E", 10) // quantity

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("Exported notes", "format", "xlsx", "rows", len(notes))
	return buf.Bytes(), nil
}
