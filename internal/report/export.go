// Package report exports crawl results to common file formats.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kennygrant/sanitize"
	"github.com/xuri/excelize/v2"

	"github.com/hotel-crawler/hotelspider/internal/extractor"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

var columns = []string{"URL", "Title", "Summary", "Fetched At"}

// Export writes listings to path in the given format.
func Export(listings []extractor.Listing, format Format, path string) error {
	switch format {
	case FormatCSV:
		return exportCSV(listings, path)
	case FormatXLSX:
		return exportXLSX(listings, path)
	case FormatJSON:
		return exportJSON(listings, path)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// DefaultPath derives an export file name from a label (typically the seed
// host) and format.
func DefaultPath(label string, format Format) string {
	name := sanitize.BaseName(label)
	if name == "" {
		name = "listings"
	}
	return fmt.Sprintf("%s.%s", name, format)
}

func exportCSV(listings []extractor.Listing, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	// UTF-8 BOM for spreadsheet tools.
	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, l := range listings {
		row := []string{l.URL, l.Title, l.Summary, l.FetchedAt.Format(time.RFC3339)}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func exportXLSX(listings []extractor.Listing, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Listings"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, col)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for rowIdx, l := range listings {
		values := []any{l.URL, l.Title, l.Summary, l.FetchedAt.Format(time.RFC3339)}
		for colIdx, v := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func exportJSON(listings []extractor.Listing, path string) error {
	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal listings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
