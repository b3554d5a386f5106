package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// DefaultOutput is the export file name used when none is given.
const DefaultOutput = "sorted_addresses.csv"

// exportColumns defines the ordered export columns.
var exportColumns = []string{
	"address",
	"house_number",
	"street",
	"holder",
	"note",
	"outcome",
	"diagnostic",
}

func (r Row) values() []string {
	return []string{
		r.Address,
		r.HouseNumber,
		r.Street,
		r.Holder,
		r.Note,
		r.Outcome,
		r.Diagnostic,
	}
}

// Export writes rows to path as "csv" or "xlsx". An empty format is taken from the file
// extension.
func Export(rows []Row, path, format string) error {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "xlsx":
		return ExportXLSX(rows, path)
	case "csv", "":
		return ExportCSV(rows, path)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// ExportCSV writes rows as a CSV file with a header row.
func ExportCSV(rows []Row, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close() //nolint:errcheck

	if err := WriteCSV(f, rows); err != nil {
		return err
	}
	return eris.Wrap(f.Close(), "export: close file")
}

// WriteCSV writes rows as CSV to w.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range rows {
		if err := cw.Write(r.values()); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// ExportXLSX writes rows as a single-sheet workbook.
func ExportXLSX(rows []Row, outputPath string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Route")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow := func(values []string) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	addRow(exportColumns)
	for _, r := range rows {
		addRow(r.values())
	}

	if err := file.Save(outputPath); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}
