// Package roster loads the member address roster and matches tag-derived addresses
// against it, exactly first and then by fuzzy score.
package roster

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/sidewalksort/internal/fetcher"
)

// Entry is one roster row.
type Entry struct {
	Address string `json:"address"`
	Holder  string `json:"holder,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Roster is the ordered, read-only member list for a run.
type Roster []Entry

// ErrNoAddressColumn is returned when the roster header lacks an "address" column.
var ErrNoAddressColumn = eris.New("roster: CSV must have a column named 'address'")

var (
	holderColumns = []string{"name", "holder", "holder_name", "member"}
	noteColumns   = []string{"note", "notes", "comment"}
)

// Load reads a roster from a .csv or .xlsx file, picking the reader by extension.
func Load(ctx context.Context, path string) (Roster, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "roster: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ParseCSV(ctx, f)
	}
}

// ParseCSV reads a roster from CSV. The header must contain "address"; "name" and "note"
// columns are optional. Comma, semicolon and tab delimiters are detected.
func ParseCSV(ctx context.Context, r io.Reader) (Roster, error) {
	table, err := fetcher.ReadTable(ctx, r, fetcher.CSVOptions{})
	if eris.Is(err, fetcher.ErrNoHeader) {
		return nil, ErrNoAddressColumn
	}
	if err != nil {
		return nil, eris.Wrap(err, "roster: read csv")
	}
	return fromTable(table)
}

// LoadXLSX reads a roster from the first sheet of an XLSX workbook.
func LoadXLSX(path string) (Roster, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("roster: %s has no sheets", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil, ErrNoAddressColumn
	}
	return fromTable(fetcher.Table{Header: rows[0], Rows: rows[1:]})
}

func fromTable(t fetcher.Table) (Roster, error) {
	addrIdx := t.Column("address")
	if addrIdx < 0 {
		return nil, ErrNoAddressColumn
	}
	holderIdx := t.Column(holderColumns...)
	noteIdx := t.Column(noteColumns...)

	out := make(Roster, 0, len(t.Rows))
	for _, row := range t.Rows {
		addr := cell(row, addrIdx)
		if addr == "" {
			continue
		}
		out = append(out, Entry{
			Address: addr,
			Holder:  cell(row, holderIdx),
			Note:    cell(row, noteIdx),
		})
	}
	return out, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
