package roster

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestParseCSV(t *testing.T) {
	input := "Address,Name,Notes\n12 Elm St,Ann Lee,ring twice\n,Skipped,\n14 Elm St,,\n"
	r, err := ParseCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, r, 2)

	assert.Equal(t, Entry{Address: "12 Elm St", Holder: "Ann Lee", Note: "ring twice"}, r[0])
	assert.Equal(t, Entry{Address: "14 Elm St"}, r[1])
}

func TestParseCSV_AddressOnly(t *testing.T) {
	r, err := ParseCSV(context.Background(), strings.NewReader("address\n1 Main St\n"))
	require.NoError(t, err)
	assert.Equal(t, Roster{{Address: "1 Main St"}}, r)
}

func TestParseCSV_MissingAddressColumn(t *testing.T) {
	_, err := ParseCSV(context.Background(), strings.NewReader("street,name\n1 Main St,Ann\n"))
	assert.ErrorIs(t, err, ErrNoAddressColumn)
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := ParseCSV(context.Background(), strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoAddressColumn)
}

func TestLoad_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Members")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		{"address", "holder", "note"},
		{"12 Elm St", "Ann Lee", "ring twice"},
		{"16 Elm St", "Bo Diaz", ""},
	} {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, f.Save(path))

	r, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, r, 2)
	assert.Equal(t, "Ann Lee", r[0].Holder)
	assert.Equal(t, "16 Elm St", r[1].Address)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
