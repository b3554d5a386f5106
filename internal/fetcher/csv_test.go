package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_TrimsAndSkipsBlankRows(t *testing.T) {
	input := "address,holder\n 12 Elm St , Ann \n,\n\n14 Elm St,Bo\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"address", "holder"},
		{"12 Elm St", "Ann"},
		{"14 Elm St", "Bo"},
	}, rows)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	input := "address,holder,note\n12 Elm St\n14 Elm St,Bo,gate code 12\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[1], 1)
	assert.Len(t, rows[2], 3)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadTable_BOMAndSemicolons(t *testing.T) {
	input := "\ufeffAddress;Holder\n12 Elm St;Ann\n"
	table, err := ReadTable(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Address", "Holder"}, table.Header)
	assert.Equal(t, [][]string{{"12 Elm St", "Ann"}}, table.Rows)
	assert.Equal(t, 0, table.Column("address"))
	assert.Equal(t, 1, table.Column("name", "holder"))
	assert.Equal(t, -1, table.Column("note"))
}

func TestReadTable_ExplicitDelimiterAndComments(t *testing.T) {
	input := "# exported roster\naddress|note\n12 Elm St|dog\n"
	table, err := ReadTable(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: '|', Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, []string{"address", "note"}, table.Header)
	assert.Equal(t, [][]string{{"12 Elm St", "dog"}}, table.Rows)
}

func TestReadTable_Empty(t *testing.T) {
	_, err := ReadTable(context.Background(), strings.NewReader("\n\n"), CSVOptions{})
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		line string
		want rune
	}{
		{"address,holder,note\n1;2;3;4", ','},
		{"address;holder;note", ';'},
		{"address\tholder", '\t'},
		{"address", ','},
		{"a,b;c", ','},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, sniffDelimiter(tt.line))
		})
	}
}
