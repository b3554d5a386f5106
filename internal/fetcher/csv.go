// Package fetcher downloads remote inputs over HTTP or FTP and streams tabular rows.
package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const utf8BOM = "\ufeff"

// ErrNoHeader is returned by ReadTable when the input has no non-blank row.
var ErrNoHeader = eris.New("csv: no header row")

// sniffable delimiters, in preference order on ties.
var delimiters = []rune{',', ';', '\t'}

// CSVOptions configures CSV reading.
type CSVOptions struct {
	Delimiter rune // 0 sniffs ',', ';' or tab from the first line
	Comment   rune // 0 disables comments
}

// Table is a header row followed by data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of the first header cell equal to one of names, ignoring case,
// or -1.
func (t Table) Column(names ...string) int {
	for _, name := range names {
		for i, h := range t.Header {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}

// StreamCSV sends each non-blank row, fields trimmed, on the row channel. A leading UTF-8
// byte order mark is dropped. Both channels close when reading ends; at most one error is
// sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader, err := newCSVReader(r, opts)
		if err != nil {
			errCh <- err
			return
		}

		for line := 1; ; line++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: read row %d", line)
				return
			}
			if blank(record) {
				continue
			}
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadTable reads a whole CSV whose first non-blank row is the header.
func ReadTable(ctx context.Context, r io.Reader, opts CSVOptions) (Table, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)

	var t Table
	for row := range rowCh {
		if t.Header == nil {
			t.Header = row
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if err := <-errCh; err != nil {
		return Table{}, err
	}
	if t.Header == nil {
		return Table{}, ErrNoHeader
	}
	return t, nil
}

func newCSVReader(r io.Reader, opts CSVOptions) (*csv.Reader, error) {
	br := bufio.NewReader(r)
	if peek, err := br.Peek(len(utf8BOM)); err == nil && string(peek) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	delim := opts.Delimiter
	if delim == 0 {
		first, err := br.Peek(br.Size())
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return nil, eris.Wrap(err, "csv: sniff delimiter")
		}
		delim = sniffDelimiter(string(first))
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.Comment = opts.Comment
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader, nil
}

// sniffDelimiter picks the delimiter occurring most often on the first line.
func sniffDelimiter(s string) rune {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	best, bestCount := delimiters[0], 0
	for _, d := range delimiters {
		if n := strings.Count(s, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
