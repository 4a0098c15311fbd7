// Package fetcher acquires provider feed files over HTTP and FTP and
// unpacks the zip and delimited-text payloads they arrive in.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV reader.
type CSVOptions struct {
	Delimiter rune            // default ','
	HasHeader bool            // first row goes to HeaderCh instead of the row channel
	HeaderCh  chan<- []string // optional, receives the header row
	TrimSpace bool            // trim whitespace around every field
}

// StreamCSV reads delimited rows into a channel so large provider
// exports never sit in memory whole. Rows may vary in width and
// quoting is lazy; provider exports are sloppy about both. Both
// returned channels close when the input is exhausted or fails.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		header := opts.HasHeader
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "fetch: read csv row")
				return
			}
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			dest := chan<- []string(rowCh)
			if header {
				header = false
				if opts.HeaderCh == nil {
					continue
				}
				dest = opts.HeaderCh
			}
			select {
			case dest <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "fetch: csv stream cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
