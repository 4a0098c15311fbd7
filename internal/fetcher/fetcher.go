package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads one remote feed location.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The
	// caller must close the returned reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into the given local path and
	// returns the number of bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
