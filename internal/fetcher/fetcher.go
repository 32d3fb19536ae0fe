// Package fetcher downloads remote documents and reads the tabular and XML
// formats used by the metals and sales loaders.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads a URL. Callers close the returned body.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
