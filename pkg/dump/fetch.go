package dump

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxDumpSize = 256 << 20 // refuse dumps beyond 256 MiB

// Fetcher downloads raw dump bytes over HTTP with a bounded timeout.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. A zero timeout defaults to 60s.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the dump at url. A non-2xx response is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create dump request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dump %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch dump %s: unexpected status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDumpSize))
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", url, err)
	}
	return data, nil
}
