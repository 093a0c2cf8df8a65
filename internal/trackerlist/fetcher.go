package trackerlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads filter lists over HTTP with retries.
type Fetcher struct {
	client  *http.Client
	retries int
}

// NewFetcher creates a Fetcher. Zero values fall back to a 30s timeout and
// three attempts.
func NewFetcher(timeout time.Duration, retries int) *Fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		retries: retries,
	}
}

// Fetch downloads url, backing off linearly between attempts.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for i := 0; i < f.retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}
		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", url, f.retries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "privacy-shield-trackergen/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
