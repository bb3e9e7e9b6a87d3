// Package fetch is the HTTP side of a wake cycle: chunked GETs for the weather
// feeds and the telemetry upload.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"irrigation_controller/internal/stream"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPFetcher issues GETs and hands back the body as fixed-size chunks.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client. A nil client gets a 30s timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPFetcher{client: client}
}

// Get returns the status, a chunk reader over the body and the body itself as
// the closer. Any status is returned as is; judging it is up to the caller.
func (f *HTTPFetcher) Get(ctx context.Context, url string, headers map[string]string, chunkSize int) (int, *stream.ChunkReader, io.Closer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("get %s: %w", req.URL.Host, err)
	}
	return resp.StatusCode, stream.NewChunkReader(resp.Body, chunkSize), resp.Body, nil
}
