package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

var errNoAPIKey = errors.New("thingspeak: api key is empty")

// ThingSpeak uploads one channel update per call: field1..fieldN in order.
type ThingSpeak struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewThingSpeak(client *http.Client, endpoint, apiKey string) *ThingSpeak {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &ThingSpeak{client: client, endpoint: endpoint, apiKey: apiKey}
}

// Upload sends the fields and returns the HTTP status. The body is drained so
// the connection can be reused on retry.
func (t *ThingSpeak) Upload(ctx context.Context, fields []string) (int, error) {
	if t.apiKey == "" {
		return 0, errNoAPIKey
	}
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return 0, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", t.apiKey)
	for i, v := range fields {
		q.Set("field"+strconv.Itoa(i+1), v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("update channel: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
