// Package imagesearch looks up a single image URL for a text query using an
// Unsplash-compatible search API.
package imagesearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// requestTimeout caps a search call; the service is expected to answer fast.
const requestTimeout = 15 * time.Second

// ErrNotFound means the service answered but had no result for the query.
var ErrNotFound = errors.New("No image found")

// StatusError is a non-2xx answer from the search service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("image search returned status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client queries the search service.
type Client struct {
	baseURL    string
	accessKey  string
	httpClient *http.Client
	Verbose    bool
}

// New creates a client for baseURL authenticated with accessKey.
func New(baseURL, accessKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessKey:  strings.TrimSpace(accessKey),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Search returns the URL of the best match for query.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	u, err := url.Parse(c.baseURL + "/search/photos")
	if err != nil {
		return "", fmt.Errorf("image search url: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	q.Set("per_page", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", "v1")
	if c.accessKey != "" {
		req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read image search response: %w", err)
	}
	if c.Verbose {
		slog.Info("imagesearch.response", "status", resp.StatusCode, "bytes", len(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("image search returned invalid JSON")
	}

	link := gjson.GetBytes(body, "results.0.urls.regular").String()
	if link == "" {
		return "", ErrNotFound
	}
	return link, nil
}
