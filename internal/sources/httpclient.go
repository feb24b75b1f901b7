package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// newHTTPClient builds the pooled client every live adapter shares,
// following the teacher's RSS source's connection-reuse settings.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// fetchJSON performs a cancellable GET and decodes the response body into
// out, returning the source error taxonomy on any failure mode (§4.1).
func fetchJSON(ctx context.Context, client *http.Client, url string, out any) *models.SourceError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &models.SourceError{Kind: models.ErrConnectError, Message: err.Error(), URL: url}
	}
	req.Header.Set("User-Agent", "hazardengine/1.0")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &models.SourceError{Kind: models.ErrTimeout, Message: err.Error(), URL: url}
		}
		return &models.SourceError{Kind: models.ErrConnectError, Message: err.Error(), URL: url}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &models.SourceError{Kind: models.ErrRateLimited, URL: url, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &models.SourceError{Kind: models.ErrAuthFailed, URL: url, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return &models.SourceError{Kind: models.HTTPStatusKind(resp.StatusCode), URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.SourceError{Kind: models.ErrConnectError, Message: err.Error(), URL: url}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &models.SourceError{Kind: models.ErrHTMLParseNoMetrics, Message: fmt.Sprintf("decode response: %v", err), URL: url}
	}
	return nil
}
