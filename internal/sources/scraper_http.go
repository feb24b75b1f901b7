package sources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// errBreakerTrip signals a 403/429 response to gobreaker.Execute so it
// counts as a consecutive failure and opens the breaker (§4.1 item 4).
var errBreakerTrip = errors.New("scraper: domain returned 403/429")

// httpGetter is the minimal HTTP surface ScraperGuard needs; a thin wrapper
// so tests can substitute a fake transport.
type httpGetter struct {
	client *http.Client
}

func newHTTPGetter() *httpGetter {
	return &httpGetter{client: newHTTPClient(15 * time.Second)}
}

func (g *httpGetter) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", "hazardengine/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
