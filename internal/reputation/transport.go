package reputation

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/veil-scan/warden/internal/errs"
)

// rawResponse is a drained, size-capped HTTP response.
type rawResponse struct {
	statusCode int
	body       []byte
}

// request performs one rate-limited, retrying HTTP call against the
// reputation provider, honoring 429 Retry-After and backing off on
// network errors and 5xx, per spec.md §4.5. It isolates retry state
// (attempts, backoff) in a plain loop rather than relying on exception
// control flow, per spec.md §9's redesign note.
func (c *Client) request(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*rawResponse, error) {
	c.limiter.Wait()

	backoff := time.Second
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
		if err != nil {
			return nil, errs.New(errs.InternalError, "reputation.request", err)
		}
		req.Header.Set("x-apikey", c.apiKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("reputation: network error, backing off", "attempt", attempt+1, "backoff", backoff, "error", err)
			if !sleepOrDone(ctx, backoff) {
				return nil, errs.New(errs.ExternalUnavailable, "reputation.request", ctx.Err())
			}
			backoff *= 2
			continue
		}

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := backoff
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			c.logger.Info("reputation: rate limited by server", "attempt", attempt+1, "wait", wait)
			if !sleepOrDone(ctx, wait) {
				return nil, errs.New(errs.RateLimited, "reputation.request", ctx.Err())
			}
			backoff *= 2
			continue

		case resp.StatusCode >= 500 && resp.StatusCode < 600:
			c.logger.Warn("reputation: server error, backing off", "status", resp.StatusCode, "attempt", attempt+1)
			if !sleepOrDone(ctx, backoff) {
				return nil, errs.New(errs.ExternalUnavailable, "reputation.request", ctx.Err())
			}
			backoff *= 2
			continue

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, errs.New(errs.AuthenticationFailure, "reputation.request", nil)

		default:
			return &rawResponse{statusCode: resp.StatusCode, body: data}, nil
		}
	}

	return nil, errs.New(errs.ExternalUnavailable, "reputation.request", lastErr)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
