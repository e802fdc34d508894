package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const restTimeout = 30 * time.Second

// restClient is the shared REST side of an adapter: per-request timeout,
// token-bucket rate limiting, and a circuit breaker in front of the venue.
type restClient struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func newRESTClient(name, baseURL string, rps float64) *restClient {
	if rps <= 0 {
		rps = 5
	}
	return &restClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: restTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name + "-rest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				log.Warn().Str("component", "exchange").Str("exchange", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("rest circuit state change")
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// getJSON issues one GET through the limiter and breaker and returns the body.
// HTTP failures come back as *APIError with the kind classified.
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Kind: KindTransient, Op: c.name + " rate wait", Cause: err}
	}

	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return nil, &APIError{Kind: KindBadRequest, Op: c.name + " build request", Cause: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &APIError{Kind: KindTransient, Op: c.name + " get " + path, Cause: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, &APIError{Kind: KindTransient, Op: c.name + " read body", Cause: err}
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{
				Kind:   classifyStatus(resp.StatusCode),
				Status: resp.StatusCode,
				Op:     c.name + " get " + path,
				Cause:  fmt.Errorf("%s", strings.TrimSpace(string(data))),
			}
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					apiErr.RetryAfter = secs
				}
			}
			return nil, apiErr
		}
		return data, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &APIError{Kind: KindTransient, Op: c.name + " circuit", Cause: err}
		}
		return nil, err
	}
	return body.([]byte), nil
}

// getJSONWithRetry retries transient and rate-limited failures up to attempts
// times, honouring the server's Retry-After hint when present. Used by one-shot
// operations (warmup fetch, boundary reconciliation); the WebSocket side retries
// without bound instead.
func (c *restClient) getJSONWithRetry(ctx context.Context, path string, query url.Values, attempts int, backoff Backoff) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, err := c.getJSON(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		apiErr, ok := AsAPIError(err)
		if !ok || !apiErr.Retryable() || attempt == attempts-1 {
			return nil, err
		}

		delay := backoff.Next(attempt)
		if apiErr.Kind == KindRateLimited && apiErr.RetryAfter > 0 {
			delay = time.Duration(apiErr.RetryAfter) * time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
