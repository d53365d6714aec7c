// Package fetch performs the read-only JSON requests shared by every external feed:
// rate limited, bounded by the caller's context and retried with exponential backoff.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned for 404 responses so that callers can map it to "no data".
var ErrNotFound = errors.New("not found")

type Fetcher struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Retries    int
	// InitialInterval is the first backoff delay; zero uses the backoff default.
	InitialInterval time.Duration
}

func New(timeout time.Duration, retries int, requestsPerSecond float64) *Fetcher {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 5)
	}
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    limiter,
		Retries:    retries,
	}
}

// StatusError carries the status of a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

func (f *Fetcher) GetJSON(ctx context.Context, url string, out any) error {
	return f.Do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, out)
}

func (f *Fetcher) PostJSON(ctx context.Context, url string, body []byte, out any) error {
	return f.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// Do issues the request built by newReq and decodes a 200 body into out.
// 404 maps to ErrNotFound; other 4xx except 429 are not retried.
func (f *Fetcher) Do(ctx context.Context, newReq func() (*http.Request, error), out any) error {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	operation := func() error {
		if f.Limiter != nil {
			if err := f.Limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		req, err := newReq()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			_, _ = io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body)
			return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		case resp.StatusCode != http.StatusOK:
			_, _ = io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if f.InitialInterval > 0 {
		b.InitialInterval = f.InitialInterval
	}
	retries := f.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}
