package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
)

// maxResponseBytes caps a metadata document
const maxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned when a body exceeds maxResponseBytes
var ErrResponseTooLarge = errors.New("response body too large")

// HTTPClient defines an interface for HTTP client operations to enable mocking
//
//go:generate mockgen -source=http.go -destination=../mocks/http.go -package=mocks -mock_names=HTTPClient=MockHTTPClient
type HTTPClient interface {
	// Get performs a GET request and unmarshals the JSON response into result
	Get(ctx context.Context, url string, result interface{}) error
}

// RealHTTPClient implements HTTPClient using the standard http package
type RealHTTPClient struct {
	client         *http.Client
	maxElapsedTime time.Duration
}

// NewHTTPClient creates a client whose requests time out after timeout and
// whose rate-limit retries give up after maxElapsedTime
func NewHTTPClient(timeout, maxElapsedTime time.Duration) HTTPClient {
	if maxElapsedTime == 0 {
		maxElapsedTime = time.Minute
	}
	return &RealHTTPClient{
		client:         &http.Client{Timeout: timeout},
		maxElapsedTime: maxElapsedTime,
	}
}

func (c *RealHTTPClient) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.maxElapsedTime
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	return b
}

// fetch reads the body of a GET request. 429 and transport errors are
// retried with exponential backoff; any other non-200 status is final.
func (c *RealHTTPClient) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.WarnCtx(ctx, "failed to close response body", zap.Error(err), zap.String("url", url))
			}
		}()

		if resp.StatusCode == http.StatusTooManyRequests {
			logger.WarnCtx(ctx, "rate limited, retrying with backoff", zap.String("url", url))
			return fmt.Errorf("rate limited (429)")
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("unexpected status code %d", resp.StatusCode))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
		}
		if len(body) > maxResponseBytes {
			return backoff.Permanent(ErrResponseTooLarge)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backOff(), ctx)); err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}

	return body, nil
}

// Get performs a GET request and decodes the JSON body into result
func (c *RealHTTPClient) Get(ctx context.Context, url string, result interface{}) error {
	body, err := c.fetch(ctx, url)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
