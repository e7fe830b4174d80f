package metadata

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
)

type fetchResult struct {
	data []byte
	err  error
}

// race requests every url in parallel and returns the first successful body.
// The remaining requests are cancelled once a winner is found.
func (r *resolver) race(ctx context.Context, urls []string) ([]byte, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no gateways configured")
	}
	if len(urls) == 1 {
		return r.get(ctx, urls[0])
	}

	raceCtx, cancel := context.WithCancel(ctx)
	pool := pond.NewPool(len(urls), pond.WithContext(raceCtx))
	defer func() {
		cancel()
		pool.StopAndWait()
	}()

	results := make(chan fetchResult, len(urls))
	for _, url := range urls {
		pool.Submit(func() {
			data, err := r.get(raceCtx, url)
			results <- fetchResult{data: data, err: err}
		})
	}

	var lastErr error
	for range urls {
		select {
		case res := <-results:
			if res.err == nil {
				return res.data, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("all %d gateways failed: %w", len(urls), lastErr)
}
