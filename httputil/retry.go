package httputil

import (
	"context"
	"io"
	"net/http"
	"time"
)

// RetryPolicy decides how many attempts a request gets and which statuses are retried.
// Network errors are always retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(status int) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Retryable:   RetryableStatus,
	}
}

// RetryableStatus retries throttling and server errors.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = RetryableStatus
	}
	return p
}

// Response is the final outcome of Fetch.
type Response struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// Fetch runs build+Do until a non-retryable status comes back or attempts run out.
// Each attempt gets its own timeout. A non-nil error means the last attempt failed
// at the transport level or ctx was cancelled.
func Fetch(ctx context.Context, client *http.Client, policy RetryPolicy, timeout time.Duration,
	build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	policy = policy.normalized()

	var (
		resp    *Response
		lastErr error
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, lastErr = once(ctx, client, timeout, build)
		if lastErr == nil {
			resp.Attempts = attempt
			if !policy.Retryable(resp.StatusCode) {
				return resp, nil
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.Delay):
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return resp, nil
}

func once(ctx context.Context, client *http.Client, timeout time.Duration,
	build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Body: body}, nil
}
