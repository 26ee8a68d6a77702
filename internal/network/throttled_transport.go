package network

import (
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// ThrottleConfig specifies request spacing and retry parameters
type ThrottleConfig struct {
	MinInterval time.Duration
	MaxRetries  int
	BaseBackoff time.Duration // doubled per attempt, with jitter
}

// ThrottledRoundTripper wraps http.RoundTripper with request spacing and
// retries on 429 Too Many Requests and 503 Service Unavailable.
type ThrottledRoundTripper struct {
	base   http.RoundTripper
	config ThrottleConfig

	mu   sync.Mutex
	next time.Time
	rng  *rand.Rand
}

// NewThrottledRoundTripper creates a new ThrottledRoundTripper.
// If base is nil, http.DefaultTransport is used.
func NewThrottledRoundTripper(base http.RoundTripper, config ThrottleConfig) *ThrottledRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ThrottledRoundTripper{
		base:   base,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RoundTrip implements http.RoundTripper
func (t *ThrottledRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := t.wait(req); err != nil {
			return nil, err
		}

		resp, err := t.base.RoundTrip(req)
		if err != nil || !retryable(resp.StatusCode) || attempt >= t.config.MaxRetries {
			return resp, err
		}
		// A body that cannot be replayed cannot be retried.
		if req.Body != nil && req.GetBody == nil {
			return resp, nil
		}
		resp.Body.Close()

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}

		select {
		case <-time.After(t.backoff(attempt)):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
}

// wait blocks until the next request slot is free
func (t *ThrottledRoundTripper) wait(req *http.Request) error {
	if t.config.MinInterval <= 0 {
		return nil
	}

	t.mu.Lock()
	now := time.Now()
	slot := t.next
	if slot.Before(now) {
		slot = now
	}
	t.next = slot.Add(t.config.MinInterval)
	t.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

// backoff returns the delay before retry number attempt+1
func (t *ThrottledRoundTripper) backoff(attempt int) time.Duration {
	d := t.config.BaseBackoff << attempt
	if d <= 0 {
		return 0
	}
	t.mu.Lock()
	jitter := time.Duration(t.rng.Int63n(int64(d)/2 + 1))
	t.mu.Unlock()
	return d + jitter
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
