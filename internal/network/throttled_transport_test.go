package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestThrottledRoundTripper_NoSpacing verifies that requests pass straight through when spacing is off
func TestThrottledRoundTripper_NoSpacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewThrottledRoundTripper(nil, ThrottleConfig{})}

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
	}

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Requests took too long without spacing: %v", elapsed)
	}
}

// TestThrottledRoundTripper_Spacing verifies that consecutive requests are spaced by MinInterval
func TestThrottledRoundTripper_Spacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	interval := 40 * time.Millisecond
	client := &http.Client{Transport: NewThrottledRoundTripper(nil, ThrottleConfig{MinInterval: interval})}

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
	}

	// First request goes immediately, the next two wait one interval each
	if elapsed := time.Since(start); elapsed < 2*interval {
		t.Errorf("Requests completed too quickly: %v (expected >= %v)", elapsed, 2*interval)
	}
}

// TestThrottledRoundTripper_RetriesRateLimit verifies that 429 responses are retried with the body replayed
func TestThrottledRoundTripper_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"method":"eth_getCode"}` {
			t.Errorf("Unexpected body on attempt %d: %q", calls.Load()+1, body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewThrottledRoundTripper(nil, ThrottleConfig{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
	})}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"method":"eth_getCode"}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after retries, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

// TestThrottledRoundTripper_GivesUp verifies that the last rate-limited response is returned once retries run out
func TestThrottledRoundTripper_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewThrottledRoundTripper(nil, ThrottleConfig{
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	})}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

// TestThrottledRoundTripper_ContextCancel verifies that a cancelled context stops a spaced request
func TestThrottledRoundTripper_ContextCancel(t *testing.T) {
	rt := NewThrottledRoundTripper(nil, ThrottleConfig{MinInterval: time.Hour})
	rt.next = time.Now().Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Error("Expected context error")
	}
}

// TestNewHTTPClient_DefaultTimeout verifies the timeout fallback
func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	client := NewHTTPClient(NetworkConfig{})
	if client.Timeout != 30*time.Second {
		t.Errorf("Expected 30s default timeout, got %v", client.Timeout)
	}
	if _, ok := client.Transport.(*ThrottledRoundTripper); !ok {
		t.Errorf("Expected ThrottledRoundTripper transport, got %T", client.Transport)
	}
}
