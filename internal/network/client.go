package network

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// NetworkConfig holds transport settings for upstream JSON-RPC endpoints
type NetworkConfig struct {
	MinIntervalMs int `json:"min_interval_ms"` // Minimum spacing between requests
	MaxRetries    int `json:"max_retries"`     // Retries on HTTP 429 / 503
	TimeoutSec    int `json:"timeout_sec"`
}

// NewHTTPClient creates an HTTP client that spaces requests and retries
// rate-limited responses. Archive providers throttle bursty fork loads.
func NewHTTPClient(config NetworkConfig) *http.Client {
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Transport: NewThrottledRoundTripper(http.DefaultTransport, ThrottleConfig{
			MinInterval: time.Duration(config.MinIntervalMs) * time.Millisecond,
			MaxRetries:  config.MaxRetries,
			BaseBackoff: 200 * time.Millisecond,
		}),
		Timeout: timeout,
	}
}

// Dial connects a JSON-RPC client over the throttled transport. Non-HTTP
// URLs (ws, ipc) are dialed without it.
func Dial(ctx context.Context, url string, config NetworkConfig) (*rpc.Client, error) {
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(NewHTTPClient(config)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return c, nil
}

// DialEth is Dial wrapped in an ethclient.
func DialEth(ctx context.Context, url string, config NetworkConfig) (*ethclient.Client, error) {
	c, err := Dial(ctx, url, config)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}
