// Package remote is the HTTP client for an upstream cutout service. A
// relay-backed data manager uses it as its miss-fill source: every cuboid
// the cache does not hold is fetched as a cutout of exactly one cuboid.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/voxgo/voxgo/grid"
)

// DefaultToken authenticates anonymous access on public channels.
const DefaultToken = "public"

// ErrNotFound is returned when the upstream has no data for the request.
var ErrNotFound = os.ErrNotExist

// StatusError reports an unexpected upstream HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s returned status %d", e.URL, e.StatusCode)
}

// Client talks to one upstream cutout endpoint. Safe for concurrent use.
type Client struct {
	base    string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the API token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithRateLimit caps outgoing requests at rps per second with the given
// burst. Zero rps disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for the cutout service at base, e.g.
// "https://api.bossdb.io". The default token is DefaultToken.
func NewClient(base string, optFns ...Option) *Client {
	c := &Client{
		base:  base,
		token: DefaultToken,
		httpc: &http.Client{Timeout: 60 * time.Second},
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// Cutout fetches the raw voxel bytes for an axis-aligned box. The
// response body is the block in C order (z, y, x), exactly
// r.Volume()*elemSize bytes for a well-behaved upstream; callers validate
// the length against their channel metadata.
//
// Transient failures (network errors, 5xx) are retried once.
func (c *Client) Cutout(ctx context.Context, channel string, resolution uint8, r grid.Range) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/cutout/%s/%d/%d:%d/%d:%d/%d:%d",
		c.base, channel, resolution,
		r.Start.X, r.Stop.X, r.Start.Y, r.Stop.Y, r.Start.Z, r.Stop.Z)

	body, err := c.get(ctx, url)
	if err != nil && retryable(err) && ctx.Err() == nil {
		body, err = c.get(ctx, url)
	}
	return body, err
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("remote: rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("remote: %s: %w", url, ErrNotFound)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read %s: %w", url, err)
	}
	return body, nil
}

// retryable reports whether a second attempt could plausibly succeed.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	// 404 is a definitive answer; everything else at this point is a
	// transport-level failure and worth one more try.
	return !errors.Is(err, ErrNotFound)
}
