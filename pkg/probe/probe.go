// Package probe runs the timed throughput test that gates admission into the
// online registry.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"distmaster/pkg/auth"
)

// DefaultPayloadMB is the size of each measure request, matching what node
// clients expose on /measure/<size>.
const DefaultPayloadMB = 10

// Runner measures the throughput a candidate node can sustain.
type Runner interface {
	Measure(ctx context.Context, host string, port int, secret string, duration time.Duration) (float64, error)
}

// HTTPProber fetches fixed-size payloads from the node's measure endpoint in
// a loop for the configured duration and reports the achieved rate in Mbps.
// A transport or status error at any point is a hard failure.
type HTTPProber struct {
	Client    *http.Client
	PayloadMB int
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		Client:    &http.Client{Timeout: 0}, // bounded per-request via ctx
		PayloadMB: DefaultPayloadMB,
	}
}

func (p *HTTPProber) Measure(ctx context.Context, host string, port int, secret string, duration time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	path := fmt.Sprintf("/measure/%d", p.PayloadMB)
	url := fmt.Sprintf("http://%s:%d%s?s=%s", host, port, path, auth.SignHex(path, secret))

	start := time.Now()
	var total int64
	for {
		n, err := p.fetchOnce(ctx, url)
		total += n
		elapsed := time.Since(start)
		if err != nil {
			// Running out the clock mid-transfer ends the measurement
			// normally; anything else is a hard probe failure.
			if ctx.Err() == context.DeadlineExceeded {
				break
			}
			return 0, fmt.Errorf("measure %s:%d: %w", host, port, err)
		}
		if elapsed >= duration {
			break
		}
	}
	seconds := time.Since(start).Seconds()
	if seconds <= 0 {
		return 0, nil
	}
	return float64(total) * 8 / 1e6 / seconds, nil
}

func (p *HTTPProber) fetchOnce(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	return n, err
}
