package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/Conductor/internal/resilience"
)

// ErrCompanionUnavailable indicates the companion endpoint never became
// ready or rejected the delivery. It is recoverable: the caller falls back
// to the direct pipe.
var ErrCompanionUnavailable = errors.New("bridge: companion endpoint unavailable")

// CompanionClient delivers the initial message through the sidecar's HTTP
// ingestion endpoint. The sidecar races with us at startup because it waits
// for the pipe to exist before listening, so every delivery is preceded by
// a bounded readiness probe.
type CompanionClient struct {
	baseURL      string
	client       *http.Client
	probeLimit   int
	probeBackoff time.Duration
	breaker      *resilience.Breaker
}

// NewCompanionClient creates a client for the companion at baseURL.
func NewCompanionClient(baseURL string, probeLimit int, probeBackoff time.Duration) *CompanionClient {
	if probeLimit <= 0 {
		probeLimit = 10
	}
	if probeBackoff <= 0 {
		probeBackoff = 500 * time.Millisecond
	}
	return &CompanionClient{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 5 * time.Second},
		probeLimit:   probeLimit,
		probeBackoff: probeBackoff,
		breaker:      resilience.NewBreaker(3, 30*time.Second),
	}
}

// WaitReady polls the liveness endpoint with a capped retry count and a
// short fixed backoff. It returns ErrCompanionUnavailable once the cap is
// exhausted.
func (c *CompanionClient) WaitReady(ctx context.Context) error {
	for attempt := 0; attempt < c.probeLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrCompanionUnavailable, ctx.Err())
			case <-time.After(c.probeBackoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCompanionUnavailable, err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return fmt.Errorf("%w: readiness probe exhausted after %d attempts", ErrCompanionUnavailable, c.probeLimit)
}

// Deliver probes readiness and posts the payload to the ingestion endpoint.
func (c *CompanionClient) Deliver(ctx context.Context, payload []byte) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}

	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/input", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompanionUnavailable, err)
	}
	return nil
}
