package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Classification is the coarse liveness of a managed process.
type Classification string

const (
	Up   Classification = "up"
	Down Classification = "down"
)

// maxPayloadBytes bounds how much of a status body is read.
const maxPayloadBytes = 4 << 20

// URL renders a health URL template such as "http://localhost:%d/debug/vars".
func URL(template string, port int) string {
	return fmt.Sprintf(template, port)
}

// Status is the result of a single health query. It is never cached.
type Status struct {
	Classification Classification `json:"status"`
	Code           int            `json:"code,omitempty"`
	Payload        *Payload       `json:"payload,omitempty"`
	// DecodeErr is set when a 200 body could not be parsed.
	DecodeErr error         `json:"-"`
	Elapsed   time.Duration `json:"-"`
}

// IsUp reports whether the status is classified up.
func (s Status) IsUp() bool { return s.Classification == Up }

// Poller queries local status endpoints.
type Poller struct {
	client *http.Client
	logger *slog.Logger
}

// NewPoller returns a Poller whose requests time out after timeout.
func NewPoller(timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: &http.Client{Timeout: timeout}, logger: logger}
}

// WithHTTPClient sets a custom HTTP client.
func (p *Poller) WithHTTPClient(c *http.Client) *Poller {
	p.client = c
	return p
}

// Query performs one GET against url. A failed connection means the process
// is not listening and is reported as Down, never as an error. Any HTTP
// response, whatever its code, is Up; the payload is decoded only for 200.
func (p *Poller) Query(ctx context.Context, url string) Status {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Warn("invalid health url", "url", url, "error", err)
		return Status{Classification: Down}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("health endpoint unreachable", "url", url, "error", err)
		return Status{Classification: Down, Elapsed: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()

	st := Status{Classification: Up, Code: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
		if err == nil {
			st.Payload, err = decodePayload(body)
		}
		if err != nil {
			st.DecodeErr = err
			p.logger.Warn("undecodable health payload", "url", url, "error", err)
		}
	}
	st.Elapsed = time.Since(start)
	return st
}

// WaitFor polls url until its classification equals want or the policy is
// exhausted. The last observed status is returned either way.
func (p *Poller) WaitFor(ctx context.Context, url string, want Classification, policy Policy) Status {
	var last Status
	Until(ctx, policy, func() bool {
		last = p.Query(ctx, url)
		return last.Classification == want
	})
	return last
}
