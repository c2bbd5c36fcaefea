package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client reads status from a running emuctl status server.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// Config holds client configuration. The TLS fields only matter for https
// base URLs.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger

	CAFile     string // PEM bundle trusted in addition to nothing else
	CertFile   string // client certificate, paired with KeyFile
	KeyFile    string
	ServerName string
	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool
}

// APIError is a non-200 answer from the status server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status server: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("status server: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the status server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9281/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a status client.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tc, err := clientTLS(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		logger: cfg.Logger,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{TLSClientConfig: tc},
		},
	}, nil
}

// IsReachable checks if the status server answers.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("status server unreachable", "url", c.base, "error", err)
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound
}

// Status returns the status of kind. port selects the health endpoint; 0
// means the kind's default.
func (c *Client) Status(ctx context.Context, kind string, port int) (Status, error) {
	q := url.Values{}
	if port > 0 {
		q.Set("port", strconv.Itoa(port))
	}
	var st Status
	err := c.get(ctx, "/status/"+url.PathEscape(kind), q, &st)
	return st, err
}

// StatusAll returns the status of every kind at its default port.
func (c *Client) StatusAll(ctx context.Context) ([]Status, error) {
	var sts []Status
	err := c.get(ctx, "/status", nil, &sts)
	return sts, err
}

// History returns up to limit recent lifecycle events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var evs []Event
	err := c.get(ctx, "/history", q, &evs)
	return evs, err
}

// clientTLS returns nil when the defaults of net/http are enough.
func clientTLS(cfg Config) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- explicit opt-in
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile) // #nosec G304 -- operator supplied path
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("client certificate and key must be given together")
	}
	if cfg.CertFile != "" {
		pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{pair}
	}
	return tc, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		ae := &APIError{StatusCode: resp.StatusCode}
		var body ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			ae.Message = body.Error
		}
		c.logger.Debug("status server error", "url", u, "status", resp.StatusCode, "error", ae.Message)
		return ae
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
