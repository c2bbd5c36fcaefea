package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// OpenSearchSink indexes events as documents of one OpenSearch index.
// Each event gets a fresh document id and is PUT under it, so a retried
// request overwrites instead of duplicating.
type OpenSearchSink struct {
	client   *http.Client
	baseURL  string
	index    string
	user     string
	password string
	attempts uint64
}

func NewOpenSearchSink(baseURL, index string) *OpenSearchSink {
	return &OpenSearchSink{
		client:   &http.Client{Timeout: 5 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		index:    index,
		attempts: 3,
	}
}

// openSearchFromURL maps opensearch://[user:pass@]host:port/index[?tls=true].
func openSearchFromURL(u *url.URL) *OpenSearchSink {
	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	index := strings.Trim(u.Path, "/")
	if index == "" {
		index = "emuctl-history"
	}
	s := NewOpenSearchSink(scheme+"://"+u.Host, index)
	if u.User != nil {
		s.user = u.User.Username()
		s.password, _ = u.User.Password()
	}
	return s
}

func (s *OpenSearchSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, url.PathEscape(s.index), uuid.NewString())

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), s.attempts-1), ctx)
	return backoff.Retry(func() error { return s.put(ctx, u, body) }, b)
}

func (s *OpenSearchSink) put(ctx context.Context, u string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("opensearch: HTTP %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("opensearch: HTTP %d", resp.StatusCode))
	}
}
