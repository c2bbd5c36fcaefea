package artifact

import (
	"context"
	"crypto/md5" // #nosec G501 -- fingerprint compatible with md5sum, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrDownload is returned when a remote artifact cannot be fetched or written.
var ErrDownload = errors.New("download failed")

// ErrInvalidTarget is returned for destination names that would escape the work dir.
var ErrInvalidTarget = errors.New("invalid download target")

// Result describes a staged file.
type Result struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"md5"`
}

// Stager downloads artifacts into a single working directory.
type Stager struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// New returns a Stager rooted at dir. A zero timeout disables the client timeout.
func New(dir string, timeout time.Duration, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{
		dir:    dir,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (s *Stager) WithHTTPClient(c *http.Client) *Stager {
	s.client = c
	return s
}

// Dir returns the working directory.
func (s *Stager) Dir() string { return s.dir }

// Path resolves a plain file name inside the working directory.
func (s *Stager) Path(target string) (string, error) {
	name := strings.TrimSpace(target)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return filepath.Join(s.dir, name), nil
}

// Stage streams sourceURL into destPath. destPath is created or truncated; on
// failure a partial file may remain and must be treated as invalid.
func (s *Stager) Stage(ctx context.Context, sourceURL, destPath string) (Result, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: create %s: %w", ErrDownload, s.dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrDownload, sourceURL, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrDownload, sourceURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: %s: unexpected status %s", ErrDownload, sourceURL, resp.Status)
	}

	// #nosec G304 -- destPath is resolved by Path or supplied by the controller
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("%w: open %s: %w", ErrDownload, destPath, err)
	}
	h := md5.New() // #nosec G401
	n, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: write %s after %d bytes: %w", ErrDownload, destPath, n, err)
	}

	res := Result{Path: destPath, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}
	s.logger.Info("artifact staged", "url", sourceURL, "path", destPath, "size", n, "md5", res.Checksum)
	return res, nil
}

// Checksum returns the hex MD5 of the file at path.
func Checksum(path string) (string, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := md5.New() // #nosec G401
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
