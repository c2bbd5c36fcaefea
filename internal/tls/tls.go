// Package tls builds the server-side TLS configuration of the status server.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/emuctl/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// parseTLSVersion parses a TLS version string.
func parseTLSVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// keyPair serves a certificate from disk and reloads it when either file
// changes, so rotated certificates are picked up without a restart.
type keyPair struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func (k *keyPair) latestModTime() (time.Time, error) {
	var latest time.Time
	for _, p := range []string{k.certPath, k.keyPath} {
		fi, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest, nil
}

func (k *keyPair) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	mt, err := k.latestModTime()
	if err != nil {
		if k.cert != nil {
			return k.cert, nil
		}
		return nil, err
	}
	if k.cert != nil && !mt.After(k.modTime) {
		return k.cert, nil
	}
	cert, err := tls.LoadX509KeyPair(k.certPath, k.keyPath)
	if err != nil {
		if k.cert != nil {
			return k.cert, nil
		}
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	k.cert, k.modTime = &cert, mt
	return k.cert, nil
}

// SetupTLS returns the server TLS configuration, or nil when TLS is disabled.
func SetupTLS(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, ok := parseTLSVersion(c.MinVersion)
	if !ok && c.MinVersion != "" && c.MinVersion != "default" {
		return nil, fmt.Errorf("unsupported tls min_version %q", c.MinVersion)
	}

	if c.CertFile != "" && c.KeyFile != "" {
		return createTLSConfig(c.CertFile, c.KeyFile, minVer)
	}
	if c.Dir != "" {
		keyPath := filepath.Join(c.Dir, tlsKey)
		certPath := filepath.Join(c.Dir, tlsCrt)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(c.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		if !certificatesExist(certPath, keyPath) {
			return nil, fmt.Errorf("no %s/%s in %s", tlsCrt, tlsKey, c.Dir)
		}
		return createTLSConfig(certPath, keyPath, minVer)
	}
	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

// createTLSConfig fails early on an unreadable pair instead of at the
// first handshake.
func createTLSConfig(certPath, keyPath string, minVer uint16) (*tls.Config, error) {
	kp := &keyPair{certPath: filepath.Clean(certPath), keyPath: filepath.Clean(keyPath)}
	if _, err := kp.get(nil); err != nil {
		return nil, err
	}
	return &tls.Config{
		GetCertificate: kp.get,
		MinVersion:     minVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// generateCertificate writes a self-signed localhost certificate into destDir.
func generateCertificate(destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	host, _ := os.Hostname()
	dns := []string{"localhost"}
	if host != "" && host != "localhost" {
		dns = append(dns, host)
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   "localhost",
		Organization: "emuctl",
		DNSNames:     dns,
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(1, 0, 0),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
