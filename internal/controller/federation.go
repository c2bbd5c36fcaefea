package controller

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magiconair/properties"

	"github.com/loykin/emuctl/internal/process"
)

// federationProperties renders the broker config for a federation start.
func (c *Controller) federationProperties(req process.Request) (*properties.Properties, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true
	entries := [][2]string{
		{"identity", c.identity},
		{"logfile", filepath.Join(c.workDir, "choria.log")},
		{"loglevel", "info"},
		{"plugin.choria.broker_federation", "true"},
		{"plugin.choria.federation_middleware_hosts", req.FederationServers},
		{"plugin.choria.middleware_hosts", req.CollectiveServers},
		{"plugin.choria.broker_federation_cluster", req.NameOr(c.identity)},
	}
	for _, kv := range entries {
		if _, _, err := p.Set(kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("set %s: %w", kv[0], err)
		}
	}
	return p, nil
}

// writeFederationConfig replaces path with the broker config for req.
func (c *Controller) writeFederationConfig(path string, req process.Request) error {
	p, err := c.federationProperties(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigWrite, path, err)
	}
	// #nosec G304 -- path comes from the process layout
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigWrite, path, err)
	}
	_, err = p.Write(f, properties.UTF8)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigWrite, path, err)
	}
	c.logger.Debug("federation config written", "path", path)
	return nil
}
