package process

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// WriteCredentials decodes a base64 blob and writes the raw bytes to path,
// readable by the owner only. An existing file is overwritten.
func WriteCredentials(path, blob string) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("%w: credentials are not valid base64: %v", ErrInvalidRequest, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials %s: %w", path, err)
	}
	// WriteFile keeps the mode of a pre-existing file
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restrict credentials %s: %w", path, err)
	}
	return nil
}
