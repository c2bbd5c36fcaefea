package pidfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Write persists pid as the entire contents of path.
func Write(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d for %s", pid, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create pidfile dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write pidfile %s: %w", path, err)
	}
	return nil
}

// ReadPid returns the stored PID if the file exists and parses cleanly.
// Managed binaries that write their own pidfile usually add a trailing newline.
func ReadPid(path string) (int, bool) {
	// #nosec G304 -- pidfile paths come from the process layout
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// IsRunning reports whether path names a live process. Missing or corrupt
// files are not errors; they just mean "not running".
func IsRunning(path string) bool {
	pid, ok := ReadPid(path)
	if !ok {
		return false
	}
	return Alive(pid)
}

// Remove deletes path, best-effort.
func Remove(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// Alive reports whether pid exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 || pid > int(^uint32(0)>>1) {
		return false
	}
	ctx := context.Background()
	exists, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// raced with exit
		return false
	}
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return !slices.Contains(st, gopsproc.Zombie)
}

// Runs reports whether pid is alive and executing exe. A PID recycled by an
// unrelated program does not count.
func Runs(pid int, exe string) bool {
	if !Alive(pid) {
		return false
	}
	p, err := gopsproc.NewProcessWithContext(context.Background(), int32(pid))
	if err != nil {
		return false
	}
	if got, err := p.Exe(); err == nil && got != "" {
		return samePath(strings.TrimSuffix(got, " (deleted)"), exe)
	}
	// no access to the executable path; fall back to the (possibly truncated) name
	name, err := p.Name()
	if err != nil || name == "" {
		return false
	}
	base := filepath.Base(exe)
	return name == base || (len(name) >= 15 && strings.HasPrefix(base, name))
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
