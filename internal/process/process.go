package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/loykin/emuctl/internal/env"
)

// ErrSpawn is returned when a managed binary cannot be launched.
var ErrSpawn = errors.New("spawn failed")

// Launcher spawns managed binaries detached from the caller.
type Launcher struct {
	logger *slog.Logger
}

func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{logger: logger}
}

// Launch starts spec.Binary with spec.Args in its own session, appending
// stdout and stderr to spec.LogPath, and returns the child PID as soon as the
// spawn itself succeeded. It does not wait for the child to become healthy.
//
// The child is reaped by a background goroutine so it never lingers as a
// zombie while this process is alive; if we exit first it is re-parented.
func (l *Launcher) Launch(spec LaunchSpec) (int, error) {
	if err := checkExecutable(spec.Binary); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSpawn, spec.Binary, err)
	}
	if spec.LogPath == "" {
		return 0, fmt.Errorf("%w: %s: no log path", ErrSpawn, spec.Binary)
	}
	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o750); err != nil {
		return 0, fmt.Errorf("%w: create log dir: %w", ErrSpawn, err)
	}
	// #nosec G304 -- log path comes from the process layout
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("%w: open log %s: %w", ErrSpawn, spec.LogPath, err)
	}
	// the child holds its own descriptor once started
	defer func() { _ = logFile.Close() }()

	// ok: binary is a staged artifact and args are an explicit vector
	// #nosec G204
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = env.Merge(os.Environ(), spec.Env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSpawn, spec.Binary, err)
	}
	pid := cmd.Process.Pid
	l.logger.Info("managed process spawned", "kind", spec.Kind, "pid", pid, "binary", spec.Binary, "args", spec.Args)

	go func() {
		err := cmd.Wait()
		l.logger.Debug("managed process exited", "kind", spec.Kind, "pid", pid, "error", err)
	}()
	return pid, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("not executable (mode %04o)", info.Mode().Perm())
	}
	return nil
}
