package process

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrProcessGone is returned when a signal targets a process that no longer exists.
var ErrProcessGone = errors.New("process already exited")

// ParseSignal accepts TERM, SIGTERM, term and the like.
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")
	switch n {
	case "TERM", "":
		return syscall.SIGTERM, nil
	case "HUP":
		return syscall.SIGHUP, nil
	case "INT":
		return syscall.SIGINT, nil
	case "KILL":
		return syscall.SIGKILL, nil
	}
	return 0, fmt.Errorf("unsupported signal %q", name)
}

// Signal delivers sig to pid.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := killProcess(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("send %v to %d: %w", sig, pid, err)
	}
	return nil
}
