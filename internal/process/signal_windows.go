//go:build windows

package process

import (
	"os"
	"syscall"
)

// killProcess has no graceful variant on Windows: any non-zero signal
// terminates the process.
func killProcess(pid int, signal syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return syscall.ESRCH
	}
	if signal == 0 {
		return nil
	}
	return p.Kill()
}
