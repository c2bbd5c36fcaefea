//go:build !windows

package process

import "syscall"

// killProcess sends a signal to a Unix process
func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}
