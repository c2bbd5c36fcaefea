package detector

import (
	"context"
	"fmt"
	"os"

	"github.com/loykin/emuctl/internal/pidfile"
)

// PIDFileDetector detects a process via its PID file. When Executable is set
// the PID must also be running that binary.
type PIDFileDetector struct {
	PIDFile    string
	Executable string
}

// Alive is false for a missing, empty or malformed file.
func (d PIDFileDetector) Alive(_ context.Context) (bool, error) {
	if _, err := os.Stat(d.PIDFile); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	pid, ok := pidfile.ReadPid(d.PIDFile)
	if !ok {
		return false, nil
	}
	if d.Executable != "" {
		return pidfile.Runs(pid, d.Executable), nil
	}
	return pidfile.Alive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive(_ context.Context) (bool, error) { return pidfile.Alive(d.PID), nil }
func (d PIDDetector) Describe() string                      { return fmt.Sprintf("pid:%d", d.PID) }
