package controller

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by lifecycle operations. Match with errors.Is.
var (
	ErrNotStaged      = errors.New("binary not staged")
	ErrAlreadyRunning = errors.New("already running")
	ErrPIDResolution  = errors.New("could not determine pid of running process")
	ErrConfigWrite    = errors.New("could not write config file")
)

// State is the lifecycle position of a kind.
type State int

const (
	StateUnstaged State = iota
	StateStaged
	StateStarting
	StateUp
	StateStopping
	StateDown
)

var stateNames = [...]string{"unstaged", "staged", "starting", "up", "stopping", "down"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}
