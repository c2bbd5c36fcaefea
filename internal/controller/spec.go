package controller

import (
	"path/filepath"

	"github.com/loykin/emuctl/internal/process"
)

// EmulatorHealthURL is the expvar endpoint the emulator serves.
const EmulatorHealthURL = "http://localhost:%d/debug/vars"

// ProcessSpec describes how one kind is laid out on disk and detected.
// File names are relative to the work dir.
type ProcessSpec struct {
	Kind            process.Kind `json:"kind"`
	Binary          string       `json:"binary"`
	LogFile         string       `json:"log_file"`
	PIDFile         string       `json:"pid_file"`
	SelfRegisters   bool         `json:"self_registers"`         // the binary writes its own PID file
	HealthURL       string       `json:"health_url,omitempty"`   // empty: detection by PID file
	DefaultPort     int          `json:"default_port,omitempty"` // health port when a caller gives none
	ConfigFile      string       `json:"config_file,omitempty"`  // generated before start
	CredentialsFile string       `json:"credentials_file,omitempty"`
}

// DefaultSpecs returns the built-in description of every kind.
func DefaultSpecs() map[process.Kind]ProcessSpec {
	return map[process.Kind]ProcessSpec{
		process.KindEmulator: {
			Kind:            process.KindEmulator,
			Binary:          "choria-emulator",
			LogFile:         "log",
			PIDFile:         "emulator.pid",
			HealthURL:       EmulatorHealthURL,
			DefaultPort:     8080,
			CredentialsFile: "credentials",
		},
		process.KindNATS: {
			Kind:          process.KindNATS,
			Binary:        "nats-server",
			LogFile:       "nats-server.log",
			PIDFile:       "nats-server.pid",
			SelfRegisters: true,
			DefaultPort:   8222,
		},
		process.KindFederation: {
			Kind:          process.KindFederation,
			Binary:        "choria",
			LogFile:       "federation.log",
			PIDFile:       "federation.pid",
			SelfRegisters: true,
			ConfigFile:    "federation.cfg",
		},
	}
}

// UsesHealth reports whether the kind is detected through its HTTP endpoint.
func (s ProcessSpec) UsesHealth() bool { return s.HealthURL != "" }

func (s ProcessSpec) layout(workDir, identity string) process.Layout {
	l := process.Layout{
		Identity: identity,
		LogPath:  filepath.Join(workDir, s.LogFile),
		PIDPath:  filepath.Join(workDir, s.PIDFile),
	}
	if s.ConfigFile != "" {
		l.ConfigPath = filepath.Join(workDir, s.ConfigFile)
	}
	if s.CredentialsFile != "" {
		l.CredentialsPath = filepath.Join(workDir, s.CredentialsFile)
	}
	return l
}
