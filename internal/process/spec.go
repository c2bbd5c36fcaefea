package process

import (
	"fmt"
	"strings"
)

// Kind names one supervisable process kind.
type Kind string

const (
	KindEmulator   Kind = "emulator"
	KindNATS       Kind = "nats"
	KindFederation Kind = "federation"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind { return []Kind{KindEmulator, KindNATS, KindFederation} }

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindEmulator, KindNATS, KindFederation:
		return k, nil
	case "nats-server", "broker":
		return KindNATS, nil
	case "federation-broker":
		return KindFederation, nil
	}
	return "", fmt.Errorf("unknown process kind %q", s)
}

func (k Kind) String() string { return string(k) }

// LaunchSpec describes one spawn of a managed binary.
type LaunchSpec struct {
	Kind    Kind     `json:"kind"`
	Binary  string   `json:"binary"`   // absolute path of the staged executable
	Args    []string `json:"args"`     // argument vector, never interpreted by a shell
	LogPath string   `json:"log_path"` // stdout and stderr are appended here
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // optional extra env on top of the caller's
}
