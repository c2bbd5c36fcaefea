package process

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidRequest is returned when a launch request fails validation.
var ErrInvalidRequest = errors.New("invalid launch request")

// Request carries the caller-supplied named arguments for a start operation.
// Zero values mean "not supplied".
type Request struct {
	Instances   int    `json:"instances,omitempty" mapstructure:"instances"`
	HTTPPort    int    `json:"http_port,omitempty" mapstructure:"http_port"`
	Agents      int    `json:"agents,omitempty" mapstructure:"agents"`
	Collectives int    `json:"collectives,omitempty" mapstructure:"collectives"`
	TLS         bool   `json:"tls,omitempty" mapstructure:"tls"`
	Credentials string `json:"credentials,omitempty" mapstructure:"credentials"` // base64
	Name        string `json:"name,omitempty" mapstructure:"name"`
	Servers     string `json:"servers,omitempty" mapstructure:"servers"` // comma separated

	// nats
	Port        int `json:"port,omitempty" mapstructure:"port"`
	MonitorPort int `json:"monitor_port,omitempty" mapstructure:"monitor_port"`

	// federation
	FederationServers string `json:"federation_servers,omitempty" mapstructure:"federation_servers"`
	CollectiveServers string `json:"collective_servers,omitempty" mapstructure:"collective_servers"`
}

// Layout holds the resolved filesystem locations arguments refer to.
type Layout struct {
	Identity        string
	LogPath         string
	PIDPath         string
	ConfigPath      string
	CredentialsPath string
}

// Validate checks the fields kind needs.
func (r Request) Validate(kind Kind) error {
	switch kind {
	case KindEmulator:
		if r.Instances <= 0 {
			return fmt.Errorf("%w: instances must be positive", ErrInvalidRequest)
		}
		if err := validPort("http_port", r.HTTPPort); err != nil {
			return err
		}
		if r.Agents < 0 || r.Collectives < 0 {
			return fmt.Errorf("%w: agents and collectives cannot be negative", ErrInvalidRequest)
		}
		if r.Credentials != "" {
			if _, err := base64.StdEncoding.DecodeString(r.Credentials); err != nil {
				return fmt.Errorf("%w: credentials are not valid base64: %v", ErrInvalidRequest, err)
			}
		}
	case KindNATS:
		if err := validPort("port", r.Port); err != nil {
			return err
		}
		if err := validPort("monitor_port", r.MonitorPort); err != nil {
			return err
		}
	case KindFederation:
		if strings.TrimSpace(r.FederationServers) == "" {
			return fmt.Errorf("%w: federation_servers required", ErrInvalidRequest)
		}
		if strings.TrimSpace(r.CollectiveServers) == "" {
			return fmt.Errorf("%w: collective_servers required", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}
	return nil
}

func validPort(field string, p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalidRequest, field, p)
	}
	return nil
}

// NameOr returns the requested name or fallback when none was given.
func (r Request) NameOr(fallback string) string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return fallback
}

// BuildArgs translates r into the argument vector for kind.
func BuildArgs(kind Kind, r Request, l Layout) ([]string, error) {
	switch kind {
	case KindEmulator:
		args := []string{
			"--instances", strconv.Itoa(r.Instances),
			"--http-port", strconv.Itoa(r.HTTPPort),
			"--config", "/dev/null",
		}
		if r.Agents > 0 {
			args = append(args, "--agents", strconv.Itoa(r.Agents))
		}
		if r.Collectives > 0 {
			args = append(args, "--collectives", strconv.Itoa(r.Collectives))
		}
		if r.TLS {
			args = append(args, "--tls")
		}
		if r.Credentials != "" {
			args = append(args, "--credentials", l.CredentialsPath)
		}
		args = append(args, "--name", r.NameOr(l.Identity))
		for _, s := range SplitServers(r.Servers) {
			args = append(args, "--server", s)
		}
		return args, nil
	case KindNATS:
		return []string{
			"-T",
			"--log", l.LogPath,
			"--pid", l.PIDPath,
			"--port", strconv.Itoa(r.Port),
			"--http_port", strconv.Itoa(r.MonitorPort),
		}, nil
	case KindFederation:
		args := []string{"broker", "run", "--pid", l.PIDPath, "--config", l.ConfigPath}
		if !r.TLS {
			args = append(args, "--disable-tls")
		}
		return args, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
}

// SplitServers splits a comma separated server list, dropping all whitespace
// and empty entries.
func SplitServers(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		s = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
