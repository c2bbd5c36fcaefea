package health

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the JSON status document a managed process serves on its
// /debug/vars endpoint. Unknown fields are ignored.
type Payload struct {
	Name     string   `json:"name"`
	Uptime   int64    `json:"uptime,omitempty"`
	Config   Config   `json:"config"`
	MemStats MemStats `json:"memstats"`
}

// Config is the configuration echo inside the payload.
type Config struct {
	PID int  `json:"pid"`
	TLS Flag `json:"TLS"`
}

// MemStats carries the subset of runtime.MemStats we report.
type MemStats struct {
	Sys uint64 `json:"Sys"`
}

// Flag decodes booleans emitted either as JSON booleans or as 0/1 numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "true":
		*f = true
		return nil
	case "false", "null", `""`:
		*f = false
		return nil
	}
	s := string(b)
	if uq, err := strconv.Unquote(s); err == nil {
		s = uq
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if bv, berr := strconv.ParseBool(s); berr == nil {
			*f = Flag(bv)
			return nil
		}
		return fmt.Errorf("invalid flag value %s", b)
	}
	*f = n != 0
	return nil
}

func decodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
