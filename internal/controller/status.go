package controller

import (
	"context"
	"os"
	"path/filepath"

	"github.com/loykin/emuctl/internal/artifact"
	"github.com/loykin/emuctl/internal/health"
	"github.com/loykin/emuctl/internal/metrics"
	"github.com/loykin/emuctl/internal/pidfile"
	"github.com/loykin/emuctl/internal/process"
)

// Status is what the controller reports about one kind.
type Status struct {
	Kind      process.Kind       `json:"kind"`
	State     State              `json:"state"`
	Running   bool               `json:"running"`
	PID       int                `json:"pid,omitempty"`
	Name      string             `json:"name,omitempty"`
	TLS       bool               `json:"tls"`
	Memory    uint64             `json:"memory,omitempty"` // memstats.Sys from the health payload
	Checksum  string             `json:"checksum,omitempty"`
	Code      int                `json:"code,omitempty"`
	Detector  string             `json:"detector"`
	Escalated bool               `json:"escalated,omitempty"` // the last stop needed the kill signal
	Resources *metrics.Resources `json:"resources,omitempty"`
}

// Status reports the staged binary checksum and, when the kind is running,
// what its health payload or PID file says. port selects the health endpoint
// for kinds that have one; 0 means the kind's default.
func (c *Controller) Status(ctx context.Context, kind process.Kind, port int) (Status, error) {
	spec, err := c.Spec(kind)
	if err != nil {
		return Status{}, err
	}
	unlock := c.lock(kind.String())
	defer unlock()
	return c.status(ctx, spec, port), nil
}

// status probes without taking the kind lock; callers hold it.
func (c *Controller) status(ctx context.Context, spec ProcessSpec, port int) Status {
	st := Status{Kind: spec.Kind, State: StateUnstaged, Detector: c.detectorFor(spec, port).Describe()}

	bin := c.binaryPath(spec)
	if fi, err := os.Stat(bin); err == nil && fi.Mode().IsRegular() {
		st.State = StateStaged
		if sum, err := artifact.Checksum(bin); err == nil {
			st.Checksum = sum
		} else {
			c.logger.Warn("checksum failed", "kind", spec.Kind, "path", bin, "error", err)
		}
	}

	if spec.UsesHealth() {
		hs := c.poller.Query(ctx, c.healthURL(spec, port))
		metrics.IncHealthPoll(spec.Kind.String(), string(hs.Classification))
		st.Code = hs.Code
		if hs.IsUp() {
			st.Running = true
			if p := hs.Payload; p != nil {
				st.PID = p.Config.PID
				st.Name = p.Name
				st.TLS = bool(p.Config.TLS)
				st.Memory = p.MemStats.Sys
			}
		} else if pid, ok := c.recordedPID(spec); ok {
			// running, but not answering on this port
			st.Running = true
			st.PID = pid
		}
	} else if pid, ok := pidfile.ReadPid(filepath.Join(c.workDir, spec.PIDFile)); ok && pidfile.Alive(pid) {
		st.Running = true
		st.PID = pid
	}

	if st.Running {
		st.State = StateUp
		if st.PID > 0 {
			if r, err := metrics.Sample(ctx, st.PID); err == nil {
				st.Resources = &r
				metrics.ObserveResources(spec.Kind.String(), r)
			}
		}
	} else {
		metrics.ClearResources(spec.Kind.String())
	}
	return st
}

// waitUp blocks until the kind is detected as running or the poll policy runs out.
func (c *Controller) waitUp(ctx context.Context, spec ProcessSpec, port int) bool {
	if spec.UsesHealth() {
		return c.poller.WaitFor(ctx, c.healthURL(spec, port), health.Up, c.poll).IsUp()
	}
	pidPath := filepath.Join(c.workDir, spec.PIDFile)
	return health.Until(ctx, c.poll, func() bool { return pidfile.IsRunning(pidPath) })
}
