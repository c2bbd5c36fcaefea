package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/loykin/emuctl/internal/artifact"
	"github.com/loykin/emuctl/internal/detector"
	"github.com/loykin/emuctl/internal/health"
	"github.com/loykin/emuctl/internal/history"
	"github.com/loykin/emuctl/internal/metrics"
	"github.com/loykin/emuctl/internal/pidfile"
	"github.com/loykin/emuctl/internal/process"
)

// StopRequest selects the health endpoint used to find the PID of kinds that
// are detected over HTTP. Port 0 means the kind's default.
type StopRequest struct {
	Port int `json:"port,omitempty" mapstructure:"port"`
}

// Download fetches url into the work dir under the plain file name target.
// When target is a kind's binary the kind's lock is held, so a binary is never
// replaced underneath a start of the same kind.
func (c *Controller) Download(ctx context.Context, url, target string) (artifact.Result, error) {
	dest, err := c.stager.Path(target)
	if err != nil {
		return artifact.Result{}, err
	}
	key := "download:" + target
	kind := process.Kind("")
	for k, s := range c.specs {
		if s.Binary == target {
			key, kind = k.String(), k
		}
	}
	unlock := c.lock(key)
	defer unlock()

	log := c.logger.With("op", "download", "target", target)
	res, err := c.stager.Stage(ctx, url, dest)
	metrics.IncDownload(err == nil, res.Size)
	ev := history.Event{Type: history.EventDownload, Kind: kind.String(), Success: err == nil, Detail: res.Checksum}
	if err != nil {
		ev.Message = err.Error()
		c.history.Record(ctx, ev)
		log.Error("download failed", "url", url, "error", err)
		return artifact.Result{}, err
	}
	c.history.Record(ctx, ev)
	if kind != "" {
		c.setState(kind, StateStaged)
	}
	log.Info("downloaded", "url", url, "size", res.Size, "md5", res.Checksum)
	return res, nil
}

// Stage downloads the binary of kind.
func (c *Controller) Stage(ctx context.Context, kind process.Kind, url string) (artifact.Result, error) {
	spec, err := c.Spec(kind)
	if err != nil {
		return artifact.Result{}, err
	}
	return c.Download(ctx, url, spec.Binary)
}

// Start launches kind detached and waits, bounded by the poll policy, for it
// to be detected as running. A process that was spawned but never came up is
// reported through Status.Running=false, not as an error.
func (c *Controller) Start(ctx context.Context, kind process.Kind, req process.Request) (Status, error) {
	spec, err := c.Spec(kind)
	if err != nil {
		return Status{}, err
	}
	unlock := c.lock(kind.String())
	defer unlock()

	log := c.logger.With("op", "start", "kind", kind)
	bin := c.binaryPath(spec)
	if fi, err := os.Stat(bin); err != nil || !fi.Mode().IsRegular() {
		return Status{}, fmt.Errorf("%w: %s does not exist", ErrNotStaged, bin)
	}

	port := healthPort(req)
	det := c.detectorFor(spec, port)
	if alive, _ := det.Alive(ctx); alive {
		log.Warn("refusing to start", "detector", det.Describe())
		return Status{}, fmt.Errorf("%w: %s (%s)", ErrAlreadyRunning, kind, det.Describe())
	}
	if err := req.Validate(kind); err != nil {
		return Status{}, err
	}
	// #nosec G302 -- staged binaries must be executable
	if err := os.Chmod(bin, 0o755); err != nil {
		return Status{}, fmt.Errorf("%w: chmod %s: %w", process.ErrSpawn, bin, err)
	}

	layout := spec.layout(c.workDir, c.identity)
	if req.Credentials != "" && layout.CredentialsPath != "" {
		if err := process.WriteCredentials(layout.CredentialsPath, req.Credentials); err != nil {
			return Status{}, err
		}
	}
	if layout.ConfigPath != "" {
		if err := c.writeFederationConfig(layout.ConfigPath, req); err != nil {
			return Status{}, err
		}
	}
	args, err := process.BuildArgs(kind, req, layout)
	if err != nil {
		return Status{}, err
	}

	// a leftover file would satisfy the readiness wait of a self-registering kind
	pidfile.Remove(layout.PIDPath)

	c.setState(kind, StateStarting)
	began := time.Now()
	pid, err := c.spawner.Launch(process.LaunchSpec{
		Kind:    kind,
		Binary:  bin,
		Args:    args,
		LogPath: layout.LogPath,
		WorkDir: c.workDir,
		Env:     c.env,
	})
	if err != nil {
		metrics.IncStart(kind.String(), false)
		c.history.Record(ctx, history.Event{Type: history.EventStart, Kind: kind.String(), Message: err.Error()})
		st := c.status(ctx, spec, port)
		c.setState(kind, st.State)
		log.Error("spawn failed", "error", err)
		return st, err
	}
	log = log.With("pid", pid)
	if !spec.SelfRegisters {
		if err := pidfile.Write(layout.PIDPath, pid); err != nil {
			log.Warn("pid file not written", "path", layout.PIDPath, "error", err)
		}
	}

	up := c.waitUp(ctx, spec, port)
	if spec.SelfRegisters {
		if _, ok := pidfile.ReadPid(layout.PIDPath); !ok && pidfile.Alive(pid) {
			log.Warn("process did not write its pid file, recording spawned pid", "path", layout.PIDPath)
			if err := pidfile.Write(layout.PIDPath, pid); err == nil {
				up = true
			}
		}
	}

	st := c.status(ctx, spec, port)
	if spec.UsesHealth() && !up && st.Running {
		// alive, but its endpoint never answered within the poll policy
		st.Running = false
		st.State = StateStarting
	}
	c.setState(kind, st.State)
	metrics.IncStart(kind.String(), st.Running)
	if st.Running {
		metrics.ObserveStartDuration(kind.String(), time.Since(began).Seconds())
		log.Info("started", "elapsed", time.Since(began))
	} else {
		log.Warn("spawned but not detected as running", "waited", up, "elapsed", time.Since(began))
	}
	ev := history.Event{Type: history.EventStart, Kind: kind.String(), PID: pid, Success: st.Running}
	if !st.Running {
		ev.Message = "not running after start"
	}
	c.history.Record(ctx, ev)
	return st, nil
}

// Stop terminates kind: the graceful signal first, then SIGKILL if the
// process outlives the stop policy. Stopping a kind that is not running is a
// success and sends no signal. A process that survives both signals is
// reported through Status.Running, not as an error.
func (c *Controller) Stop(ctx context.Context, kind process.Kind, req StopRequest) (Status, error) {
	spec, err := c.Spec(kind)
	if err != nil {
		return Status{}, err
	}
	unlock := c.lock(kind.String())
	defer unlock()

	log := c.logger.With("op", "stop", "kind", kind)
	layout := spec.layout(c.workDir, c.identity)
	det := c.detectorFor(spec, req.Port)
	if alive, _ := det.Alive(ctx); !alive {
		// the recorded PID is dead or belongs to another program
		pidfile.Remove(layout.PIDPath)
		st := c.status(ctx, spec, req.Port)
		if st.State == StateStaged {
			st.State = StateDown
		}
		log.Info("not running, nothing to stop")
		return st, nil
	}

	pid := c.resolvePID(ctx, spec, req.Port)
	if pid <= 0 {
		log.Error("pid unknown", "detector", det.Describe())
		return Status{}, fmt.Errorf("%w: %s", ErrPIDResolution, kind)
	}
	log = log.With("pid", pid)

	c.setState(kind, StateStopping)
	gone := c.signalAndWait(ctx, pid, c.stopSignal, log)
	escalated := false
	if !gone {
		escalated = true
		log.Warn("still running after graceful signal, escalating", "signal", c.stopSignal)
		gone = c.signalAndWait(ctx, pid, syscall.SIGKILL, log)
	}
	if gone {
		pidfile.Remove(layout.PIDPath)
	}

	st := c.status(ctx, spec, req.Port)
	st.Escalated = escalated
	if !st.Running {
		st.State = StateDown
	}
	c.setState(kind, st.State)
	metrics.IncStop(kind.String(), escalated)
	ev := history.Event{Type: history.EventStop, Kind: kind.String(), PID: pid, Success: !st.Running}
	if escalated {
		ev.Detail = "escalated to SIGKILL"
	}
	if st.Running {
		ev.Message = "still running after SIGKILL"
		log.Error("process survived SIGKILL")
	} else {
		log.Info("stopped", "escalated", escalated)
	}
	c.history.Record(ctx, ev)
	return st, nil
}

func (c *Controller) signalAndWait(ctx context.Context, pid int, sig syscall.Signal, log *slog.Logger) bool {
	if err := process.Signal(pid, sig); err != nil {
		if errors.Is(err, process.ErrProcessGone) {
			return true
		}
		log.Warn("signal failed", "signal", sig, "error", err)
	}
	d := detector.PIDDetector{PID: pid}
	return health.Until(ctx, c.stopPolicy, func() bool {
		alive, _ := d.Alive(ctx)
		return !alive
	})
}

// resolvePID prefers the PID the process reports about itself and falls back
// to the PID file. For health-probed kinds the recorded PID must still run the
// staged binary.
func (c *Controller) resolvePID(ctx context.Context, spec ProcessSpec, port int) int {
	if spec.UsesHealth() {
		hs := c.poller.Query(ctx, c.healthURL(spec, port))
		if hs.Payload != nil && hs.Payload.Config.PID > 0 {
			return hs.Payload.Config.PID
		}
		pid, _ := c.recordedPID(spec)
		return pid
	}
	if pid, ok := pidfile.ReadPid(spec.layout(c.workDir, c.identity).PIDPath); ok {
		return pid
	}
	return 0
}

// healthPort is the port a start request exposes its health endpoint on.
func healthPort(r process.Request) int {
	if r.HTTPPort > 0 {
		return r.HTTPPort
	}
	return r.MonitorPort
}
