package controller

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/emuctl/internal/artifact"
	"github.com/loykin/emuctl/internal/config"
	"github.com/loykin/emuctl/internal/detector"
	"github.com/loykin/emuctl/internal/health"
	"github.com/loykin/emuctl/internal/history"
	"github.com/loykin/emuctl/internal/metrics"
	"github.com/loykin/emuctl/internal/pidfile"
	"github.com/loykin/emuctl/internal/process"
)

// Spawner starts a managed binary and returns its PID.
type Spawner interface {
	Launch(spec process.LaunchSpec) (int, error)
}

// Options wires a Controller. Zero values fall back to defaults.
type Options struct {
	WorkDir         string
	Identity        string
	Specs           map[process.Kind]ProcessSpec
	Poll            health.Policy // readiness waits
	StopPolicy      health.Policy // waits after each signal
	StopSignal      syscall.Signal
	HealthTimeout   time.Duration
	DownloadTimeout time.Duration
	Env             []string // extra environment for managed processes
	Logger          *slog.Logger
	History         *history.Recorder
	Spawner         Spawner
}

// Controller runs the download, start, stop and status operations for every
// kind. Operations on one kind are serialized; different kinds run in parallel.
// There is no cached notion of "running": every decision re-probes the OS or
// the health endpoint.
type Controller struct {
	workDir    string
	identity   string
	specs      map[process.Kind]ProcessSpec
	poll       health.Policy
	stopPolicy health.Policy
	stopSignal syscall.Signal
	env        []string

	logger  *slog.Logger
	history *history.Recorder
	spawner Spawner
	poller  *health.Poller
	stager  *artifact.Stager

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	states map[process.Kind]State
}

func New(opts Options) *Controller {
	if opts.WorkDir == "" {
		opts.WorkDir = config.DefaultWorkDir
	}
	if opts.Identity == "" {
		opts.Identity, _ = os.Hostname()
	}
	if opts.Specs == nil {
		opts.Specs = DefaultSpecs()
	}
	if opts.Poll.Attempts <= 0 {
		opts.Poll = health.DefaultPolicy()
	}
	if opts.StopPolicy.Attempts <= 0 {
		opts.StopPolicy = health.Policy{Attempts: 10, Interval: 100 * time.Millisecond}
	}
	if opts.StopSignal == 0 {
		opts.StopSignal = syscall.SIGTERM
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.NewRecorder(nil, opts.Logger)
	}
	if opts.Spawner == nil {
		opts.Spawner = process.NewLauncher(opts.Logger)
	}
	return &Controller{
		workDir:    opts.WorkDir,
		identity:   opts.Identity,
		specs:      opts.Specs,
		poll:       opts.Poll,
		stopPolicy: opts.StopPolicy,
		stopSignal: opts.StopSignal,
		env:        opts.Env,
		logger:     opts.Logger.With("component", "controller"),
		history:    opts.History,
		spawner:    opts.Spawner,
		poller:     health.NewPoller(opts.HealthTimeout, opts.Logger),
		stager:     artifact.New(opts.WorkDir, opts.DownloadTimeout, opts.Logger),
		locks:      make(map[string]*sync.Mutex),
		states:     make(map[process.Kind]State),
	}
}

// NewFromConfig builds a Controller from loaded configuration, applying the
// per-kind binary and health URL overrides.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, rec *history.Recorder) (*Controller, error) {
	sig, err := process.ParseSignal(cfg.Stop.Signal)
	if err != nil {
		return nil, err
	}
	env, err := cfg.ProcessEnv()
	if err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	specs := DefaultSpecs()
	for kind, s := range specs {
		o := cfg.Override(kind)
		if o.Binary != "" {
			s.Binary = o.Binary
		}
		if o.HealthURL != "" {
			s.HealthURL = o.HealthURL
		}
		specs[kind] = s
	}
	return New(Options{
		WorkDir:         cfg.WorkDir,
		Identity:        cfg.Identity,
		Specs:           specs,
		Poll:            cfg.Poll,
		StopPolicy:      cfg.StopPolicy(),
		StopSignal:      sig,
		HealthTimeout:   cfg.Health.Timeout,
		DownloadTimeout: cfg.Download.Timeout,
		Env:             env,
		Logger:          logger,
		History:         rec,
	}), nil
}

// WorkDir is the directory every managed file lives in.
func (c *Controller) WorkDir() string { return c.workDir }

// Spec returns the description of kind.
func (c *Controller) Spec(kind process.Kind) (ProcessSpec, error) {
	s, ok := c.specs[kind]
	if !ok {
		return ProcessSpec{}, fmt.Errorf("%w: unknown kind %q", process.ErrInvalidRequest, kind)
	}
	return s, nil
}

// lock serializes operations sharing key and returns the unlock func.
func (c *Controller) lock(key string) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Controller) setState(kind process.Kind, s State) {
	c.mu.Lock()
	prev, seen := c.states[kind]
	c.states[kind] = s
	c.mu.Unlock()
	if seen && prev == s {
		return
	}
	if seen {
		metrics.RecordStateTransition(kind.String(), prev.String(), s.String())
		metrics.SetCurrentState(kind.String(), prev.String(), false)
	}
	metrics.SetCurrentState(kind.String(), s.String(), true)
}

func (c *Controller) binaryPath(s ProcessSpec) string {
	return filepath.Join(c.workDir, s.Binary)
}

func (c *Controller) healthURL(s ProcessSpec, port int) string {
	if port <= 0 {
		port = s.DefaultPort
	}
	return health.URL(s.HealthURL, port)
}

// detectorFor picks how "is running" is decided for a kind. Health-probed
// kinds are also found through the PID file the controller wrote, so an
// instance listening on another port still counts.
func (c *Controller) detectorFor(s ProcessSpec, port int) detector.Detector {
	pf := detector.PIDFileDetector{PIDFile: filepath.Join(c.workDir, s.PIDFile)}
	if !s.UsesHealth() {
		return pf
	}
	pf.Executable = c.binaryPath(s)
	return detector.AnyOf(detector.HealthDetector{Poller: c.poller, URL: c.healthURL(s, port)}, pf)
}

// recordedPID returns the PID file's PID when it runs the kind's binary.
func (c *Controller) recordedPID(s ProcessSpec) (int, bool) {
	pid, ok := pidfile.ReadPid(filepath.Join(c.workDir, s.PIDFile))
	if !ok || !pidfile.Runs(pid, c.binaryPath(s)) {
		return 0, false
	}
	return pid, true
}
