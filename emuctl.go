// Package emuctl stages, starts, stops and inspects the processes of an
// emulator fleet: the emulator itself, a NATS broker and a federation broker.
// It is the embedding API over the controller used by the emuctl command.
package emuctl

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/emuctl/internal/agent"
	cfg "github.com/loykin/emuctl/internal/config"
	"github.com/loykin/emuctl/internal/controller"
	"github.com/loykin/emuctl/internal/health"
	"github.com/loykin/emuctl/internal/history"
	"github.com/loykin/emuctl/internal/metrics"
	"github.com/loykin/emuctl/internal/process"
	iapi "github.com/loykin/emuctl/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Kind = process.Kind

const (
	KindEmulator   = process.KindEmulator
	KindNATS       = process.KindNATS
	KindFederation = process.KindFederation
)

type (
	Request     = process.Request
	StopRequest = controller.StopRequest
	Status      = controller.Status
	State       = controller.State
	Options     = controller.Options
	Policy      = health.Policy
	Config      = cfg.Config
	HistorySink = history.Sink
	Event       = history.Event
	Reply       = agent.Reply
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrNotStaged      = controller.ErrNotStaged
	ErrAlreadyRunning = controller.ErrAlreadyRunning
	ErrPIDResolution  = controller.ErrPIDResolution
	ErrConfigWrite    = controller.ErrConfigWrite
	ErrInvalidRequest = process.ErrInvalidRequest
)

// Controller is a thin facade over internal/controller.Controller.
type Controller struct{ inner *controller.Controller }

// New builds a Controller from options; zero values use the defaults.
func New(opts Options) *Controller { return &Controller{inner: controller.New(opts)} }

// NewFromConfig builds a Controller from loaded configuration. sink may be nil.
func NewFromConfig(c *Config, logger *slog.Logger, sink HistorySink) (*Controller, error) {
	var rec *history.Recorder
	if sink != nil {
		rec = history.NewRecorder(sink, logger)
	}
	inner, err := controller.NewFromConfig(c, logger, rec)
	if err != nil {
		return nil, err
	}
	return &Controller{inner: inner}, nil
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySink creates a sink from a DSN (sqlite path, postgres:// or opensearch://).
func NewHistorySink(dsn string) (HistorySink, error) { return history.NewSinkFromDSN(dsn) }

func (c *Controller) WorkDir() string { return c.inner.WorkDir() }

func (c *Controller) Stage(ctx context.Context, kind Kind, url string) (string, error) {
	res, err := c.inner.Stage(ctx, kind, url)
	return res.Checksum, err
}
func (c *Controller) Start(ctx context.Context, kind Kind, req Request) (Status, error) {
	return c.inner.Start(ctx, kind, req)
}
func (c *Controller) Stop(ctx context.Context, kind Kind, req StopRequest) (Status, error) {
	return c.inner.Stop(ctx, kind, req)
}
func (c *Controller) Status(ctx context.Context, kind Kind, port int) (Status, error) {
	return c.inner.Status(ctx, kind, port)
}

// Dispatch runs a named agent action ("start", "stop_nats", ...) with loosely
// typed arguments.
func (c *Controller) Dispatch(ctx context.Context, action string, args map[string]any) Reply {
	return agent.New(c.inner, nil).Dispatch(ctx, action, args)
}

// NewHTTPServer starts the read-only status server for c over plain HTTP.
func NewHTTPServer(addr, basePath string, c *Controller) (*http.Server, error) {
	return iapi.NewServer(addr, iapi.NewRouter(c.inner, nil, basePath), nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
