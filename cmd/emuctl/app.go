package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/emuctl/internal/agent"
	"github.com/loykin/emuctl/internal/config"
	"github.com/loykin/emuctl/internal/controller"
	"github.com/loykin/emuctl/internal/history"
	"github.com/loykin/emuctl/internal/logger"
	"github.com/loykin/emuctl/internal/metrics"
	"github.com/loykin/emuctl/internal/server"
)

// app is everything a command needs, built from the loaded configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	ctl     *controller.Controller
	agent   *agent.Dispatcher
	hist    server.HistorySource // nil unless history goes to a queryable sink
	closers []io.Closer
}

func newApp(g *GlobalFlags) (*app, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.WorkDir != "" {
		cfg.WorkDir = g.WorkDir
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}

	log, lc, err := logger.New(cfg.Log, nil)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log, closers: []io.Closer{lc}}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics not registered", "error", err)
	}

	var rec *history.Recorder
	if cfg.History.Enabled {
		sink, err := history.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
		if c, ok := sink.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		if r, ok := sink.(server.HistorySource); ok {
			a.hist = r
		}
		rec = history.NewRecorder(sink, log)
	}

	ctl, err := controller.NewFromConfig(cfg, log, rec)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.ctl = ctl
	a.agent = agent.New(ctl, log)
	return a, nil
}

// Close releases log files and history connections.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
