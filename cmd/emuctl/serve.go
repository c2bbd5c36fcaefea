package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/emuctl/internal/server"
	itls "github.com/loykin/emuctl/internal/tls"
)

func createServeCommand(c command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only status server",
		Long: `Serve status, history, health and Prometheus metrics over HTTP.
Lifecycle operations are not exposed.

Examples:
  emuctl serve
  emuctl serve --listen=0.0.0.0:9281 --base-path=/api
  emuctl serve --daemonize --pidfile=/run/emuctl.pid --logfile=/var/log/emuctl.out`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.Daemonize {
				return daemonize(f.PidFile, f.LogFile)
			}
			return c.withApp(func(a *app) error { return runServe(cmd.Context(), a, f) })
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (default from config)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "URL prefix of the status endpoints (default from config)")
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "daemon pid file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().BoolVar(&f.NonBlocking, "non-blocking", false, "start and stop immediately (testing)")
	_ = cmd.Flags().MarkHidden("non-blocking")
	return cmd
}

func runServe(ctx context.Context, a *app, f *ServeFlags) error {
	listen := f.Listen
	if listen == "" {
		listen = a.cfg.Server.Listen
	}
	base := f.BasePath
	if base == "" {
		base = a.cfg.Server.BasePath
	}
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	tc, err := itls.SetupTLS(a.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	srv, err := server.NewServer(listen, server.NewRouter(a.ctl, a.hist, base), tc)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	a.logger.Info("status server started", "listen", srv.Addr, "base_path", base, "tls", tc != nil, "work_dir", a.ctl.WorkDir())

	if !f.NonBlocking {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
	}

	a.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
