package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/emuctl/internal/agent"
	"github.com/loykin/emuctl/internal/process"
)

// command runs actions through the dispatcher against a lazily built app.
type command struct {
	global *GlobalFlags
}

func (c command) withApp(fn func(a *app) error) error {
	a, err := newApp(c.global)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

// dispatch runs action and prints the reply; a failed reply is an error.
func (c command) dispatch(ctx context.Context, out io.Writer, action string, args map[string]any) error {
	return c.withApp(func(a *app) error { return runAction(ctx, a.agent, out, action, args) })
}

func runAction(ctx context.Context, d *agent.Dispatcher, out io.Writer, action string, args map[string]any) error {
	r := d.Dispatch(ctx, action, args)
	printJSON(out, r)
	if !r.Success {
		return fmt.Errorf("%s failed: %s", r.Action, r.Message)
	}
	return nil
}

func createDownloadCommand(c command) *cobra.Command {
	f := &DownloadFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download an artifact into the work dir",
		Long: `Download a binary or other artifact into the work dir and print its size and MD5.

Examples:
  emuctl download --url=https://example.net/choria-emulator --kind=emulator
  emuctl download --url=https://example.net/nats-server --target=nats-server`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := f.Target
			if target == "" {
				if f.Kind == "" {
					return errors.New("one of --target or --kind is required")
				}
				kind, err := process.ParseKind(f.Kind)
				if err != nil {
					return err
				}
				return c.withApp(func(a *app) error {
					spec, err := a.ctl.Spec(kind)
					if err != nil {
						return err
					}
					args := map[string]any{"http": f.URL, "target": spec.Binary}
					return runAction(cmd.Context(), a.agent, cmd.OutOrStdout(), "download", args)
				})
			}
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "download", map[string]any{"http": f.URL, "target": target})
		},
	}
	cmd.Flags().StringVar(&f.URL, "url", "", "source URL (required)")
	cmd.Flags().StringVar(&f.Target, "target", "", "file name inside the work dir")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "stage the binary of this kind (emulator, nats, federation)")
	if err := cmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}
	return cmd
}

func createEmulatorCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Manage the emulator fleet process",
	}

	sf := &EmulatorStartFlags{}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the emulator",
		Long: `Start the staged emulator detached and wait for its health endpoint.

Examples:
  emuctl emulator start --instances=10 --monitor=8080
  emuctl emulator start --instances=5 --monitor=8081 --tls --servers=nats1:4222,nats2:4222`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds := sf.Credentials
			if sf.CredentialsFile != "" {
				b, err := os.ReadFile(sf.CredentialsFile)
				if err != nil {
					return fmt.Errorf("read credentials: %w", err)
				}
				creds = base64.StdEncoding.EncodeToString(b)
			}
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "start", map[string]any{
				"instances":   sf.Instances,
				"monitor":     sf.Monitor,
				"agents":      sf.Agents,
				"collectives": sf.Collectives,
				"tls":         sf.TLS,
				"credentials": creds,
				"name":        sf.Name,
				"servers":     sf.Servers,
			})
		},
	}
	start.Flags().IntVar(&sf.Instances, "instances", 1, "number of emulated instances")
	start.Flags().IntVar(&sf.Monitor, "monitor", 8080, "HTTP port of the health endpoint")
	start.Flags().IntVar(&sf.Agents, "agents", 0, "agents per instance")
	start.Flags().IntVar(&sf.Collectives, "collectives", 0, "number of collectives")
	start.Flags().BoolVar(&sf.TLS, "tls", false, "connect with TLS")
	start.Flags().StringVar(&sf.Credentials, "credentials", "", "base64 encoded credentials")
	start.Flags().StringVar(&sf.CredentialsFile, "credentials-file", "", "credentials file to pass on")
	start.Flags().StringVar(&sf.Name, "name", "", "instance name prefix (defaults to the identity)")
	start.Flags().StringVar(&sf.Servers, "servers", "", "comma separated middleware servers")

	var stopPort int
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the emulator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "stop", map[string]any{"port": stopPort})
		},
	}
	stop.Flags().IntVar(&stopPort, "port", 0, "health endpoint port (default 8080)")

	var statusPort int
	status := &cobra.Command{
		Use:   "status",
		Short: "Show emulator status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "emulator_status", map[string]any{"port": statusPort})
		},
	}
	status.Flags().IntVar(&statusPort, "port", 0, "health endpoint port (default 8080)")

	cmd.AddCommand(start, stop, status)
	return cmd
}

func createNATSCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nats",
		Aliases: []string{"nats-server"},
		Short:   "Manage the NATS broker",
	}

	sf := &NATSStartFlags{}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start nats-server",
		Long: `Start the staged nats-server detached and wait for its PID file.

Examples:
  emuctl nats start --port=4222 --monitor-port=8222`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "start_nats", map[string]any{
				"port":         sf.Port,
				"monitor_port": sf.MonitorPort,
			})
		},
	}
	start.Flags().IntVar(&sf.Port, "port", 4222, "client port")
	start.Flags().IntVar(&sf.MonitorPort, "monitor-port", 8222, "HTTP monitoring port")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop nats-server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "stop_nats", nil)
		},
	}

	cmd.AddCommand(start, stop)
	return cmd
}

func createFederationCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "federation",
		Short: "Manage the federation broker",
	}

	sf := &FederationStartFlags{}
	start := &cobra.Command{
		Use:   "start",
		Short: "Write federation.cfg and start the federation broker",
		Long: `Write the broker configuration and start the staged choria binary as a
federation broker.

Examples:
  emuctl federation start --federation-servers=fed1:4222 --collective-servers=c1:4222,c2:4222`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "start_federation", map[string]any{
				"federation_servers": sf.FederationServers,
				"collective_servers": sf.CollectiveServers,
				"name":               sf.Name,
				"tls":                sf.TLS,
			})
		},
	}
	start.Flags().StringVar(&sf.FederationServers, "federation-servers", "", "federation middleware hosts (required)")
	start.Flags().StringVar(&sf.CollectiveServers, "collective-servers", "", "collective middleware hosts (required)")
	start.Flags().StringVar(&sf.Name, "name", "", "federation cluster name (defaults to the identity)")
	start.Flags().BoolVar(&sf.TLS, "tls", false, "keep TLS enabled")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the federation broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), "stop_federation", nil)
		},
	}

	cmd.AddCommand(start, stop)
	return cmd
}

func createActionCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "action NAME [key=value ...]",
		Short: "Run a named agent action",
		Long: `Run any agent action with key=value arguments, the way a remote request
would arrive.

Examples:
  emuctl action start instances=5 monitor=8080 tls=true
  emuctl action status kind=nats`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parseKeyValues(args[1:])
			if err != nil {
				return err
			}
			return c.dispatch(cmd.Context(), cmd.OutOrStdout(), args[0], kv)
		},
	}
}
