package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/emuctl/internal/controller"
	"github.com/loykin/emuctl/internal/process"
	"github.com/loykin/emuctl/pkg/client"
)

func (f *RemoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "status server URL (e.g. http://host:9281/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.APICA, "api-ca", "", "CA bundle for an https status server")
	cmd.Flags().BoolVar(&f.APIInsecure, "api-insecure", false, "skip certificate verification")
}

func (f *RemoteFlags) client() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:            f.APIUrl,
		Timeout:            f.APITimeout,
		CAFile:             f.APICA,
		InsecureSkipVerify: f.APIInsecure,
	})
}

func createStatusCommand(c command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of one or all kinds",
		Long: `Show what is staged and running. Without --kind every kind is reported at
its default port. With --api-url the status is read from a running
'emuctl serve' instead of probing locally.

Examples:
  emuctl status
  emuctl status --kind=emulator --port=8081
  emuctl status --api-url=http://host:9281/api`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if f.APIUrl != "" {
				cl, err := f.client()
				if err != nil {
					return err
				}
				if f.Kind == "" {
					sts, err := cl.StatusAll(ctx)
					if err != nil {
						return err
					}
					printJSON(out, sts)
					return nil
				}
				st, err := cl.Status(ctx, f.Kind, f.Port)
				if err != nil {
					return err
				}
				printJSON(out, st)
				return nil
			}

			if f.Kind != "" {
				if _, err := process.ParseKind(f.Kind); err != nil {
					return err
				}
				return c.dispatch(ctx, out, "status", map[string]any{"kind": f.Kind, "port": f.Port})
			}
			return c.withApp(func(a *app) error {
				sts := make([]controller.Status, 0, len(process.Kinds()))
				for _, k := range process.Kinds() {
					st, err := a.ctl.Status(ctx, k, 0)
					if err != nil {
						return err
					}
					sts = append(sts, st)
				}
				printJSON(out, sts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "emulator, nats or federation (default all)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "health endpoint port")
	f.bind(cmd)
	return cmd
}

func createHistoryCommand(c command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent lifecycle events",
		Long: `List recent download, start and stop events from the configured SQL
history sink, or from a running 'emuctl serve' with --api-url.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if f.APIUrl != "" {
				cl, err := f.client()
				if err != nil {
					return err
				}
				evs, err := cl.History(ctx, f.Limit)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), evs)
				return nil
			}
			return c.withApp(func(a *app) error {
				if a.hist == nil {
					return fmt.Errorf("history is not enabled or its sink cannot be queried")
				}
				evs, err := a.hist.Recent(ctx, f.Limit)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), evs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	f.bind(cmd)
	return cmd
}
