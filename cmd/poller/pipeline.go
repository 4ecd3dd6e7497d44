package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"frame-poller/internal/agent/version"
	"frame-poller/internal/config"
	"frame-poller/internal/poll"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Start, stop or list server pipelines",
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a pipeline on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		msg, err := ctl.StartPipeline(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var pipelineStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a pipeline on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		msg, err := ctl.StopPipeline(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines known to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		pipelines, err := ctl.ListPipelines(ctx)
		if err != nil {
			return err
		}
		if len(pipelines) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pipelines found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS")
		fmt.Fprintln(w, "--\t------")
		for _, p := range pipelines {
			fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Status)
		}
		return w.Flush()
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the server identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		info, err := ctl.Whoami(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var pipelineConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the server's pipeline configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		nodes, err := ctl.PipelineConfig(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, nodes)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query server stats",
}

var statsWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the server identity",
	RunE:  whoamiCmd.RunE,
}

var statsSysinfoCmd = &cobra.Command{
	Use:   "sysinfo",
	Short: "Print the server host memory, CPU and disk report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		info, err := ctl.Sysinfo(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var recordingCmd = &cobra.Command{
	Use:       "recording <start|stop>",
	Short:     "Start or stop recording on the server",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"start", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := poll.ParseRecordingCommand(args[0])
		if err != nil {
			return err
		}
		ctx, ctl, closeFn, err := newControl(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := ctl.Recording(ctx, command); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recording %s\n", strings.ToLower(string(command)))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and effective configuration summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(opts.ConfigPath)
		if err != nil {
			return err
		}
		return printJSON(cmd, version.Get(cfg))
	},
}

func init() {
	pipelineCmd.AddCommand(pipelineStartCmd, pipelineStopCmd, pipelineListCmd, pipelineConfigCmd)
	statsCmd.AddCommand(statsWhoamiCmd, statsSysinfoCmd)
	rootCmd.AddCommand(pipelineCmd, statsCmd, recordingCmd, whoamiCmd, versionCmd)
}

// newControl builds a control client and the context its calls run under.
// The shared HTTP client has no timeout of its own, so --timeout bounds
// each command here; zero leaves it unbounded.
func newControl(cmd *cobra.Command) (context.Context, *poll.Control, func(), error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tls config: %w", err)
	}
	client := poll.NewClient(poll.NewHTTPClient(tlsCfg), nil, poll.WithUserAgent("frame-poller/"+cfg.AgentVersion))

	ctx, cancel := cmd.Context(), context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	closeFn := func() {
		cancel()
		client.Close()
	}
	return ctx, client.Control(cfg.BaseURL()), closeFn, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
