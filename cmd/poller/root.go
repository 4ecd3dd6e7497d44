package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"frame-poller/internal/config"
)

// Options holds the persistent flags shared by every subcommand. Zero
// values leave the config file and environment in charge.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Sinks      []string
	LogLevel   string
	LogJSON    bool
	Timeout    time.Duration
}

const defaultControlTimeout = 10 * time.Second

var opts Options

var rootCmd = &cobra.Command{
	Use:           "frame-poller",
	Short:         "Long-poll an inference server and record frames and results",
	Version:       config.HardcodedVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to a YAML config file (default: $POLLER_CONFIG)")
	pf.StringVar(&opts.Host, "host", "", "Server host or base URL (default: 0.0.0.0)")
	pf.IntVar(&opts.Port, "port", 0, "Server port (default: 3000)")
	pf.StringSliceVar(&opts.Sinks, "sink", nil, "Sinks to record to: log, memory, grpc, websocket, kafka, mqtt, influx, minio, redis")
	pf.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&opts.LogJSON, "log-json", false, "Emit JSON logs")
	pf.DurationVar(&opts.Timeout, "timeout", defaultControlTimeout, "Deadline for pipeline, stats and recording calls; 0 disables")
}

// loadConfig reads file and environment, applies flags and mutate, then
// validates the result.
func loadConfig(cmd *cobra.Command, mutate func(*config.Config)) (config.Config, error) {
	cfg, err := config.Read(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = opts.Host
	}
	if flags.Changed("port") {
		cfg.Port = opts.Port
	}
	if flags.Changed("sink") {
		cfg.Sinks = opts.Sinks
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = opts.LogJSON
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
