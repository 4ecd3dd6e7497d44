package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"frame-poller/internal/agent"
	"frame-poller/internal/config"
)

var (
	cameras        []int
	streamingTopic string
)

var inferenceCmd = &cobra.Command{
	Use:   "inference",
	Short: "Poll the inference image and result endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd, func(c *config.Config) {
			c.Mode = config.ModeInference
		})
	},
}

var streamingCmd = &cobra.Command{
	Use:   "streaming",
	Short: "Poll one streaming image endpoint per camera",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd, func(c *config.Config) {
			c.Mode = config.ModeStreaming
			if cmd.Flags().Changed("cameras") {
				c.Cameras = cameras
			}
			if cmd.Flags().Changed("topic") {
				c.StreamingTopic = streamingTopic
			}
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the channels described by the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd, nil)
	},
}

func init() {
	streamingCmd.Flags().IntSliceVar(&cameras, "cameras", nil, "Camera ids to poll (default: 0)")
	streamingCmd.Flags().StringVar(&streamingTopic, "topic", config.DefaultStreamingTopic, "Topic template; {id} is replaced by the camera id")
	rootCmd.AddCommand(inferenceCmd, streamingCmd, runCmd)
}

func runAgent(cmd *cobra.Command, mutate func(*config.Config)) error {
	cfg, err := loadConfig(cmd, mutate)
	if err != nil {
		return err
	}
	logger, err := agent.BuildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := agent.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", zap.Error(err))
		return err
	}
	if err := a.Run(context.Background()); err != nil {
		logger.Error("agent runtime failed", zap.Error(err))
		return err
	}
	return nil
}
