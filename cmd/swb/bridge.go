package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/bridge"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/topic"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the bridge daemon",
	}

	cmd.AddCommand(newBridgeStartCmd())
	return cmd
}

func newBridgeStartCmd() *cobra.Command {
	var configPath string
	var project string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge daemon (listener, expiry, digests, API)",
		Long:  "Runs the long-lived bridge process. The presence gate drives the event listener, scheduled away periods auto-return, digests post on the configured cron, and the operational API serves local tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridgeStart(cmd, configPath, project)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVarP(&project, "project", "p", "", "project label for topics (defaults to the working directory name)")
	return cmd
}

func runBridgeStart(cmd *cobra.Command, configPath, project string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	ids, err := identityContext(cfg, gormDB)
	if err != nil {
		return err
	}

	if project == "" {
		project = topic.ProjectFromPath(mustGetwd())
	}

	daemon, err := bridge.NewDaemon(bridge.DaemonOpts{
		DB:      gormDB,
		Config:  cfg,
		IDs:     ids,
		Project: project,
		Out:     out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return daemon.Run(ctx)
}
