package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/status"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and acknowledge ingested chat events",
	}

	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsAckCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unacknowledged inbound events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsList(cmd, configPath, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max events to show")
	return cmd
}

func newEventsAckCmd() *cobra.Command {
	var configPath string
	var all bool

	cmd := &cobra.Command{
		Use:   "ack [event-id...]",
		Short: "Acknowledge inbound events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsAck(cmd, configPath, args, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().BoolVar(&all, "all", false, "acknowledge every unacked event")
	return cmd
}

func runEventsList(cmd *cobra.Command, configPath string, limit int) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	rows, err := status.Inbox(gormDB, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No unacknowledged events")
		return nil
	}
	for _, row := range rows {
		fmt.Fprintf(out, "[%d] %s %s (%s): %s\n",
			row.ID, row.CreatedAt.Format("Jan 2 15:04"), row.Sender, row.Topic, row.Content)
	}
	return nil
}

func runEventsAck(cmd *cobra.Command, configPath string, args []string, all bool) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}

	if all {
		n, err := status.AcknowledgeAll(gormDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Acknowledged %d event(s)\n", n)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("give event IDs or --all")
	}
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("bad event ID %q", arg)
		}
		if err := status.Acknowledge(gormDB, uint(id)); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Acknowledged %d event(s)\n", len(args))
	return nil
}
