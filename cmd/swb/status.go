package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/status"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report and review agent status",
	}

	cmd.AddCommand(newStatusShowCmd())
	cmd.AddCommand(newStatusReportCmd())
	return cmd
}

func newStatusShowCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show an agent's recent status entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusShow(cmd, configPath, args[0], limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max entries to show")
	return cmd
}

func newStatusReportCmd() *cobra.Command {
	var configPath string
	var agentType string
	var message string

	cmd := &cobra.Command{
		Use:   "report <agent-id> <status>",
		Short: "Append a status entry for an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusReport(cmd, configPath, args[0], agentType, args[1], message)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&agentType, "type", "agent", "agent type label")
	cmd.Flags().StringVarP(&message, "message", "m", "", "free-form detail")
	return cmd
}

func runStatusShow(cmd *cobra.Command, configPath, agentID string, limit int) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	rows, err := status.Recent(gormDB, agentID, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "No status entries for %s\n", agentID)
		return nil
	}
	for _, row := range rows {
		line := fmt.Sprintf("%s  %-12s", row.CreatedAt.Format("Jan 2 15:04"), row.Status)
		if row.Message != "" {
			line += "  " + row.Message
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runStatusReport(cmd *cobra.Command, configPath, agentID, agentType, statusLabel, message string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	row, err := status.Report(gormDB, agentID, agentType, statusLabel, message)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Recorded status %q for %s (entry %d)\n", row.Status, row.AgentID, row.ID)
	return nil
}

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Track long-running agent tasks",
	}

	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskStartCmd())
	cmd.AddCommand(newTaskCompleteCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var configPath string
	var agentID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd, configPath, agentID, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "filter by agent ID")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max tasks to show")
	return cmd
}

func newTaskStartCmd() *cobra.Command {
	var configPath string
	var description string

	cmd := &cobra.Command{
		Use:   "start <agent-id> <name>",
		Short: "Start tracking a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskStart(cmd, configPath, args[0], args[1], description)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVarP(&description, "description", "d", "", "what the task does")
	return cmd
}

func newTaskCompleteCmd() *cobra.Command {
	var configPath string
	var failed bool

	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task completed (or failed with --failed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskComplete(cmd, configPath, args[0], failed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the task failed instead of completed")
	return cmd
}

func runTaskList(cmd *cobra.Command, configPath, agentID string, limit int) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	tasks, err := status.Tasks(gormDB, agentID, limit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks")
		return nil
	}
	for _, task := range tasks {
		marker := " "
		switch task.Status {
		case models.TaskCompleted:
			marker = "+"
		case models.TaskFailed:
			marker = "x"
		}
		fmt.Fprintf(out, "%s %s  %-10s %3d%%  %s (%s)\n",
			marker, task.ID, task.Status, task.Progress, task.Name, task.AgentID)
	}
	return nil
}

func runTaskStart(cmd *cobra.Command, configPath, agentID, name, description string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	task, err := status.StartTask(gormDB, agentID, name, description)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Started task %s (%s)\n", task.ID, task.Name)
	return nil
}

func runTaskComplete(cmd *cobra.Command, configPath, taskID string, failed bool) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	if err := status.CompleteTask(gormDB, taskID, !failed, nil); err != nil {
		return err
	}
	if failed {
		fmt.Fprintf(out, "Task %s marked failed\n", taskID)
	} else {
		fmt.Fprintf(out, "Task %s completed\n", taskID)
	}
	return nil
}
