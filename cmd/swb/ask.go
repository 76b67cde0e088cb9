package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/correlate"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/topic"
)

func newAskCmd() *cobra.Command {
	var configPath string
	var agentID string
	var options []string
	var contextNote string
	var timeout time.Duration
	var noWait bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the operator a question and wait for the reply",
		Long:  "Records an input request, posts it to the input topic when the gate allows delivery, and blocks until a reply arrives or the timeout passes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, configPath, agentID, args[0], options, contextNote, timeout, noWait)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "agent", "asking agent's ID")
	cmd.Flags().StringSliceVarP(&options, "option", "o", nil, "allowed answer (repeatable)")
	cmd.Flags().StringVar(&contextNote, "context", "", "extra context shown with the question")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Minute, "how long to wait for a reply")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "record and post the question, print the request ID, and exit")
	return cmd
}

func runAsk(cmd *cobra.Command, configPath, agentID, question string, options []string, contextNote string, timeout time.Duration, noWait bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := loadConfigAndDB(configPath)
	if err != nil {
		return err
	}
	ids, err := identityContext(cfg, gormDB)
	if err != nil {
		return err
	}
	client, err := agentClient(cfg, ids)
	if err != nil {
		return err
	}
	gate, err := presence.NewGate(presence.GateOpts{
		DB:          gormDB,
		DevOverride: cfg.Bridge.DevOverride,
	})
	if err != nil {
		return err
	}

	correlator, err := correlate.New(correlate.CorrelatorOpts{
		DB:      gormDB,
		Gate:    gate,
		Client:  client,
		Channel: cfg.Channel,
		Project: topic.ProjectFromPath(mustGetwd()),
	})
	if err != nil {
		return err
	}

	result, err := correlator.Ask(cmd.Context(), agentID, question, options, contextNote)
	if err != nil {
		return err
	}
	if result.Delivered {
		fmt.Fprintf(out, "Asked (request %s)\n", result.RequestID)
	} else {
		fmt.Fprintf(out, "Recorded %s (delivery skipped, operator is present)\n", result.RequestID)
	}

	if noWait {
		return nil
	}

	waitResult, err := correlator.Wait(cmd.Context(), result.RequestID, timeout)
	if err != nil {
		return err
	}
	switch waitResult.Status {
	case "answered":
		fmt.Fprintf(out, "Answer: %s\n", waitResult.Answer)
	case "timed_out":
		fmt.Fprintf(out, "No reply within %s (request %s timed out)\n", timeout, result.RequestID)
	default:
		fmt.Fprintf(out, "Request %s ended %s\n", result.RequestID, waitResult.Status)
	}
	return nil
}
