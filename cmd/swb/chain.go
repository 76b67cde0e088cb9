package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zulandar/switchboard/internal/chain"
	"github.com/zulandar/switchboard/internal/correlate"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/topic"
)

// chainFile is the on-disk format for swb chain run: an ordered step
// list plus the initial context.
type chainFile struct {
	Steps   []chain.Step   `yaml:"steps"`
	Context map[string]any `yaml:"context"`
}

func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Run multi-step command chains",
	}

	cmd.AddCommand(newChainRunCmd())
	return cmd
}

func newChainRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <chain-file>",
		Short: "Execute a chain definition from a YAML file",
		Long:  "Runs the steps in order against a shared context and prints the final context. A failing step stops the chain; completed steps' effects stand.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainRun(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runChainRun(cmd *cobra.Command, configPath, chainPath string) error {
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(chainPath)
	if err != nil {
		return fmt.Errorf("read chain file: %w", err)
	}
	var cf chainFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse chain file: %w", err)
	}
	if len(cf.Steps) == 0 {
		return fmt.Errorf("chain file has no steps")
	}

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
	engine, err := chain.NewEngine(chain.EngineOpts{
		Gate:       gate,
		Client:     client,
		Correlator: correlator,
		Channel:    cfg.Channel,
	})
	if err != nil {
		return err
	}

	result, runErr := engine.Run(cmd.Context(), cf.Steps, cf.Context)

	rendered, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		rendered = []byte(fmt.Sprintf("%v", result))
	}

	if runErr != nil {
		var stepErr *chain.StepError
		if errors.As(runErr, &stepErr) {
			fmt.Fprintf(out, "Chain failed at step %d (%s): %v\n", stepErr.Index, stepErr.Kind, stepErr.Err)
		}
		fmt.Fprintf(out, "Partial context:\n%s\n", rendered)
		return runErr
	}

	fmt.Fprintf(out, "Chain completed (%d steps)\nFinal context:\n%s\n", len(cf.Steps), rendered)
	return nil
}
