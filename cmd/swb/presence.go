package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/presence"
)

func newPresenceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Show the current presence state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPresenceShow(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func newAwayCmd() *cobra.Command {
	var configPath string
	var reason string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "away",
		Short: "Mark yourself away (opens the gate; agent messages get delivered)",
		Long:  "Marks the operator away. While away, agent notifications are delivered to chat and the bridge daemon ingests replies.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAway(cmd, configPath, reason, duration)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why you are stepping away")
	cmd.Flags().DurationVarP(&duration, "for", "d", 0, "auto-return after this duration (e.g. 2h30m)")
	return cmd
}

func newBackCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "back",
		Short: "Mark yourself present again (closes the gate)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBack(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func openGate(cfg *config.Config) (*presence.Gate, error) {
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	return presence.NewGate(presence.GateOpts{
		DB:          gormDB,
		DevOverride: cfg.Bridge.DevOverride,
	})
}

// postToDaemon tries the running bridge daemon's API so the presence
// transition drives the listener lifecycle in-process. Returns false
// when no daemon is reachable.
func postToDaemon(cfg *config.Config, path string, body any) bool {
	payload, err := json.Marshal(body)
	if err != nil {
		return false
	}
	url := fmt.Sprintf("http://localhost:%d%s", cfg.Bridge.APIPort, path)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func runPresenceShow(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gate, err := openGate(cfg)
	if err != nil {
		return err
	}
	row, err := gate.Current()
	if err != nil {
		return err
	}
	if row.Away(time.Now()) {
		fmt.Fprintf(out, "Away")
		if row.Reason != "" {
			fmt.Fprintf(out, " (%s)", row.Reason)
		}
		if row.ExpiresAt != nil {
			fmt.Fprintf(out, ", back by %s", row.ExpiresAt.Format(time.Kitchen))
		}
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, "Present")
	}
	return nil
}

func runAway(cmd *cobra.Command, configPath, reason string, duration time.Duration) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if postToDaemon(cfg, "/api/presence/enable", map[string]any{
		"reason":       reason,
		"duration_min": int(duration.Minutes()),
	}) {
		fmt.Fprintln(out, "Marked away. Agent notifications are now delivered.")
		return nil
	}

	// No daemon running: write the store directly. The daemon picks the
	// state up at boot.
	gate, err := openGate(cfg)
	if err != nil {
		return err
	}
	if _, err := gate.Enable(reason, duration); err != nil {
		return err
	}
	fmt.Fprintln(out, "Marked away (bridge daemon not running; start it to ingest replies).")
	return nil
}

func runBack(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if postToDaemon(cfg, "/api/presence/disable", map[string]any{}) {
		fmt.Fprintln(out, "Welcome back. Agent notifications are suppressed again.")
		return nil
	}

	gate, err := openGate(cfg)
	if err != nil {
		return err
	}
	wasAway, err := gate.Disable()
	if err != nil {
		return err
	}
	if wasAway {
		fmt.Fprintln(out, "Welcome back. Agent notifications are suppressed again.")
	} else {
		fmt.Fprintln(out, "You were already present.")
	}
	return nil
}
