package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/zulandar/switchboard/internal/config"
)

func newInitCmd() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a Switchboard config file interactively",
		Long:  "Prompts for the chat server, channel, and credentials, and writes the config file. API keys are read without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to write the config file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, configPath string, force bool) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	prompt := func(label, fallback string) (string, error) {
		if fallback != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, fallback)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return fallback, nil
		}
		return line, nil
	}

	site, err := prompt("Chat server URL", "")
	if err != nil {
		return err
	}
	channel, err := prompt("Bridge channel", "agents")
	if err != nil {
		return err
	}
	agentEmail, err := prompt("Agent bot email", "")
	if err != nil {
		return err
	}
	agentKey, err := promptSecret(out, reader, "Agent bot API key")
	if err != nil {
		return err
	}
	operatorEmail, err := prompt("Operator email (optional)", "")
	if err != nil {
		return err
	}
	var operatorKey string
	if operatorEmail != "" {
		operatorKey, err = promptSecret(out, reader, "Operator API key")
		if err != nil {
			return err
		}
	}

	cfg := config.Config{
		Site:    site,
		Channel: channel,
		Identities: config.IdentitiesConfig{
			Agent:    config.CredentialConfig{Email: agentEmail, APIKey: agentKey},
			Operator: config.CredentialConfig{Email: operatorEmail, APIKey: operatorKey},
		},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", configPath)
	fmt.Fprintf(out, "Next: swb db migrate && swb bridge start\n")
	return nil
}

// promptSecret reads a value without echoing it to the terminal. Falls
// back to plain reads when stdin is not a terminal (tests, pipes).
func promptSecret(out interface{ Write([]byte) (int, error) }, reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}
