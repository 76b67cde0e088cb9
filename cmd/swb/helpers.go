package main

import (
	"fmt"
	"os"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/identity"
	"github.com/zulandar/switchboard/internal/transport"
	"gorm.io/gorm"
)

const defaultConfigPath = "switchboard.yaml"

// loadConfigAndDB loads the config file and opens the store.
func loadConfigAndDB(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// identityContext builds the identity context from config credentials.
func identityContext(cfg *config.Config, gormDB *gorm.DB) (*identity.Context, error) {
	return identity.NewContext(identity.ContextOpts{
		Operator: identity.Credential{
			Email:  cfg.Identities.Operator.Email,
			APIKey: cfg.Identities.Operator.APIKey,
		},
		Agent: identity.Credential{
			Email:  cfg.Identities.Agent.Email,
			APIKey: cfg.Identities.Agent.APIKey,
		},
		DB: gormDB,
	})
}

// mustGetwd returns the working directory, or "" when it cannot be
// determined (the topic package substitutes its sentinel project).
func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

// agentClient builds an HTTP transport client for the agent identity.
func agentClient(cfg *config.Config, ids *identity.Context) (transport.Client, error) {
	cred, err := ids.Credential(identity.Agent)
	if err != nil {
		return nil, err
	}
	return transport.NewHTTPClient(transport.HTTPClientOpts{
		BaseURL: cfg.Site,
		Email:   cred.Email,
		APIKey:  cred.APIKey,
	})
}
