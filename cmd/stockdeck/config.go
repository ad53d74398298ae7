package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/waabox/stockdeck/internal/apiclient"
	"github.com/waabox/stockdeck/internal/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective settings to the config file",
		Long: `Write the effective settings, defaults included, to the config file.

Flags and STOCKDECK_* environment variables given on this run are written too,
so 'stockdeck --base-url https://erp.example.com/api/ config init' pins the backend.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(a.configPath, a.effectiveConfig()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Config written to %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as TOML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return toml.NewEncoder(a.out).Encode(a.effectiveConfig())
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

// effectiveConfig returns the loaded configuration with every default filled in.
func (a *app) effectiveConfig() config.Config {
	cfg := a.cfg
	cfg.API.BaseURL = cfg.BaseURLOrDefault()
	cfg.API.TimeoutSeconds = int(cfg.TimeoutOrDefault() / time.Second)
	if cfg.API.CSRF.Cookie == "" {
		cfg.API.CSRF.Cookie = apiclient.DefaultCSRFCookie
	}
	if cfg.API.CSRF.Header == "" {
		cfg.API.CSRF.Header = apiclient.DefaultCSRFHeader
	}
	ep := a.client.Endpoints()
	cfg.API.Endpoints = config.EndpointsConfig{
		Login:   ep.Login,
		Refresh: ep.Refresh,
		Logout:  ep.Logout,
		Me:      ep.Me,
		Profile: ep.Profile,
		Avatar:  ep.Avatar,
	}
	cfg.Session.Path = cfg.SessionPathOrDefault()
	cfg.Log.Level = cfg.LogLevelOrDefault()
	cfg.PageSize = cfg.PageSizeOrDefault()
	return cfg
}
