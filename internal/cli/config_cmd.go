// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			if ok, err := opts.printJSON("config show", cfg, ""); ok {
				return err
			}
			fmt.Fprint(opts.stdout, cfg.String())
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.configFile()
			if err != nil {
				return err
			}
			if ok, err := opts.printJSON("config path", map[string]string{"path": p}, ""); ok {
				return err
			}
			fmt.Fprintln(opts.stdout, p)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(p); err == nil && !force {
				return errors.Errorf("%s already exists (use --force to overwrite)", p)
			}
			if err := config.SaveTOML(config.Default(), p); err != nil {
				return err
			}
			if ok, err := opts.printJSON("config init", map[string]string{"path": p}, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s Wrote %s\n", SuccessStyle.Render("✓"), p)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	get := &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one setting",
		Example: "  finchat config get connection.wire_format",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			if ok, err := opts.printJSON("config get", map[string]any{"key": args[0], "value": v}, ""); ok {
				return err
			}
			if v == nil {
				fmt.Fprintln(opts.stdout, DimStyle.Render("(unset)"))
				return nil
			}
			fmt.Fprintln(opts.stdout, v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one setting in the config file",
		Example: "  finchat config set server.base_url https://bocai.example.com",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.configFile()
			if err != nil {
				return err
			}
			if strings.EqualFold(filepath.Ext(p), ".json") {
				return errors.Errorf("%s is JSON; config set only edits TOML files", p)
			}
			cfg := config.Default()
			if _, statErr := os.Stat(p); statErr == nil {
				if cfg, err = config.ReadFile(p); err != nil {
					return &ExitError{Code: ExitConfigError, Err: err}
				}
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			if err := config.SaveTOML(cfg, p); err != nil {
				return err
			}
			if ok, err := opts.printJSON("config set", map[string]string{"key": args[0], "value": args[1]}, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s %s = %s\n", SuccessStyle.Render("✓"), args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(show, path, initCmd, get, set)
	return cmd
}

// configFile is the file config commands read and write.
func (o *rootOptions) configFile() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.ConfigPathTOML()
}
