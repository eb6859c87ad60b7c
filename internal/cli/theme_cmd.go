// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/theme"
)

func newThemeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Show or change the color theme",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active theme and where it comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			mode, source, err := app.Theme.Current(cmd.Context())
			if err != nil {
				return err
			}
			info := map[string]string{"mode": string(mode), "source": string(source)}
			if ok, err := opts.printJSON("theme show", info, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s%s %s\n", RenderLabel("Theme"), ValueStyle.Render(string(mode)),
				DimStyle.Render("("+string(source)+")"))
			if app.Config.UI.DarkMode != nil {
				fmt.Fprintln(opts.stdout, DimStyle.Render("ui.dark_mode in the config file overrides this for display."))
			}
			return nil
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Switch between light and dark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			mode, err := app.Theme.Toggle(cmd.Context())
			if err != nil {
				return err
			}
			return reportTheme(opts, "theme toggle", mode)
		},
	}

	set := &cobra.Command{
		Use:       "set <light|dark|system>",
		Short:     "Choose a theme, or follow the terminal with 'system'",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"light", "dark", "system"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch args[0] {
			case "light":
				err = app.Theme.Set(ctx, theme.Light)
			case "dark":
				err = app.Theme.Set(ctx, theme.Dark)
			case "system":
				err = app.Theme.Reset(ctx)
			default:
				return errors.Errorf("unknown theme %q (want light, dark or system)", args[0])
			}
			if err != nil {
				return err
			}
			mode, _, err := app.Theme.Current(ctx)
			if err != nil {
				return err
			}
			return reportTheme(opts, "theme set", mode)
		},
	}

	cmd.AddCommand(show, toggle, set)
	return cmd
}

func reportTheme(opts *rootOptions, command string, mode theme.Mode) error {
	ApplyTheme(mode == theme.Dark)
	if ok, err := opts.printJSON(command, map[string]string{"mode": string(mode)}, ""); ok {
		return err
	}
	fmt.Fprintf(opts.stdout, "%s Theme is now %s\n", SuccessStyle.Render("✓"), mode)
	return nil
}
