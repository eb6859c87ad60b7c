// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/api"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var email, password string
	var remember bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend",
		Example: `  finchat login
  finchat login --email ann@example.com --remember
  FINCHAT_PASSWORD=secret finchat login --email ann@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if email, err = promptValue(email, "Email", false); err != nil {
				return err
			}
			if password, err = promptPassword(password, "Password"); err != nil {
				return err
			}

			res, err := app.Session.Login(cmd.Context(), api.Credentials{
				Email:      email,
				Password:   password,
				RememberMe: remember,
			})
			if err != nil {
				return networkError("login", err)
			}
			if ok, err := opts.printJSON("login", res.Data.User, res.Error); ok {
				return err
			}
			if !res.Success {
				return resultError("login failed", res.Error, res.Status)
			}
			fmt.Fprintf(opts.stdout, "%s Signed in as %s\n", SuccessStyle.Render("✓"), res.Data.User.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prefer FINCHAT_PASSWORD or the prompt)")
	cmd.Flags().BoolVar(&remember, "remember", false, "Ask for a long-lived session")
	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if err := app.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			if ok, err := opts.printJSON("logout", nil, ""); ok {
				return err
			}
			fmt.Fprintln(opts.stdout, "Signed out.")
			return nil
		},
	}
}

func newRegisterCommand(opts *rootOptions) *cobra.Command {
	var reg api.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if reg.Email, err = promptValue(reg.Email, "Email", false); err != nil {
				return err
			}
			if reg.Name, err = promptValue(reg.Name, "Name", false); err != nil {
				return err
			}
			if reg.Password, err = promptPassword(reg.Password, "Password"); err != nil {
				return err
			}
			if reg.ConfirmPassword == "" {
				reg.ConfirmPassword = reg.Password
				if IsTTY() {
					if reg.ConfirmPassword, err = promptValue("", "Confirm password", true); err != nil {
						return err
					}
				}
			}

			res, err := app.Session.Register(cmd.Context(), reg)
			if err != nil {
				return networkError("register", err)
			}
			if ok, err := opts.printJSON("register", res.Data, res.Error); ok {
				return err
			}
			if !res.Success {
				return resultError("registration failed", res.Error, res.Status)
			}
			msg := res.Data.Message
			if msg == "" {
				msg = "Account created."
			}
			fmt.Fprintf(opts.stdout, "%s %s Run 'finchat login' to sign in.\n", SuccessStyle.Render("✓"), msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&reg.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&reg.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&reg.Password, "password", "", "Password")
	cmd.Flags().StringVar(&reg.ConfirmPassword, "confirm-password", "", "Password confirmation")
	return cmd
}

func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if err := app.Session.Initialize(cmd.Context()); err != nil {
				return err
			}
			user := app.Session.User()
			if user == nil {
				if ok, err := opts.printJSON("whoami", nil, "not signed in"); ok {
					return err
				}
				return authError("not signed in; run 'finchat login'")
			}
			if ok, err := opts.printJSON("whoami", user, ""); ok {
				return err
			}
			printUser(opts, user)
			return nil
		},
	}
}

func printUser(opts *rootOptions, u *api.User) {
	fmt.Fprintln(opts.stdout, TitleStyle.Render(u.Name))
	fmt.Fprintf(opts.stdout, "%s%s\n", RenderLabel("Email"), ValueStyle.Render(u.Email))
	verified := "no"
	if u.EmailVerified {
		verified = "yes"
	}
	fmt.Fprintf(opts.stdout, "%s%s\n", RenderLabel("Verified"), verified)
	if !u.CreatedAt.IsZero() {
		fmt.Fprintf(opts.stdout, "%s%s\n", RenderLabel("Member since"), u.CreatedAt.Format("2006-01-02"))
	}
	if !u.LastLoginAt.IsZero() {
		fmt.Fprintf(opts.stdout, "%s%s\n", RenderLabel("Last login"), u.LastLoginAt.Format("2006-01-02 15:04"))
	}
}

// =============================================================================
// PASSWORD
// =============================================================================

func newPasswordCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Recover or change your password",
	}

	var email string
	forgot := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if email, err = promptValue(email, "Email", false); err != nil {
				return err
			}
			return reportMessage(cmd.Context(), opts, "password forgot", func(ctx context.Context) (api.Result[api.MessageData], error) {
				return app.API.ForgotPassword(ctx, email)
			})
		},
	}
	forgot.Flags().StringVar(&email, "email", "", "Account email")

	var token, newPassword string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with a reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if token, err = promptValue(token, "Reset token", false); err != nil {
				return err
			}
			if newPassword, err = promptPassword(newPassword, "New password"); err != nil {
				return err
			}
			return reportMessage(cmd.Context(), opts, "password reset", func(ctx context.Context) (api.Result[api.MessageData], error) {
				return app.API.ResetPassword(ctx, token, newPassword, newPassword)
			})
		},
	}
	reset.Flags().StringVar(&token, "token", "", "Reset token from the email")
	reset.Flags().StringVar(&newPassword, "password", "", "New password")

	var current, next string
	change := &cobra.Command{
		Use:   "change",
		Short: "Change the password of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if current, err = promptValue(current, "Current password", true); err != nil {
				return err
			}
			if next, err = promptValue(next, "New password", true); err != nil {
				return err
			}
			return reportMessage(cmd.Context(), opts, "password change", func(ctx context.Context) (api.Result[api.MessageData], error) {
				return app.API.ChangePassword(ctx, current, next, next)
			})
		},
	}
	change.Flags().StringVar(&current, "current", "", "Current password")
	change.Flags().StringVar(&next, "new", "", "New password")

	cmd.AddCommand(forgot, reset, change)
	return cmd
}

func reportMessage(ctx context.Context, opts *rootOptions, command string, fn func(context.Context) (api.Result[api.MessageData], error)) error {
	res, err := fn(ctx)
	if err != nil {
		return networkError(command, err)
	}
	if ok, err := opts.printJSON(command, res.Data, res.Error); ok {
		return err
	}
	if !res.Success {
		return resultError(command+" failed", res.Error, res.Status)
	}
	msg := res.Data.Message
	if msg == "" {
		msg = "Done."
	}
	fmt.Fprintf(opts.stdout, "%s %s\n", SuccessStyle.Render("✓"), msg)
	return nil
}
