// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the finchat command-line front end.
//
// Commands:
//
//	finchat chat                     Interactive streaming chat
//	finchat login | logout | register | whoami
//	finchat password forgot|reset|change
//	finchat docs list|upload|delete  Document store
//	finchat conversations list|new|select|export
//	finchat theme show|toggle|set
//	finchat config show|path|init|get|set
//	finchat version
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/api"
	"github.com/morganforge/finchat/internal/auth"
	"github.com/morganforge/finchat/internal/config"
	"github.com/morganforge/finchat/internal/localstore"
	"github.com/morganforge/finchat/internal/logging"
	"github.com/morganforge/finchat/internal/theme"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func authError(msg string) error {
	return &ExitError{Code: ExitAuthError, Err: errors.New(msg)}
}

// =============================================================================
// APPLICATION
// =============================================================================

// App holds the services shared by all commands.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
	KV         localstore.Store
	API        *api.Client
	Session    *auth.Session
	Theme      *theme.Preference

	closeLog func() error
}

// Close releases the store and the log file.
func (a *App) Close() {
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close local store")
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// rootOptions are the persistent flags plus the lazily built App.
type rootOptions struct {
	configPath string
	jsonOut    bool
	logLevel   string

	stdout io.Writer
	stderr io.Writer

	app *App
}

// App builds the application on first use.
func (o *rootOptions) App() (*App, error) {
	if o.app != nil {
		return o.app, nil
	}

	cfg, path, err := o.loadConfig()
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: o.stderr,
	})
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}

	storePath, err := cfg.StoragePath()
	if err != nil {
		closeLog()
		return nil, err
	}
	kv, err := localstore.Open(cfg.Storage.Backend, storePath)
	if err != nil {
		closeLog()
		return nil, errors.Wrap(err, "open local store")
	}

	tokens := api.NewTokenManager(kv, logger)
	client := api.NewClient(api.Options{
		BaseURL:           cfg.Server.BaseURL,
		Timeout:           cfg.Server.RequestTimeout(),
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Logger:            logger,
	}, tokens)

	stderr := o.stderr
	session := auth.NewSession(client, func() {
		fmt.Fprintln(stderr, WarningStyle.Render("Session expired. Run 'finchat login' to sign in again."))
	}, logger)

	pref := theme.NewPreference(kv)
	if cfg.UI.DarkMode != nil {
		ApplyTheme(*cfg.UI.DarkMode)
	} else {
		ApplyTheme(pref.IsDark(context.Background()))
	}

	o.app = &App{
		Config:     cfg,
		ConfigPath: path,
		Logger:     logger,
		KV:         kv,
		API:        client,
		Session:    session,
		Theme:      pref,
		closeLog:   closeLog,
	}
	return o.app, nil
}

func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	if o.configPath != "" {
		cfg, err := config.LoadFromPath(o.configPath)
		return cfg, o.configPath, err
	}

	path, _ := config.ConfigPathTOML()
	cfg, err := config.Load()
	if cfg == nil {
		return nil, path, err
	}
	if err != nil {
		fmt.Fprintf(o.stderr, "%s %v (using defaults)\n", WarningStyle.Render("Warning:"), err)
	}
	return cfg, path, nil
}

func (o *rootOptions) close() {
	if o.app != nil {
		o.app.Close()
		o.app = nil
	}
}

// printJSON writes a JSON envelope when --json is set and reports whether it
// did. A non-empty failure is also returned as the command error.
func (o *rootOptions) printJSON(command string, data any, failure string) (bool, error) {
	if !o.jsonOut {
		return false, nil
	}
	if failure == "" {
		return true, NewJSONResponse(command, data).Write(o.stdout)
	}
	if err := NewJSONErrorResponse(command, failure).Write(o.stdout); err != nil {
		return true, err
	}
	return true, errors.New(failure)
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "finchat",
		Short: "Terminal client for the BOCAI financial assistant",
		Long: `finchat talks to the BOCAI financial assistant backend.

It streams answers over a self-healing WebSocket connection, keeps your
conversations on disk, and manages your account and uploaded documents.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.close()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.finchat/config.toml)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print machine-readable JSON")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newChatCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newRegisterCommand(opts),
		newWhoamiCommand(opts),
		newPasswordCommand(opts),
		newDocsCommand(opts),
		newConversationsCommand(opts),
		newThemeCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(opts),
	)

	return root
}

// Execute runs the command line and exits with the matching code.
func Execute() {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		code := ExitGeneralError
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		os.Exit(code)
	}
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{"version": Version, "commit": GitCommit, "built": BuildDate}
			if ok, err := opts.printJSON("version", info, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "finchat %s\n", Version)
			fmt.Fprintf(opts.stdout, "%s%s\n", RenderLabel("Commit"), GitCommit)
			fmt.Fprintf(opts.stdout, "%s%s\n", RenderLabel("Built"), BuildDate)
			return nil
		},
	}
}

// resultError turns a failed REST result into a command error.
func resultError(action, msg string, status int) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "request failed"
	}
	err := errors.Errorf("%s: %s", action, msg)
	if status == 401 || status == 403 {
		return &ExitError{Code: ExitAuthError, Err: err}
	}
	return err
}

// networkError marks unexpected transport faults.
func networkError(action string, err error) error {
	return &ExitError{Code: ExitNetworkError, Err: errors.Wrap(err, action)}
}
