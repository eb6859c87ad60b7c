// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the structured logger shared by all components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Formats accepted by Options.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Format string

	// File, when set, receives log output instead of Output.
	File string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger from opts. The returned closer releases the log file,
// if one was opened, and is never nil.
func New(opts Options) (zerolog.Logger, func() error, error) {
	closer := func() error { return nil }

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return zerolog.Nop(), closer, errors.Wrap(err, "failed to open log file")
		}
		out = f
		closer = f.Close
	}

	if strings.EqualFold(opts.Format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
