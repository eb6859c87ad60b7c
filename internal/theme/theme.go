// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package theme stores the light/dark preference.
//
// An explicit choice is persisted under the darkMode key. Without one, the
// terminal background decides.
package theme

import (
	"context"
	"strconv"

	"github.com/muesli/termenv"
	"github.com/pkg/errors"

	"github.com/morganforge/finchat/internal/localstore"
)

// Mode is a resolved theme.
type Mode string

const (
	Light Mode = "light"
	Dark  Mode = "dark"
)

// Source says where a resolved mode came from.
type Source string

const (
	SourceStored Source = "stored"
	SourceSystem Source = "system"
)

// Preference reads and writes the theme choice.
type Preference struct {
	kv localstore.Store

	// detect reports whether the terminal background is dark.
	detect func() bool
}

// NewPreference creates a preference backed by kv.
func NewPreference(kv localstore.Store) *Preference {
	return &Preference{kv: kv, detect: termenv.HasDarkBackground}
}

// Current resolves the theme.
func (p *Preference) Current(ctx context.Context) (Mode, Source, error) {
	raw, err := p.kv.Get(ctx, localstore.KeyDarkMode)
	switch {
	case err == nil:
		if dark, perr := strconv.ParseBool(raw); perr == nil {
			return modeOf(dark), SourceStored, nil
		}
	case !errors.Is(err, localstore.ErrNotFound):
		return "", "", errors.Wrap(err, "read theme")
	}
	return modeOf(p.detect()), SourceSystem, nil
}

// IsDark reports whether the resolved theme is dark. Read errors fall back
// to the terminal background.
func (p *Preference) IsDark(ctx context.Context) bool {
	mode, _, err := p.Current(ctx)
	if err != nil {
		return p.detect()
	}
	return mode == Dark
}

// Set stores an explicit choice.
func (p *Preference) Set(ctx context.Context, mode Mode) error {
	return errors.Wrap(p.kv.Set(ctx, localstore.KeyDarkMode, strconv.FormatBool(mode == Dark)), "save theme")
}

// Toggle flips the resolved theme, stores it, and returns the new mode.
func (p *Preference) Toggle(ctx context.Context) (Mode, error) {
	mode, _, err := p.Current(ctx)
	if err != nil {
		return "", err
	}
	next := Dark
	if mode == Dark {
		next = Light
	}
	return next, p.Set(ctx, next)
}

// Reset forgets the explicit choice.
func (p *Preference) Reset(ctx context.Context) error {
	return errors.Wrap(p.kv.Delete(ctx, localstore.KeyDarkMode), "reset theme")
}

func modeOf(dark bool) Mode {
	if dark {
		return Dark
	}
	return Light
}
