// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/localstore"
)

// TokenManager persists the session tokens and cached profile.
type TokenManager struct {
	kv     localstore.Store
	logger zerolog.Logger
}

// NewTokenManager creates a token manager over kv.
func NewTokenManager(kv localstore.Store, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		kv:     kv,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

func (m *TokenManager) get(ctx context.Context, key string) string {
	v, err := m.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			m.logger.Warn().Err(err).Str("key", key).Msg("failed to read token store")
		}
		return ""
	}
	return v
}

// AccessToken returns the stored access token, or "".
func (m *TokenManager) AccessToken(ctx context.Context) string {
	return m.get(ctx, localstore.KeyAccessToken)
}

// RefreshToken returns the stored refresh token, or "".
func (m *TokenManager) RefreshToken(ctx context.Context) string {
	return m.get(ctx, localstore.KeyRefreshToken)
}

// User returns the cached profile, or nil when none is stored.
func (m *TokenManager) User(ctx context.Context) *User {
	raw := m.get(ctx, localstore.KeyUserInfo)
	if raw == "" {
		return nil
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		m.logger.Warn().Err(err).Msg("discarding unreadable user record")
		return nil
	}
	return &u
}

// IsAuthenticated reports whether an access token is stored.
func (m *TokenManager) IsAuthenticated(ctx context.Context) bool {
	return m.AccessToken(ctx) != ""
}

// SetPair stores a new token pair. An empty refresh token keeps the old one.
func (m *TokenManager) SetPair(ctx context.Context, pair TokenPair) error {
	if err := m.kv.Set(ctx, localstore.KeyAccessToken, pair.AccessToken); err != nil {
		return errors.Wrap(err, "store access token")
	}
	if pair.RefreshToken != "" {
		if err := m.kv.Set(ctx, localstore.KeyRefreshToken, pair.RefreshToken); err != nil {
			return errors.Wrap(err, "store refresh token")
		}
	}
	return nil
}

// SetUser caches the user profile.
func (m *TokenManager) SetUser(ctx context.Context, u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "encode user")
	}
	return errors.Wrap(m.kv.Set(ctx, localstore.KeyUserInfo, string(data)), "store user")
}

// Clear removes the tokens and the cached profile.
func (m *TokenManager) Clear(ctx context.Context) error {
	var firstErr error
	for _, key := range []string{localstore.KeyAccessToken, localstore.KeyRefreshToken, localstore.KeyUserInfo} {
		if err := m.kv.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "delete %s", key)
		}
	}
	return firstErr
}
