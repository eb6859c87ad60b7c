// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/finchat/internal/api"
	"github.com/morganforge/finchat/internal/localstore"
)

type backend struct {
	validToken string
	meCalls    atomic.Int32
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/auth/me":
		b.meCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+b.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid token"})
			return
		}
		_ = json.NewEncoder(w).Encode(api.User{ID: "u1", Email: "ann@example.com", Name: "Ann"})
	case "/api/auth/login":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":          api.User{ID: "u1", Email: "ann@example.com", Name: "Ann"},
			"access_token":  b.validToken,
			"refresh_token": "refresh",
		})
	case "/api/auth/refresh":
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid refresh token"})
	case "/api/auth/logout":
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}
}

func newSession(t *testing.T, b *backend, onLogin func()) (*Session, *api.TokenManager) {
	t.Helper()
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)

	tokens := api.NewTokenManager(localstore.NewMemoryStore(), zerolog.Nop())
	client := api.NewClient(api.Options{BaseURL: server.URL, Logger: zerolog.Nop()}, tokens)
	return NewSession(client, onLogin, zerolog.Nop()), tokens
}

func TestInitialize_NoStoredSession(t *testing.T) {
	b := &backend{validToken: "good"}
	s, _ := newSession(t, b, nil)

	require.NoError(t, s.Initialize(context.Background()))
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, int32(0), b.meCalls.Load())
}

func TestInitialize_ValidStoredSession(t *testing.T) {
	b := &backend{validToken: "good"}
	s, tokens := newSession(t, b, nil)
	ctx := context.Background()
	require.NoError(t, tokens.SetPair(ctx, api.TokenPair{AccessToken: "good", RefreshToken: "r"}))
	require.NoError(t, tokens.SetUser(ctx, api.User{ID: "u1"}))

	require.NoError(t, s.Initialize(ctx))
	require.True(t, s.IsAuthenticated())
	assert.Equal(t, "Ann", s.User().Name)
}

func TestInitialize_RejectedSessionIsCleared(t *testing.T) {
	b := &backend{validToken: "good"}
	var prompts atomic.Int32
	s, tokens := newSession(t, b, func() { prompts.Add(1) })
	ctx := context.Background()
	require.NoError(t, tokens.SetPair(ctx, api.TokenPair{AccessToken: "revoked", RefreshToken: "r"}))
	require.NoError(t, tokens.SetUser(ctx, api.User{ID: "u1"}))

	require.NoError(t, s.Initialize(ctx))
	assert.False(t, s.IsAuthenticated())
	assert.False(t, tokens.IsAuthenticated(ctx))
	assert.Nil(t, tokens.User(ctx))
	assert.Equal(t, int32(1), prompts.Load())
}

func TestLoginLogout(t *testing.T) {
	b := &backend{validToken: "good"}
	s, tokens := newSession(t, b, nil)
	ctx := context.Background()

	res, err := s.Login(ctx, api.Credentials{Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "good", tokens.AccessToken(ctx))

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.IsAuthenticated())
	assert.False(t, tokens.IsAuthenticated(ctx))
}

func TestUserReturnsCopy(t *testing.T) {
	b := &backend{validToken: "good"}
	s, _ := newSession(t, b, nil)

	_, err := s.Login(context.Background(), api.Credentials{Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)

	u := s.User()
	u.Name = "changed"
	assert.Equal(t, "Ann", s.User().Name)
}
