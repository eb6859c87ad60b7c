// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth holds the signed-in state of the client.
//
// A Session wraps the REST client: it verifies stored credentials at
// startup, tracks the current user, and turns an expired session into a
// request to show the login view.
package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/api"
)

// Session is the authentication state of the application.
type Session struct {
	client *api.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	user     *api.User
	lastErr  string
	required func()
}

// NewSession creates a session bound to client. loginRequired runs whenever
// the session expires and the user has to sign in again; it may be nil.
func NewSession(client *api.Client, loginRequired func(), logger zerolog.Logger) *Session {
	s := &Session{
		client:   client,
		logger:   logger.With().Str("component", "auth").Logger(),
		required: loginRequired,
	}
	client.SetAuthExpiredHandler(s.expired)
	return s
}

// Initialize restores the session from stored credentials. Stored tokens
// are verified against the backend and cleared when they are rejected.
func (s *Session) Initialize(ctx context.Context) error {
	tokens := s.client.Tokens()
	if !tokens.IsAuthenticated(ctx) || tokens.User(ctx) == nil {
		s.setUser(nil)
		return nil
	}

	res, err := s.client.Me(ctx)
	if err != nil || !res.Success {
		if err != nil {
			s.logger.Warn().Err(err).Msg("could not verify stored session")
		} else {
			s.logger.Info().Str("reason", res.Error).Msg("stored session rejected")
		}
		s.setUser(nil)
		return tokens.Clear(ctx)
	}

	s.setUser(&res.Data)
	return nil
}

// Login signs in and records the user on success.
func (s *Session) Login(ctx context.Context, creds api.Credentials) (api.Result[api.LoginData], error) {
	res, err := s.client.Login(ctx, creds)
	s.record(res.Error, err)
	if err == nil && res.Success {
		s.setUser(&res.Data.User)
	}
	return res, err
}

// Register creates an account without signing in.
func (s *Session) Register(ctx context.Context, reg api.Registration) (api.Result[api.RegisterData], error) {
	res, err := s.client.Register(ctx, reg)
	s.record(res.Error, err)
	return res, err
}

// Logout signs out. The local state is cleared whatever the backend says.
func (s *Session) Logout(ctx context.Context) error {
	err := s.client.Logout(ctx)
	s.setUser(nil)
	s.record("", nil)
	return err
}

// RefreshUser reloads the profile from the backend.
func (s *Session) RefreshUser(ctx context.Context) (api.Result[api.User], error) {
	res, err := s.client.Me(ctx)
	if err == nil && res.Success {
		s.setUser(&res.Data)
	}
	return res, err
}

// User returns a copy of the signed-in user, or nil.
func (s *Session) User() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAuthenticated reports whether a user is signed in.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// LastError returns the message of the last failed sign-in or registration.
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) setUser(u *api.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) record(resultErr string, err error) {
	msg := resultErr
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Session) expired() {
	s.setUser(nil)
	s.logger.Info().Msg("login required")
	if s.required != nil {
		s.required()
	}
}
