// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
)

// Register creates an account. It does not log the user in.
func (c *Client) Register(ctx context.Context, reg Registration) (Result[RegisterData], error) {
	return call[RegisterData](ctx, c, request{
		method: http.MethodPost,
		path:   "/api/auth/register",
		body:   jsonBody(reg),
	}, "registration failed")
}

// Login authenticates and stores the returned tokens and profile.
func (c *Client) Login(ctx context.Context, creds Credentials) (Result[LoginData], error) {
	res, err := call[LoginData](ctx, c, request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   jsonBody(creds),
	}, "login failed")
	if err != nil || !res.Success {
		return res, err
	}

	if err := c.tokens.SetPair(ctx, res.Data.TokenPair); err != nil {
		return res, err
	}
	if err := c.tokens.SetUser(ctx, res.Data.User); err != nil {
		return res, err
	}
	c.logger.Info().Str("user", res.Data.User.Email).Msg("logged in")
	return res, nil
}

// Logout ends the session on the backend. Local tokens are cleared even when
// the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	if c.tokens.IsAuthenticated(ctx) {
		_, err := c.do(ctx, request{
			method:      http.MethodPost,
			path:        "/api/auth/logout",
			auth:        true,
			skipRefresh: true,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("logout request failed")
		}
	}
	return c.tokens.Clear(ctx)
}

// Me returns the profile of the authenticated user and refreshes the cache.
func (c *Client) Me(ctx context.Context) (Result[User], error) {
	res, err := call[User](ctx, c, request{
		method: http.MethodGet,
		path:   "/api/auth/me",
		auth:   true,
	}, "failed to load user")
	if err != nil || !res.Success {
		return res, err
	}
	if err := c.tokens.SetUser(ctx, res.Data); err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache user")
	}
	return res, nil
}

// Refresh exchanges the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) (Result[TokenPair], error) {
	res, err := call[TokenPair](ctx, c, request{
		method: http.MethodPost,
		path:   "/api/auth/refresh",
		body:   jsonBody(map[string]string{"refresh_token": c.tokens.RefreshToken(ctx)}),
	}, "token refresh failed")
	if err != nil || !res.Success {
		return res, err
	}
	return res, c.tokens.SetPair(ctx, res.Data)
}

// ForgotPassword asks the backend to send a reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) (Result[MessageData], error) {
	return call[MessageData](ctx, c, request{
		method: http.MethodPost,
		path:   "/api/auth/forgot-password",
		body:   jsonBody(map[string]string{"email": email}),
	}, "password reset request failed")
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, password, confirm string) (Result[MessageData], error) {
	return call[MessageData](ctx, c, request{
		method: http.MethodPost,
		path:   "/api/auth/reset-password",
		body: jsonBody(map[string]string{
			"token":            token,
			"password":         password,
			"confirm_password": confirm,
		}),
	}, "password reset failed")
}

// ChangePassword changes the password of the authenticated user.
func (c *Client) ChangePassword(ctx context.Context, current, next, confirm string) (Result[MessageData], error) {
	return call[MessageData](ctx, c, request{
		method: http.MethodPost,
		path:   "/api/auth/change-password",
		auth:   true,
		body: jsonBody(map[string]string{
			"current_password": current,
			"new_password":     next,
			"confirm_password": confirm,
		}),
	}, "password change failed")
}
