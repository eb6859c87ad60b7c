// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Timestamp accepts the backend's ISO timestamps, which may omit the zone.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON parses a timestamp string. Null leaves the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "timestamp")
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return errors.Errorf("unrecognised timestamp %q", s)
}

// MarshalJSON writes the timestamp as RFC 3339, or null when unset.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// User is the account profile returned by the backend.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     Timestamp `json:"created_at"`
	LastLoginAt   Timestamp `json:"last_login_at"`
	IsActive      bool      `json:"is_active"`
}

// TokenPair is an access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

// Credentials are the login form fields.
type Credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// Registration are the sign-up form fields.
type Registration struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginData is the successful login payload.
type LoginData struct {
	User User `json:"user"`
	TokenPair
}

// RegisterData is the successful registration payload.
type RegisterData struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// MessageData is the payload of endpoints that only confirm an action.
type MessageData struct {
	Message string `json:"message"`
}

// Document is a file held by the backend document store.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  Timestamp `json:"uploaded_at"`
}
