// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package localstore provides durable key/value storage for client state.
//
// It plays the role browser local storage plays for a web client: a small
// set of well-known keys holding serialized values (the conversation list,
// the theme preference, auth tokens). Two backends are available: a SQLite
// database and a single JSON file written atomically.
package localstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// WELL-KNOWN KEYS
// =============================================================================

const (
	KeyConversations = "chatConversations"
	KeyDarkMode      = "darkMode"
	KeyAccessToken   = "bocai_access_token"
	KeyRefreshToken  = "bocai_refresh_token"
	KeyUserInfo      = "bocai_user_info"

	// KeyCurrentConversation remembers the selection between runs.
	KeyCurrentConversation = "finchat_current_conversation"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("key not found")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a durable string key/value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Open creates a store for the named backend rooted at path.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendSQLite, "":
		return NewSQLiteStore(path)
	case BackendFile:
		return NewFileStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
	}
}
