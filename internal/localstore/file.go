// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package localstore

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/morganforge/finchat/internal/util"
)

// FileStore keeps every key in one JSON object on disk. Each mutation
// rewrites the whole file atomically.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// NewFileStore loads the file at path, starting empty when it is missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}

	s := &FileStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "failed to read state file")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.values); err != nil {
			return nil, errors.Wrapf(err, "failed to parse state file %s", path)
		}
	}
	return s, nil
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode state")
	}
	// RELIABILITY: tokens live here, keep the file private
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write state file")
	}
	return nil
}
