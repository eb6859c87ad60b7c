// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// AtomicWriteFile writes data to path so that readers only ever observe the
// previous file or the complete new one.
//
// The data goes to a temp file in the target directory, is fsynced, then
// renamed over the target. Parent directories are created as needed.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolving absolute path")
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating parent directory")
	}

	// Same directory keeps the rename on one filesystem.
	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "writing data")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "syncing data to disk")
	}
	// Windows refuses to rename an open file.
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return errors.Wrap(err, "setting file permissions")
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return errors.Wrap(err, "renaming temp file")
	}

	success = true
	return nil
}
