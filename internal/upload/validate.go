// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxSize is the largest file accepted for upload.
const DefaultMaxSize int64 = 20 * 1024 * 1024

// DefaultExtensions are the document types the backend accepts.
var DefaultExtensions = []string{".pdf", ".docx", ".xlsx", ".xls"}

var (
	// ErrUploadRejected is the root of every local validation failure.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrUnsupportedType means the file extension is not allowed.
	ErrUnsupportedType = errors.WithMessage(ErrUploadRejected, "unsupported file type")

	// ErrFileTooLarge means the file exceeds the size limit.
	ErrFileTooLarge = errors.WithMessage(ErrUploadRejected, "file too large")
)

// Validator checks files before they are queued.
type Validator struct {
	MaxSize    int64
	Extensions []string
}

// NewValidator returns a validator with the given limits. Zero values fall
// back to the defaults.
func NewValidator(maxSize int64, extensions []string) Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	norm := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		norm = append(norm, ext)
	}
	return Validator{MaxSize: maxSize, Extensions: norm}
}

// Validate returns nil when name and size are acceptable. Extensions are
// compared case-insensitively.
func (v Validator) Validate(name string, size int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range v.Extensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrUnsupportedType, "%s (allowed: %s)", name, strings.Join(v.Extensions, ", "))
	}
	if size > v.MaxSize {
		return errors.Wrapf(ErrFileTooLarge, "%s is %d MB (max %d MB)", name, size>>20, v.MaxSize>>20)
	}
	return nil
}
